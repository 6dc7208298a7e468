package services

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"learnhub_payments/internal/models"
)

// RenderPayoutReceipt builds the PDF receipt of a completed payout
func RenderPayoutReceipt(p *models.PayoutRequest, allocs []models.PayoutAllocation) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Payout receipt "+p.ID.String(), true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Payout Receipt")
	pdf.Ln(14)

	pdf.SetFont("Arial", "", 11)
	line := func(label, value string) {
		pdf.CellFormat(50, 8, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 8, value, "", 1, "L", false, 0, "")
	}
	line("Payout ID", p.ID.String())
	line("Teacher", p.TeacherID)
	line("Beneficiary", p.PaymentDetails.AccountHolder)
	line("Method", string(p.PaymentMethod))
	switch p.PaymentMethod {
	case models.PayoutMethodUPI:
		line("UPI ID", p.PaymentDetails.UPIID)
	default:
		line("Account", maskAccount(p.PaymentDetails.AccountNumber))
	}
	line("Amount", fmt.Sprintf("%s %s", p.Currency, p.Amount.StringFixed(2)))
	line("Transaction", p.TransactionID)
	if p.CompletedAt != nil {
		line("Completed", p.CompletedAt.Format("2006-01-02 15:04 MST"))
	}

	if len(allocs) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(120, 8, "Revenue entry", "B", 0, "L", false, 0, "")
		pdf.CellFormat(40, 8, "Amount", "B", 1, "R", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		for _, a := range allocs {
			pdf.CellFormat(120, 7, a.RevenueEntryID.String(), "", 0, "L", false, 0, "")
			pdf.CellFormat(40, 7, a.Amount.StringFixed(2), "", 1, "R", false, 0, "")
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("error generating payout receipt PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func maskAccount(number string) string {
	if len(number) <= 4 {
		return number
	}
	masked := make([]byte, len(number))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(number)-4:], number[len(number)-4:])
	return string(masked)
}
