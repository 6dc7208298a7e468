package services

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const statementSheet = "Revenue"

var statementHeaders = []string{"Created", "Payment ID", "Amount", "Platform share", "Teacher share", "Source", "Status", "Paid at"}

// WriteRevenueStatement renders a report as an xlsx workbook with a totals row
func WriteRevenueStatement(w io.Writer, r *RevenueReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", statementSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	for i, header := range statementHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(statementSheet, cell, header)
	}
	f.SetRowStyle(statementSheet, 1, 1, bold)

	for i, e := range r.Entries {
		row := i + 2
		f.SetCellValue(statementSheet, fmt.Sprintf("A%d", row), e.CreatedAt.Format("2006-01-02 15:04"))
		f.SetCellValue(statementSheet, fmt.Sprintf("B%d", row), e.PaymentID.String())
		f.SetCellValue(statementSheet, fmt.Sprintf("C%d", row), cellAmount(e.Amount))
		f.SetCellValue(statementSheet, fmt.Sprintf("D%d", row), cellAmount(e.PlatformShare))
		f.SetCellValue(statementSheet, fmt.Sprintf("E%d", row), cellAmount(e.TeacherShare))
		f.SetCellValue(statementSheet, fmt.Sprintf("F%d", row), string(e.Source))
		f.SetCellValue(statementSheet, fmt.Sprintf("G%d", row), string(e.Status))
		if e.PaidAt != nil {
			f.SetCellValue(statementSheet, fmt.Sprintf("H%d", row), e.PaidAt.Format("2006-01-02 15:04"))
		}
	}

	total := len(r.Entries) + 2
	f.SetCellValue(statementSheet, fmt.Sprintf("A%d", total), "Total")
	f.SetCellValue(statementSheet, fmt.Sprintf("C%d", total), cellAmount(r.TotalAmount))
	f.SetCellValue(statementSheet, fmt.Sprintf("D%d", total), cellAmount(r.PlatformShare))
	f.SetCellValue(statementSheet, fmt.Sprintf("E%d", total), cellAmount(r.TeacherShare))
	f.SetRowStyle(statementSheet, total, total, bold)
	f.SetCellStyle(statementSheet, "C2", fmt.Sprintf("E%d", total), money)
	f.SetColWidth(statementSheet, "A", "B", 20)
	f.SetColWidth(statementSheet, "B", "B", 38)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// cellAmount is only for display; the ledger itself stays in decimal
func cellAmount(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
