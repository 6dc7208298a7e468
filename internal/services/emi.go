package services

import (
	"time"

	"github.com/shopspring/decimal"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/models"
)

const (
	MinInstallments = 2
	MaxInstallments = 24
)

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// CalculateEMI returns the fixed installment for principal at an annual
// percentage rate over n periods, using the reducing-balance annuity formula
// with a monthly rate.
func CalculateEMI(principal, annualRatePct decimal.Decimal, n int) (decimal.Decimal, error) {
	if n < MinInstallments || n > MaxInstallments {
		return decimal.Zero, apperrors.Errorf(apperrors.Validation, "number of installments must be between %d and %d", MinInstallments, MaxInstallments)
	}
	if !principal.IsPositive() {
		return decimal.Zero, apperrors.E(apperrors.InvalidAmount, "principal must be greater than 0")
	}
	if annualRatePct.IsNegative() {
		return decimal.Zero, apperrors.E(apperrors.Validation, "interest rate cannot be negative")
	}

	r := annualRatePct.Div(hundred).Div(twelve)
	if r.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(n))).Round(2), nil
	}

	growth := decimal.NewFromInt(1)
	base := r.Add(decimal.NewFromInt(1))
	for i := 0; i < n; i++ {
		growth = growth.Mul(base)
	}

	emi := principal.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1)))
	return emi.Round(2), nil
}

// DueDate is the due date of the installment at zero-based index i
func DueDate(start time.Time, i int, freq models.InstallmentFrequency) time.Time {
	switch freq {
	case models.FrequencyWeekly:
		return start.AddDate(0, 0, 7*i)
	case models.FrequencyBiweekly:
		return start.AddDate(0, 0, 14*i)
	default:
		return start.AddDate(0, i, 0)
	}
}

// GenerateSchedule builds n pending installments of emi each
func GenerateSchedule(start time.Time, n int, freq models.InstallmentFrequency, emi decimal.Decimal) []models.Installment {
	out := make([]models.Installment, n)
	for i := 0; i < n; i++ {
		out[i] = models.Installment{
			Number:  i + 1,
			Amount:  emi,
			DueDate: DueDate(start, i, freq),
			Status:  models.InstallmentStatusPending,
		}
	}
	return out
}
