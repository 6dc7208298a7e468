package services

import (
	"github.com/shopspring/decimal"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/config"
	"learnhub_payments/internal/models"
)

// RevenueSplit is the platform/teacher division of one payment amount
type RevenueSplit struct {
	CommissionRate  decimal.Decimal
	PlatformFee     decimal.Decimal
	TeacherEarnings decimal.Decimal
}

// CommissionCalculator applies the commission policy it was built with.
// The split is computed once per order and stored on it.
type CommissionCalculator struct {
	platformSourceRate decimal.Decimal
	teacherSourceRate  decimal.Decimal
}

func NewCommissionCalculator(policy config.Policy) *CommissionCalculator {
	return &CommissionCalculator{
		platformSourceRate: policy.PlatformSourceCommission,
		teacherSourceRate:  policy.TeacherSourceCommission,
	}
}

// Split returns the platform fee rounded to 2dp and the teacher earnings as
// the exact remainder, so fee + earnings == amount.
func (c *CommissionCalculator) Split(amount decimal.Decimal, source models.PaymentSource) (RevenueSplit, error) {
	if !amount.IsPositive() {
		return RevenueSplit{}, apperrors.E(apperrors.InvalidAmount, "amount must be greater than 0")
	}

	var rate decimal.Decimal
	switch source {
	case models.PaymentSourcePlatform:
		rate = c.platformSourceRate
	case models.PaymentSourceTeacher:
		rate = c.teacherSourceRate
	default:
		return RevenueSplit{}, apperrors.Errorf(apperrors.Validation, "unknown payment source %q", source)
	}

	fee := amount.Mul(rate).Round(2)
	return RevenueSplit{
		CommissionRate:  rate,
		PlatformFee:     fee,
		TeacherEarnings: amount.Sub(fee),
	}, nil
}
