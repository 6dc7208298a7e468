package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/config"
	"learnhub_payments/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSplit_PlatformSource(t *testing.T) {
	calc := NewCommissionCalculator(config.DefaultPolicy())

	split, err := calc.Split(dec("1000"), models.PaymentSourcePlatform)
	require.NoError(t, err)
	assert.Equal(t, "400.00", split.PlatformFee.StringFixed(2))
	assert.Equal(t, "600.00", split.TeacherEarnings.StringFixed(2))
	assert.True(t, split.CommissionRate.Equal(dec("0.4")))
}

func TestSplit_TeacherSource(t *testing.T) {
	calc := NewCommissionCalculator(config.DefaultPolicy())

	split, err := calc.Split(dec("1000"), models.PaymentSourceTeacher)
	require.NoError(t, err)
	assert.True(t, split.PlatformFee.Equal(dec("600.00")))
	assert.True(t, split.TeacherEarnings.Equal(dec("400.00")))
}

func TestSplit_SumIsExact(t *testing.T) {
	calc := NewCommissionCalculator(config.DefaultPolicy())

	for _, a := range []string{"0.01", "0.05", "333.33", "999.99", "1234.57", "10000.01"} {
		for _, src := range []models.PaymentSource{models.PaymentSourcePlatform, models.PaymentSourceTeacher} {
			amount := dec(a)
			split, err := calc.Split(amount, src)
			require.NoError(t, err)
			assert.True(t, split.PlatformFee.Add(split.TeacherEarnings).Equal(amount), "%s %s", a, src)
			assert.LessOrEqual(t, -split.PlatformFee.Exponent(), int32(2))
		}
	}
}

func TestSplit_UsesConfiguredPolicy(t *testing.T) {
	policy := config.DefaultPolicy()
	policy.PlatformSourceCommission = dec("0.25")
	calc := NewCommissionCalculator(policy)

	split, err := calc.Split(dec("200"), models.PaymentSourcePlatform)
	require.NoError(t, err)
	assert.True(t, split.PlatformFee.Equal(dec("50")))
}

func TestSplit_RejectsBadInput(t *testing.T) {
	calc := NewCommissionCalculator(config.DefaultPolicy())

	_, err := calc.Split(decimal.Zero, models.PaymentSourcePlatform)
	assert.True(t, apperrors.Is(err, apperrors.InvalidAmount))

	_, err = calc.Split(dec("10"), models.PaymentSource("affiliate"))
	assert.True(t, apperrors.Is(err, apperrors.Validation))
}
