package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/models"
)

func TestSnapRequest(t *testing.T) {
	r, err := snapRequest(CreateOrderRequest{Reference: "pay-1-0", Amount: dec("1500.00"), PayerEmail: "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, "pay-1-0", r.TransactionDetails.OrderID)
	assert.Equal(t, int64(1500), r.TransactionDetails.GrossAmt)
	require.NotNil(t, r.CustomerDetail)
	assert.Equal(t, "a@b.c", r.CustomerDetail.Email)
}

func TestSnapRequest_RejectsFractionalAmount(t *testing.T) {
	for _, amount := range []string{"1500.50", "0.40", "99.99"} {
		_, err := snapRequest(CreateOrderRequest{Reference: "pay-1-0", Amount: dec(amount)})
		assert.Equal(t, apperrors.InvalidAmount, apperrors.KindOf(err), amount)
	}

	var s MidtransService
	_, err := s.CreateOrder(context.Background(), CreateOrderRequest{Reference: "pay-1-0", Amount: dec("1500.50")})
	assert.Equal(t, apperrors.InvalidAmount, apperrors.KindOf(err))
}

func TestIrisPayout(t *testing.T) {
	req := irisPayout(PayoutTransfer{
		Amount: dec("2500"),
		Method: models.PayoutMethodBankTransfer,
		Beneficiary: models.PaymentDetails{
			AccountHolder: "Asha Rao",
			AccountNumber: "1234567890",
			BankCode:      "BCA",
		},
		Notes: "payout",
	})
	require.Len(t, req.Payouts, 1)
	assert.Equal(t, "2500.00", req.Payouts[0].Amount)
	assert.Equal(t, "bca", req.Payouts[0].BeneficiaryBank)

	upi := irisPayout(PayoutTransfer{
		Amount:      dec("1000"),
		Method:      models.PayoutMethodUPI,
		Beneficiary: models.PaymentDetails{AccountHolder: "Asha Rao", UPIID: "asha@upi"},
	})
	assert.Equal(t, "asha@upi", upi.Payouts[0].BeneficiaryAccount)
}

func TestIrisResult(t *testing.T) {
	res, err := irisResult("queued", "ref-1")
	require.NoError(t, err)
	assert.False(t, res.Final)

	res, err = irisResult("completed", "ref-2")
	require.NoError(t, err)
	assert.True(t, res.Final)
	assert.Equal(t, "ref-2", res.TransactionID)

	_, err = irisResult("failed", "ref-3")
	assert.True(t, apperrors.Is(err, apperrors.GatewayFailure))
}

func TestRazorpayOrderData(t *testing.T) {
	data := razorpayOrderData(CreateOrderRequest{Reference: "r1", Amount: dec("999.99"), Currency: "INR", PayerRef: "s1"})
	assert.Equal(t, int64(99999), data["amount"])
	assert.Equal(t, "INR", data["currency"])
	assert.Equal(t, "r1", data["receipt"])
}
