package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository"
)

func TestCreateOrder_SplitsAndOpensGatewayOrder(t *testing.T) {
	h := newHarness(t)

	order, err := h.Payments.CreateOrder(context.Background(), orderInput("1000", models.PaymentSourcePlatform))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCreated, order.Status)
	assert.Equal(t, "400.00", order.PlatformFee.StringFixed(2))
	assert.Equal(t, "600.00", order.TeacherEarnings.StringFixed(2))
	assert.Equal(t, "INR", order.Currency)
	require.NotNil(t, order.GatewayOrderID)
	assert.Equal(t, "gw-"+order.ID.String()+"-0", *order.GatewayOrderID)
	assert.NotEmpty(t, order.PaymentLink)

	stored, err := h.store.GetPayment(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, *order.GatewayOrderID, *stored.GatewayOrderID)
}

func TestCreateOrder_TeacherSource(t *testing.T) {
	h := newHarness(t)

	order, err := h.Payments.CreateOrder(context.Background(), orderInput("1000", models.PaymentSourceTeacher))
	require.NoError(t, err)
	assert.Equal(t, "600.00", order.PlatformFee.StringFixed(2))
	assert.Equal(t, "400.00", order.TeacherEarnings.StringFixed(2))
}

func TestCreateOrder_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := orderInput("0", models.PaymentSourcePlatform)
	_, err := h.Payments.CreateOrder(ctx, in)
	assert.Equal(t, apperrors.InvalidAmount, apperrors.KindOf(err))

	in = orderInput("900", models.PaymentSourcePlatform)
	in.OriginalAmount = dec("1000")
	in.DiscountAmount = dec("50")
	_, err = h.Payments.CreateOrder(ctx, in)
	assert.Equal(t, apperrors.Validation, apperrors.KindOf(err))

	in = orderInput("10.005", models.PaymentSourcePlatform)
	_, err = h.Payments.CreateOrder(ctx, in)
	assert.Equal(t, apperrors.Validation, apperrors.KindOf(err))

	in = orderInput("100", "affiliate")
	_, err = h.Payments.CreateOrder(ctx, in)
	assert.Equal(t, apperrors.Validation, apperrors.KindOf(err))

	in = orderInput("100", models.PaymentSourcePlatform)
	in.BatchID = ""
	_, err = h.Payments.CreateOrder(ctx, in)
	assert.Equal(t, apperrors.Validation, apperrors.KindOf(err))
}

func TestCreateOrder_DiscountDerivesOriginal(t *testing.T) {
	h := newHarness(t)

	in := orderInput("900", models.PaymentSourcePlatform)
	in.DiscountAmount = dec("100")
	order, err := h.Payments.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", order.OriginalAmount.StringFixed(2))
	assert.Equal(t, "360.00", order.PlatformFee.StringFixed(2))
}

func TestCreateOrder_GatewayFailureThenRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.err = errGatewayDown

	order, err := h.Payments.CreateOrder(ctx, orderInput("1000", models.PaymentSourcePlatform))
	require.Error(t, err)
	assert.Equal(t, apperrors.GatewayFailure, apperrors.KindOf(err))
	require.NotNil(t, order)
	assert.Equal(t, models.PaymentStatusFailed, order.Status)
	assert.Equal(t, "gateway_order_failed", order.FailureReason)

	h.gateway.err = nil
	retried, err := h.Payments.Retry(ctx, order.ID, "student@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCreated, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Empty(t, retried.FailureReason)
	require.NotNil(t, retried.GatewayOrderID)
	assert.Equal(t, "gw-"+order.ID.String()+"-1", *retried.GatewayOrderID)
}

func TestRetry_GatewayFailureInvalidatesCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.err = errGatewayDown

	order, err := h.Payments.CreateOrder(ctx, orderInput("1000", models.PaymentSourcePlatform))
	require.Error(t, err)
	got, err := h.Payments.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RetryCount)

	_, err = h.Payments.Retry(ctx, order.ID, "")
	assert.Equal(t, apperrors.GatewayFailure, apperrors.KindOf(err))
	assert.NotContains(t, h.cache.data, paymentCacheKey(order.ID))

	got, err = h.Payments.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestRetry_LimitExceeded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.err = errGatewayDown

	order, _ := h.Payments.CreateOrder(ctx, orderInput("1000", models.PaymentSourcePlatform))
	require.NotNil(t, order)
	for i := 0; i < 3; i++ {
		_, err := h.Payments.Retry(ctx, order.ID, "")
		assert.Equal(t, apperrors.GatewayFailure, apperrors.KindOf(err))
	}
	_, err := h.Payments.Retry(ctx, order.ID, "")
	assert.Equal(t, apperrors.RetryLimitExceeded, apperrors.KindOf(err))
}

func TestRetry_OnlyFromFailedOrCancelled(t *testing.T) {
	h := newHarness(t)
	order, err := h.Payments.CreateOrder(context.Background(), orderInput("1000", models.PaymentSourcePlatform))
	require.NoError(t, err)

	_, err = h.Payments.Retry(context.Background(), order.ID, "")
	assert.Equal(t, apperrors.InvalidState, apperrors.KindOf(err))
}

func TestMarkPaid_RecordsLedgerOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, err := h.Payments.CreateOrder(ctx, orderInput("1000", models.PaymentSourcePlatform))
	require.NoError(t, err)

	paid, err := h.Payments.MarkPaid(ctx, order.ID, "pay-1", "", "card")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	again, err := h.Payments.MarkPaid(ctx, order.ID, "pay-1", "", "card")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, again.Status)

	entries, err := h.store.ListRevenueEntries(ctx, repository.RevenueFilter{TeacherID: "teacher-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, models.RevenueStatusPending, e.Status)
	assert.Equal(t, "600.00", e.TeacherShare.StringFixed(2))
	assert.True(t, e.PlatformShare.Add(e.TeacherShare).Equal(e.Amount))

	b, err := h.store.GetBalance(ctx, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, "600.00", b.TotalEarnings.StringFixed(2))
	assert.Equal(t, "600.00", b.AvailableForPayout.StringFixed(2))

	assert.Equal(t, []string{"student-1/batch-1"}, h.enroller.calls)
	assert.Equal(t, []string{EventPaymentPaid}, h.events.types())
}

func TestMarkPaid_RejectsClosedOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, err := h.Payments.CreateOrder(ctx, orderInput("1000", models.PaymentSourcePlatform))
	require.NoError(t, err)

	_, err = h.Payments.MarkFailed(ctx, order.ID, "card declined")
	require.NoError(t, err)

	_, err = h.Payments.MarkPaid(ctx, order.ID, "pay-1", "", "")
	assert.Equal(t, apperrors.InvalidState, apperrors.KindOf(err))
	_, err = h.Payments.Cancel(ctx, order.ID, "abandoned")
	assert.Equal(t, apperrors.InvalidState, apperrors.KindOf(err))

	entries, err := h.store.ListRevenueEntries(ctx, repository.RevenueFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMarkPaid_LedgerFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, err := h.Payments.CreateOrder(ctx, orderInput("1000", models.PaymentSourcePlatform))
	require.NoError(t, err)

	h.store.Fail("IncrementBalance", apperrors.E(apperrors.Internal, "db down"))
	_, err = h.Payments.MarkPaid(ctx, order.ID, "pay-1", "", "")
	require.Error(t, err)

	stored, err := h.store.GetPayment(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCreated, stored.Status)
	entries, _ := h.store.ListRevenueEntries(ctx, repository.RevenueFilter{})
	assert.Empty(t, entries)
	assert.Empty(t, h.enroller.calls)
}

func TestMarkPaid_EnrollmentFailureSchedulesRetry(t *testing.T) {
	h := newHarness(t)
	h.enroller.err = errGatewayDown

	order := h.paidOrder(t, "1000")
	assert.Equal(t, models.PaymentStatusPaid, order.Status)
	require.Len(t, h.scheduler.calls, 1)
	assert.Equal(t, TaskRetryEnrollment, h.scheduler.calls[0].name)
	assert.True(t, h.scheduler.calls[0].due.After(h.now))
}

func TestVerify_ChecksSignature(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, err := h.Payments.CreateOrder(ctx, orderInput("1000", models.PaymentSourcePlatform))
	require.NoError(t, err)

	_, err = h.Payments.Verify(ctx, order.ID, "pay-1", "deadbeef", "")
	assert.Equal(t, apperrors.SignatureInvalid, apperrors.KindOf(err))

	sig := h.signer.PaymentSignature(*order.GatewayOrderID, "pay-1")
	paid, err := h.Payments.Verify(ctx, order.ID, "pay-1", sig, "upi")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, paid.Status)
	require.NotNil(t, paid.GatewaySignature)
	assert.Equal(t, sig, *paid.GatewaySignature)
	assert.Equal(t, "upi", paid.PaymentMethod)
}

func TestGet_CachesUntilTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, err := h.Payments.CreateOrder(ctx, orderInput("1000", models.PaymentSourcePlatform))
	require.NoError(t, err)

	got, err := h.Payments.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCreated, got.Status)
	assert.Contains(t, h.cache.data, paymentCacheKey(order.ID))

	_, err = h.Payments.MarkPaid(ctx, order.ID, "pay-1", "", "")
	require.NoError(t, err)
	assert.NotContains(t, h.cache.data, paymentCacheKey(order.ID))

	got, err = h.Payments.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, got.Status)
}

func TestRefund_PartialThenFull(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.paidOrder(t, "1000")

	res, err := h.Payments.Refund(ctx, order.ID, dec("200"), "partial", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPartialRefund, res.Order.Status)
	assert.Equal(t, "400.00", res.Balance.AvailableForPayout.StringFixed(2))
	assert.False(t, res.NegativeBalance)

	_, err = h.Payments.Refund(ctx, order.ID, dec("800.01"), "too much", "admin-1")
	assert.Equal(t, apperrors.InvalidAmount, apperrors.KindOf(err))

	res, err = h.Payments.Refund(ctx, order.ID, dec("800"), "rest", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, res.Order.Status)
	assert.Equal(t, "1000.00", res.Order.RefundAmount.StringFixed(2))
	assert.Equal(t, "-400.00", res.Balance.AvailableForPayout.StringFixed(2))
	assert.True(t, res.NegativeBalance)

	_, err = h.Payments.Refund(ctx, order.ID, dec("1"), "again", "admin-1")
	assert.Equal(t, apperrors.InvalidState, apperrors.KindOf(err))
}

func TestRefund_RequiresPaidOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, err := h.Payments.CreateOrder(ctx, orderInput("1000", models.PaymentSourcePlatform))
	require.NoError(t, err)

	_, err = h.Payments.Refund(ctx, order.ID, dec("100"), "nope", "admin-1")
	assert.Equal(t, apperrors.InvalidState, apperrors.KindOf(err))

	_, err = h.Payments.Refund(ctx, order.ID, dec("-1"), "nope", "admin-1")
	assert.Equal(t, apperrors.InvalidAmount, apperrors.KindOf(err))
}
