package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/config"
	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository"
)

var planStart = time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)

func planInput(total string, n int, freq models.InstallmentFrequency, rate string) CreatePlanInput {
	return CreatePlanInput{
		EnrollmentID:         "enr-1",
		StudentID:            "student-1",
		StudentEmail:         "student@example.com",
		TeacherID:            "teacher-1",
		BatchID:              "batch-1",
		Source:               models.PaymentSourcePlatform,
		TotalAmount:          dec(total),
		NumberOfInstallments: n,
		Frequency:            freq,
		InterestRate:         dec(rate),
		StartDate:            planStart,
	}
}

func sumInstallments(plan *models.InstallmentPlan) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range plan.Installments {
		total = total.Add(inst.Amount)
	}
	return total
}

func TestBuildPlan_ZeroInterestMonthly(t *testing.T) {
	plan, err := BuildPlan(planInput("12000", 12, models.FrequencyMonthly, "0"), config.DefaultPolicy(), planStart)
	require.NoError(t, err)

	require.Len(t, plan.Installments, 12)
	for i, inst := range plan.Installments {
		assert.Equal(t, i+1, inst.Number)
		assert.Equal(t, "1000.00", inst.Amount.StringFixed(2))
		assert.Equal(t, models.InstallmentStatusPending, inst.Status)
		assert.Equal(t, planStart.AddDate(0, i, 0), inst.DueDate)
		assert.Equal(t, plan.ID, inst.PlanID)
	}
	assert.Equal(t, "12000.00", plan.RemainingAmount.StringFixed(2))
	assert.True(t, plan.InterestAmount.IsZero())
	assert.Equal(t, planStart.AddDate(0, 11, 0), plan.EndDate)
	assert.Equal(t, models.PlanStatusActive, plan.Status)
	assert.Equal(t, 3, plan.GracePeriodDays)
	assert.Equal(t, "12000.00", plan.TotalOutstanding.StringFixed(2))
	require.NotNil(t, plan.NextDueDate)
	assert.Equal(t, planStart, *plan.NextDueDate)
}

func TestBuildPlan_LastInstallmentAbsorbsRemainder(t *testing.T) {
	plan, err := BuildPlan(planInput("1000", 3, models.FrequencyWeekly, "0"), config.DefaultPolicy(), planStart)
	require.NoError(t, err)

	assert.Equal(t, "333.33", plan.Installments[0].Amount.StringFixed(2))
	assert.Equal(t, "333.33", plan.Installments[1].Amount.StringFixed(2))
	assert.Equal(t, "333.34", plan.Installments[2].Amount.StringFixed(2))
	assert.True(t, sumInstallments(plan).Equal(dec("1000")))
}

func TestBuildPlan_WithInterest(t *testing.T) {
	in := planInput("12000", 6, models.FrequencyMonthly, "12")
	in.DownPayment = dec("2000")
	plan, err := BuildPlan(in, config.DefaultPolicy(), planStart)
	require.NoError(t, err)

	emi, err := CalculateEMI(dec("10000"), dec("12"), 6)
	require.NoError(t, err)
	assert.True(t, plan.InstallmentAmount.Equal(emi))
	assert.True(t, sumInstallments(plan).Equal(plan.RemainingAmount))
	assert.True(t, plan.InterestAmount.IsPositive())
	assert.True(t, plan.RemainingAmount.Sub(plan.InterestAmount).Equal(dec("10000")))
}

func TestBuildPlan_Validation(t *testing.T) {
	policy := config.DefaultPolicy()

	_, err := BuildPlan(planInput("12000", 1, models.FrequencyMonthly, "0"), policy, planStart)
	assert.Equal(t, apperrors.Validation, apperrors.KindOf(err))

	_, err = BuildPlan(planInput("12000", 25, models.FrequencyMonthly, "0"), policy, planStart)
	assert.Equal(t, apperrors.Validation, apperrors.KindOf(err))

	_, err = BuildPlan(planInput("12000", 12, "daily", "0"), policy, planStart)
	assert.Equal(t, apperrors.Validation, apperrors.KindOf(err))

	in := planInput("12000", 12, models.FrequencyMonthly, "0")
	in.DownPayment = dec("12000")
	_, err = BuildPlan(in, policy, planStart)
	assert.Equal(t, apperrors.InvalidAmount, apperrors.KindOf(err))

	in = planInput("12000", 12, models.FrequencyMonthly, "0")
	in.EnrollmentID = ""
	_, err = BuildPlan(in, policy, planStart)
	assert.Equal(t, apperrors.Validation, apperrors.KindOf(err))
}

func TestBuildPlan_RejectsAmountTooSmallToSplit(t *testing.T) {
	policy := config.DefaultPolicy()

	for _, total := range []string{"0.13", "0.05", "0.23"} {
		_, err := BuildPlan(planInput(total, 24, models.FrequencyMonthly, "0"), policy, planStart)
		assert.Equal(t, apperrors.Validation, apperrors.KindOf(err), total)
	}

	plan, err := BuildPlan(planInput("0.24", 24, models.FrequencyMonthly, "0"), policy, planStart)
	require.NoError(t, err)
	for _, inst := range plan.Installments {
		assert.Equal(t, "0.01", inst.Amount.StringFixed(2))
	}
}

func TestCreatePlan_OpensDownPaymentOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := planInput("12000", 10, models.FrequencyMonthly, "0")
	in.DownPayment = dec("2000")

	res, err := h.Installments.CreatePlan(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, res.DownPaymentOrder)
	down := res.DownPaymentOrder
	assert.Equal(t, "2000.00", down.Amount.StringFixed(2))
	require.NotNil(t, down.InstallmentPlanID)
	assert.Equal(t, res.Plan.ID, *down.InstallmentPlanID)
	assert.Nil(t, down.InstallmentNumber)
	require.NotNil(t, down.GatewayOrderID)

	_, err = h.Payments.MarkPaid(ctx, down.ID, "pay-down", "", "")
	require.NoError(t, err)

	plan, err := h.Installments.GetPlan(ctx, res.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, plan.PaidInstallments)
	assert.Len(t, plan.Installments, 10)
	assert.Equal(t, "1000.00", plan.Installments[0].Amount.StringFixed(2))

	b, err := h.store.GetBalance(ctx, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, "1200.00", b.TotalEarnings.StringFixed(2))
}

func TestCreatePlan_DownPaymentGatewayFailureKeepsPlan(t *testing.T) {
	h := newHarness(t)
	h.gateway.err = errGatewayDown
	in := planInput("12000", 10, models.FrequencyMonthly, "0")
	in.DownPayment = dec("2000")

	res, err := h.Installments.CreatePlan(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, res.DownPaymentOrder)
	assert.Equal(t, models.PaymentStatusFailed, res.DownPaymentOrder.Status)

	_, err = h.Installments.GetPlan(context.Background(), res.Plan.ID)
	assert.NoError(t, err)
}

func TestPayInstallment_SettlesThroughPaymentOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.Installments.CreatePlan(ctx, planInput("12000", 12, models.FrequencyMonthly, "0"))
	require.NoError(t, err)
	planID := res.Plan.ID

	order, err := h.Installments.PayInstallment(ctx, planID, 1, "student@example.com")
	require.NoError(t, err)
	assert.Equal(t, "1000.00", order.Amount.StringFixed(2))
	require.NotNil(t, order.InstallmentNumber)
	assert.Equal(t, 1, *order.InstallmentNumber)

	reused, err := h.Installments.PayInstallment(ctx, planID, 1, "student@example.com")
	require.NoError(t, err)
	assert.Equal(t, order.ID, reused.ID)

	_, err = h.Payments.MarkPaid(ctx, order.ID, "pay-inst-1", "", "card")
	require.NoError(t, err)

	plan, err := h.Installments.GetPlan(ctx, planID)
	require.NoError(t, err)
	inst := plan.Installment(1)
	assert.Equal(t, models.InstallmentStatusPaid, inst.Status)
	assert.Equal(t, "pay-inst-1", inst.TransactionID)
	require.NotNil(t, inst.PaymentOrderID)
	assert.Equal(t, order.ID, *inst.PaymentOrderID)
	assert.Equal(t, 1, plan.PaidInstallments)
	assert.Equal(t, "1000.00", plan.TotalPaid.StringFixed(2))
	assert.Equal(t, "11000.00", plan.TotalOutstanding.StringFixed(2))
	assert.Equal(t, planStart.AddDate(0, 1, 0), *plan.NextDueDate)

	_, err = h.Installments.PayInstallment(ctx, planID, 1, "")
	assert.Equal(t, apperrors.AlreadyPaid, apperrors.KindOf(err))
	_, err = h.Installments.PayInstallment(ctx, planID, 99, "")
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}

func TestMarkInstallmentPaid_Manual(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.Installments.CreatePlan(ctx, planInput("2000", 2, models.FrequencyMonthly, "0"))
	require.NoError(t, err)
	planID := res.Plan.ID

	_, err = h.Installments.MarkInstallmentPaid(ctx, planID, 1, ManualPayment{})
	assert.Equal(t, apperrors.Validation, apperrors.KindOf(err))

	_, err = h.Installments.MarkInstallmentPaid(ctx, planID, 1, ManualPayment{TransactionID: "cash-1", Amount: dec("10")})
	assert.Equal(t, apperrors.InvalidAmount, apperrors.KindOf(err))

	plan, err := h.Installments.MarkInstallmentPaid(ctx, planID, 1, ManualPayment{TransactionID: "cash-1", PaymentMethod: "cash"})
	require.NoError(t, err)
	assert.Equal(t, 1, plan.PaidInstallments)
	assert.Equal(t, "cash-1", plan.Installment(1).TransactionID)

	_, err = h.Installments.MarkInstallmentPaid(ctx, planID, 1, ManualPayment{TransactionID: "cash-2"})
	assert.Equal(t, apperrors.AlreadyPaid, apperrors.KindOf(err))

	plan, err = h.Installments.MarkInstallmentPaid(ctx, planID, 2, ManualPayment{TransactionID: "cash-3"})
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusCompleted, plan.Status)
	assert.Nil(t, plan.NextDueDate)

	orders, err := h.store.ListPayments(ctx, repository.PaymentFilter{InstallmentPlanID: &planID})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, models.PaymentGatewayManual, o.PaymentGateway)
		assert.Equal(t, models.PaymentStatusPaid, o.Status)
	}
	entries, err := h.store.ListRevenueEntries(ctx, repository.RevenueFilter{TeacherID: "teacher-1"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCheckOverdue_AfterGracePeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.Installments.CreatePlan(ctx, planInput("12000", 12, models.FrequencyMonthly, "0"))
	require.NoError(t, err)
	planID := res.Plan.ID

	r, err := h.Installments.CheckOverdue(ctx, planID, planStart.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Empty(t, r.Marked)

	checkAt := planStart.AddDate(0, 0, 4)
	r, err = h.Installments.CheckOverdue(ctx, planID, checkAt)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, r.Marked)
	assert.Equal(t, 1, r.Plan.MissedInstallments)
	inst := r.Plan.Installment(1)
	assert.Equal(t, models.InstallmentStatusOverdue, inst.Status)
	assert.Equal(t, "100.00", inst.LateFee.StringFixed(2))
	assert.Equal(t, "1100.00", r.Plan.NextDueAmount.StringFixed(2))
	assert.Contains(t, h.events.types(), EventInstallmentOverdue)

	r, err = h.Installments.CheckOverdue(ctx, planID, checkAt)
	require.NoError(t, err)
	assert.Empty(t, r.Marked)
	assert.Equal(t, 1, r.Plan.MissedInstallments)

	plan, err := h.Installments.GetPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.MissedInstallments)
	assert.Equal(t, models.PlanStatusActive, plan.Status)
}

func TestCheckOverdue_LatePaymentKeepsMissedCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.Installments.CreatePlan(ctx, planInput("12000", 12, models.FrequencyMonthly, "0"))
	require.NoError(t, err)
	planID := res.Plan.ID

	_, err = h.Installments.CheckOverdue(ctx, planID, planStart.AddDate(0, 0, 5))
	require.NoError(t, err)

	order, err := h.Installments.PayInstallment(ctx, planID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "1100.00", order.Amount.StringFixed(2))
	_, err = h.Payments.MarkPaid(ctx, order.ID, "pay-late", "", "")
	require.NoError(t, err)

	plan, err := h.Installments.GetPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentStatusPaid, plan.Installment(1).Status)
	assert.Equal(t, 1, plan.PaidInstallments)
	assert.Equal(t, 1, plan.MissedInstallments)
	assert.Equal(t, "1100.00", plan.Installment(1).PaidAmount.StringFixed(2))
}

func TestCheckOverdue_DefaultsPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.Installments.CreatePlan(ctx, planInput("4000", 4, models.FrequencyWeekly, "0"))
	require.NoError(t, err)

	r, err := h.Installments.CheckOverdue(ctx, res.Plan.ID, planStart.AddDate(0, 0, 25))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, r.Marked)
	assert.Equal(t, models.PlanStatusDefaulted, r.Plan.Status)
	assert.Contains(t, h.events.types(), EventPlanDefaulted)
}

func TestSweepOverdue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	late, err := h.Installments.CreatePlan(ctx, planInput("2000", 2, models.FrequencyMonthly, "0"))
	require.NoError(t, err)
	early := planInput("2000", 2, models.FrequencyMonthly, "0")
	early.StartDate = planStart.AddDate(0, 2, 0)
	_, err = h.Installments.CreatePlan(ctx, early)
	require.NoError(t, err)

	res, err := h.Installments.SweepOverdue(ctx, planStart.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, res.PlansChecked)
	assert.Equal(t, 1, res.InstallmentsMarked)
	assert.Zero(t, res.Failures)

	plan, err := h.Installments.GetPlan(ctx, late.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentStatusOverdue, plan.Installment(1).Status)
}

func TestCancelPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.Installments.CreatePlan(ctx, planInput("2000", 2, models.FrequencyMonthly, "0"))
	require.NoError(t, err)
	planID := res.Plan.ID

	order, err := h.Installments.PayInstallment(ctx, planID, 1, "")
	require.NoError(t, err)

	plan, err := h.Installments.CancelPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusCancelled, plan.Status)

	stored, err := h.store.GetPayment(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, stored.Status)

	_, err = h.Installments.PayInstallment(ctx, planID, 2, "")
	assert.Equal(t, apperrors.InvalidState, apperrors.KindOf(err))

	r, err := h.Installments.CheckOverdue(ctx, planID, planStart.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, r.Marked)
}

func TestCancelPlan_CompletedIsFinal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.Installments.CreatePlan(ctx, planInput("2000", 2, models.FrequencyMonthly, "0"))
	require.NoError(t, err)
	for n := 1; n <= 2; n++ {
		_, err = h.Installments.MarkInstallmentPaid(ctx, res.Plan.ID, n, ManualPayment{TransactionID: "cash"})
		require.NoError(t, err)
	}

	_, err = h.Installments.CancelPlan(ctx, res.Plan.ID)
	assert.Equal(t, apperrors.InvalidState, apperrors.KindOf(err))
}

func TestPayInstallment_LateFeeSupersedesOpenOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.Installments.CreatePlan(ctx, planInput("12000", 12, models.FrequencyMonthly, "0"))
	require.NoError(t, err)
	planID := res.Plan.ID

	first, err := h.Installments.PayInstallment(ctx, planID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "1000.00", first.Amount.StringFixed(2))
	_, err = h.Payments.Get(ctx, first.ID)
	require.NoError(t, err)

	_, err = h.Installments.CheckOverdue(ctx, planID, planStart.AddDate(0, 0, 5))
	require.NoError(t, err)

	second, err := h.Installments.PayInstallment(ctx, planID, 1, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "1100.00", second.Amount.StringFixed(2))
	require.NotNil(t, second.GatewayOrderID)

	number := 1
	open, err := h.store.ListPayments(ctx, repository.PaymentFilter{
		InstallmentPlanID: &planID,
		InstallmentNumber: &number,
		Status:            models.PaymentStatusCreated,
	})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)

	stale, err := h.store.GetPayment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, stale.Status)
	assert.Equal(t, reasonInstallmentSuperseded, stale.FailureReason)
	assert.NotContains(t, h.cache.data, paymentCacheKey(first.ID))

	again, err := h.Installments.PayInstallment(ctx, planID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, second.ID, again.ID)
}

func TestPayInstallment_CaptureOnSupersededOrderIsReported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.Installments.CreatePlan(ctx, planInput("12000", 12, models.FrequencyMonthly, "0"))
	require.NoError(t, err)
	planID := res.Plan.ID

	first, err := h.Installments.PayInstallment(ctx, planID, 1, "")
	require.NoError(t, err)
	_, err = h.Installments.CheckOverdue(ctx, planID, planStart.AddDate(0, 0, 5))
	require.NoError(t, err)
	_, err = h.Installments.PayInstallment(ctx, planID, 1, "")
	require.NoError(t, err)

	r, err := h.deliver(t, webhookBody(t, "payment.success", *first.GatewayOrderID, "1000"))
	require.NoError(t, err)
	assert.Equal(t, WebhookRejected, r.Outcome)

	plan, err := h.Installments.GetPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentStatusOverdue, plan.Installment(1).Status)
	assert.Zero(t, plan.PaidInstallments)
	assert.Empty(t, h.revenueEntries(t))

	require.Contains(t, h.events.types(), EventPaymentUnapplied)
	for _, e := range h.events.events {
		if e.Type == EventPaymentUnapplied {
			assert.Equal(t, first.ID.String(), e.Key)
			assert.Equal(t, "1000.00", e.Amount.StringFixed(2))
		}
	}
}

func TestPayInstallment_CaptureOnPaidInstallmentIsReported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.Installments.CreatePlan(ctx, planInput("12000", 12, models.FrequencyMonthly, "0"))
	require.NoError(t, err)
	planID := res.Plan.ID

	first, err := h.Installments.PayInstallment(ctx, planID, 1, "")
	require.NoError(t, err)

	plan, err := h.store.GetPlan(ctx, planID)
	require.NoError(t, err)
	dup, err := h.Installments.installmentOrder(plan, plan.Installment(1), dec("1000"))
	require.NoError(t, err)
	gwID := "gw-dup"
	dup.GatewayOrderID = &gwID
	require.NoError(t, h.store.CreatePayment(ctx, dup))

	_, err = h.Payments.MarkPaid(ctx, first.ID, "pay-inst-1", "", "")
	require.NoError(t, err)

	r, err := h.deliver(t, webhookBody(t, "payment.success", gwID, "1000"))
	require.NoError(t, err)
	assert.Equal(t, WebhookRejected, r.Outcome)
	assert.Contains(t, r.Message, "already paid")
	assert.Contains(t, h.events.types(), EventPaymentUnapplied)

	stored, err := h.store.GetPayment(ctx, dup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCreated, stored.Status)
	assert.Len(t, h.revenueEntries(t), 1)
}

func TestCheckOverdue_SkipsInstallmentPaidConcurrently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.Installments.CreatePlan(ctx, planInput("4000", 4, models.FrequencyWeekly, "0"))
	require.NoError(t, err)
	planID := res.Plan.ID

	paidAt := planStart.AddDate(0, 0, 9)
	h.store.OnUpdateInstallment(func(stored *models.Installment) {
		if stored.Number == 2 && stored.Status == models.InstallmentStatusPending {
			stored.Status = models.InstallmentStatusPaid
			stored.PaidAmount = stored.Amount
			stored.PaidDate = &paidAt
		}
	})

	r, err := h.Installments.CheckOverdue(ctx, planID, planStart.AddDate(0, 0, 18))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, r.Marked)
	assert.Equal(t, models.InstallmentStatusPaid, r.Plan.Installment(2).Status)
	assert.Equal(t, models.InstallmentStatusOverdue, r.Plan.Installment(1).Status)
	assert.Equal(t, 2, r.Plan.MissedInstallments)

	h.store.OnUpdateInstallment(nil)
	plan, err := h.Installments.GetPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentStatusPaid, plan.Installment(2).Status)
	assert.Equal(t, 2, plan.MissedInstallments)
}

func TestCancelPlan_InvalidatesCachedOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.Installments.CreatePlan(ctx, planInput("2000", 2, models.FrequencyMonthly, "0"))
	require.NoError(t, err)

	order, err := h.Installments.PayInstallment(ctx, res.Plan.ID, 1, "")
	require.NoError(t, err)
	got, err := h.Payments.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCreated, got.Status)

	_, err = h.Installments.CancelPlan(ctx, res.Plan.ID)
	require.NoError(t, err)
	assert.NotContains(t, h.cache.data, paymentCacheKey(order.ID))

	got, err = h.Payments.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, got.Status)
}
