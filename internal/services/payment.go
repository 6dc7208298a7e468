package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository"
)

const (
	TaskRetryEnrollment = "retry_enrollment"

	paymentCacheTTL        = 30 * time.Second
	enrollmentRetryDelay   = 5 * time.Minute
	reasonGatewayOrderFail = "gateway_order_failed"

	reasonInstallmentSuperseded = "installment_amount_changed"
)

type PaymentService struct {
	*Deps
	commission *CommissionCalculator
	ledger     *LedgerService
}

type CreateOrderInput struct {
	PayerID        string
	PayerEmail     string
	TeacherID      string
	BatchID        string
	Amount         decimal.Decimal
	OriginalAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	Currency       string
	Source         models.PaymentSource
}

// settlement carries what a committed markPaid changed, for after-commit effects
type settlement struct {
	order models.PaymentOrder
	entry models.RevenueEntry
	plan  *models.InstallmentPlan
}

func paymentCacheKey(id uuid.UUID) string {
	return "payment:" + id.String()
}

// gatewayReference changes on every retry since gateways refuse reused order ids
func gatewayReference(o *models.PaymentOrder) string {
	return fmt.Sprintf("%s-%d", o.ID, o.RetryCount)
}

func hasAtMostTwoDecimals(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// buildOrder validates input and fixes the revenue split for the order's lifetime
func (s *PaymentService) buildOrder(in CreateOrderInput) (*models.PaymentOrder, error) {
	if in.PayerID == "" || in.TeacherID == "" || in.BatchID == "" {
		return nil, apperrors.E(apperrors.Validation, "payer, teacher and batch are required")
	}
	if !in.Amount.IsPositive() {
		return nil, apperrors.E(apperrors.InvalidAmount, "amount must be greater than 0")
	}
	if !hasAtMostTwoDecimals(in.Amount) || !hasAtMostTwoDecimals(in.DiscountAmount) {
		return nil, apperrors.E(apperrors.Validation, "amounts have at most 2 decimal places")
	}
	if in.DiscountAmount.IsNegative() {
		return nil, apperrors.E(apperrors.Validation, "discount cannot be negative")
	}
	original := in.OriginalAmount
	if original.IsZero() {
		original = in.Amount.Add(in.DiscountAmount)
	}
	if !original.Sub(in.DiscountAmount).Equal(in.Amount) {
		return nil, apperrors.E(apperrors.Validation, "amount must equal original amount minus discount")
	}
	currency := in.Currency
	if currency == "" {
		currency = s.Policy.DefaultCurrency
	}

	split, err := s.commission.Split(in.Amount, in.Source)
	if err != nil {
		return nil, err
	}

	return &models.PaymentOrder{
		ID:              uuid.New(),
		PayerID:         in.PayerID,
		TeacherID:       in.TeacherID,
		BatchID:         in.BatchID,
		Amount:          in.Amount,
		OriginalAmount:  original,
		DiscountAmount:  in.DiscountAmount,
		Currency:        currency,
		Source:          in.Source,
		CommissionRate:  split.CommissionRate,
		PlatformFee:     split.PlatformFee,
		TeacherEarnings: split.TeacherEarnings,
		Status:          models.PaymentStatusCreated,
		PaymentGateway:  s.Gateway.Provider(),
	}, nil
}

// CreateOrder persists a new order and opens its gateway collection
func (s *PaymentService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.PaymentOrder, error) {
	order, err := s.buildOrder(in)
	if err != nil {
		return nil, err
	}
	if err := s.Store.CreatePayment(ctx, order); err != nil {
		return nil, err
	}
	s.Log.Info("payment order created",
		zap.String("payment_id", order.ID.String()),
		zap.String("amount", order.Amount.StringFixed(2)),
		zap.String("platform_fee", order.PlatformFee.StringFixed(2)),
		zap.String("source", string(order.Source)))
	return s.openGatewayOrder(ctx, order, in.PayerEmail)
}

// openGatewayOrder fails the order when the gateway refuses it so it can be retried
func (s *PaymentService) openGatewayOrder(ctx context.Context, order *models.PaymentOrder, payerEmail string) (*models.PaymentOrder, error) {
	gw, err := s.Gateway.CreateOrder(ctx, CreateOrderRequest{
		Reference:  gatewayReference(order),
		Amount:     order.Amount,
		Currency:   order.Currency,
		PayerRef:   order.PayerID,
		PayerEmail: payerEmail,
	})
	if err != nil {
		now := s.Now()
		order.Status = models.PaymentStatusFailed
		order.FailureReason = reasonGatewayOrderFail
		order.FailedAt = &now
		if uerr := s.Store.UpdatePaymentIf(ctx, order, models.PaymentStatusCreated); uerr != nil {
			return nil, uerr
		}
		s.invalidate(ctx, order.ID)
		paymentTransitions.WithLabelValues(string(models.PaymentStatusFailed)).Inc()
		s.Log.Error("gateway order creation failed", zap.String("payment_id", order.ID.String()), zap.Error(err))
		kind := apperrors.GatewayFailure
		if apperrors.KindOf(err) == apperrors.InvalidAmount {
			kind = apperrors.InvalidAmount
		}
		return order, apperrors.E(kind, "create gateway order", err)
	}

	gatewayOrderID := gw.GatewayOrderID
	order.GatewayOrderID = &gatewayOrderID
	order.PaymentLink = gw.PaymentLink
	if err := s.Store.UpdatePaymentIf(ctx, order, models.PaymentStatusCreated); err != nil {
		return nil, err
	}
	s.invalidate(ctx, order.ID)
	return order, nil
}

func (s *PaymentService) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.Cache.Delete(ctx, paymentCacheKey(id)); err != nil {
		s.Log.Warn("payment cache invalidation failed", zap.String("payment_id", id.String()), zap.Error(err))
	}
}

// Get serves status polls through the cache
func (s *PaymentService) Get(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error) {
	return GetOrSet(s.Cache, ctx, paymentCacheKey(id), paymentCacheTTL, func() (*models.PaymentOrder, error) {
		return s.Store.GetPayment(ctx, id)
	})
}

func (s *PaymentService) List(ctx context.Context, f repository.PaymentFilter) ([]models.PaymentOrder, error) {
	return s.Store.ListPayments(ctx, f)
}

// Verify settles an order from the checkout callback after checking the
// payment signature
func (s *PaymentService) Verify(ctx context.Context, id uuid.UUID, gatewayPaymentID, signature, method string) (*models.PaymentOrder, error) {
	if gatewayPaymentID == "" {
		return nil, apperrors.E(apperrors.Validation, "gateway payment id is required")
	}
	order, err := s.Store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.GatewayOrderID == nil {
		return nil, apperrors.E(apperrors.InvalidState, "payment order has no gateway order")
	}
	if !s.Signer.VerifyPayment(*order.GatewayOrderID, gatewayPaymentID, signature) {
		s.Log.Warn("payment signature mismatch", zap.String("payment_id", id.String()))
		return nil, apperrors.E(apperrors.SignatureInvalid, "payment signature does not match")
	}
	return s.MarkPaid(ctx, id, gatewayPaymentID, signature, method)
}

// MarkPaid moves a created order to paid. Calling it again on a settled
// order returns the order unchanged.
func (s *PaymentService) MarkPaid(ctx context.Context, id uuid.UUID, gatewayPaymentID, signature, method string) (*models.PaymentOrder, error) {
	var order *models.PaymentOrder
	var st *settlement
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		o, err := tx.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		order = o
		st, err = s.applyPaid(ctx, tx, o, gatewayPaymentID, signature, method)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterPaid(ctx, st)
	return order, nil
}

// applyPaid runs inside tx. It returns nil when the order was already settled.
func (s *PaymentService) applyPaid(ctx context.Context, tx repository.Store, order *models.PaymentOrder, gatewayPaymentID, signature, method string) (*settlement, error) {
	if order.Status.Settled() {
		return nil, nil
	}
	if order.Status != models.PaymentStatusCreated {
		return nil, apperrors.Errorf(apperrors.InvalidState, "cannot mark a %s payment as paid", order.Status)
	}

	now := s.Now()
	order.Status = models.PaymentStatusPaid
	order.PaidAt = &now
	order.GatewayPaymentID = &gatewayPaymentID
	if signature != "" {
		order.GatewaySignature = &signature
	}
	if method != "" {
		order.PaymentMethod = method
	}
	if err := tx.UpdatePaymentIf(ctx, order, models.PaymentStatusCreated); err != nil {
		return nil, err
	}

	entry, err := s.ledger.record(ctx, tx, order)
	if err != nil {
		return nil, err
	}
	plan, err := applyInstallmentPayment(ctx, tx, order, now, s.Policy.MaxMissedInstallments)
	if err != nil {
		return nil, err
	}
	return &settlement{order: *order, entry: *entry, plan: plan}, nil
}

// afterPaid runs the effects that must not roll back a committed payment
func (s *PaymentService) afterPaid(ctx context.Context, st *settlement) {
	if st == nil {
		return
	}
	order := st.order
	paymentTransitions.WithLabelValues(string(models.PaymentStatusPaid)).Inc()
	s.Log.Info("payment settled",
		zap.String("payment_id", order.ID.String()),
		zap.String("teacher_id", order.TeacherID),
		zap.String("amount", order.Amount.StringFixed(2)),
		zap.String("teacher_earnings", order.TeacherEarnings.StringFixed(2)),
		zap.String("revenue_entry_id", st.entry.ID.String()))
	s.invalidate(ctx, order.ID)

	if err := s.Enroller.Enroll(ctx, order.PayerID, order.BatchID); err != nil {
		s.Log.Warn("enrollment failed, scheduling retry", zap.String("payment_id", order.ID.String()), zap.Error(err))
		args := map[string]interface{}{
			"student_id": order.PayerID,
			"batch_id":   order.BatchID,
			"payment_id": order.ID.String(),
		}
		if serr := s.Scheduler.ScheduleOnce(ctx, TaskRetryEnrollment, args, s.Now().Add(enrollmentRetryDelay)); serr != nil {
			s.Log.Error("could not schedule enrollment retry", zap.String("payment_id", order.ID.String()), zap.Error(serr))
		}
	}

	amount := order.Amount
	data := map[string]interface{}{
		"payment_id":       order.ID.String(),
		"batch_id":         order.BatchID,
		"teacher_earnings": order.TeacherEarnings.StringFixed(2),
	}
	if st.plan != nil {
		data["installment_plan_id"] = st.plan.ID.String()
		data["plan_status"] = string(st.plan.Status)
	}
	s.publish(ctx, Event{
		Type:      EventPaymentPaid,
		Key:       order.ID.String(),
		TeacherID: order.TeacherID,
		StudentID: order.PayerID,
		Amount:    &amount,
		Data:      data,
	})
}

// MarkFailed records a failed collection. It has no ledger effect.
func (s *PaymentService) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.PaymentOrder, error) {
	var order *models.PaymentOrder
	var changed bool
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		o, err := tx.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		order = o
		changed, err = s.applyFailed(ctx, tx, o, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterClosed(ctx, order)
	}
	return order, nil
}

func (s *PaymentService) applyFailed(ctx context.Context, tx repository.Store, order *models.PaymentOrder, reason string) (bool, error) {
	if order.Status == models.PaymentStatusFailed {
		return false, nil
	}
	if order.Status != models.PaymentStatusCreated {
		return false, apperrors.Errorf(apperrors.InvalidState, "cannot fail a %s payment", order.Status)
	}
	now := s.Now()
	order.Status = models.PaymentStatusFailed
	order.FailureReason = reason
	order.FailedAt = &now
	return true, tx.UpdatePaymentIf(ctx, order, models.PaymentStatusCreated)
}

// Cancel closes a created order that will never be collected
func (s *PaymentService) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.PaymentOrder, error) {
	var order *models.PaymentOrder
	var changed bool
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		o, err := tx.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		order = o
		changed, err = s.applyCancelled(ctx, tx, o, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterClosed(ctx, order)
	}
	return order, nil
}

func (s *PaymentService) applyCancelled(ctx context.Context, tx repository.Store, order *models.PaymentOrder, reason string) (bool, error) {
	if order.Status == models.PaymentStatusCancelled {
		return false, nil
	}
	if order.Status != models.PaymentStatusCreated {
		return false, apperrors.Errorf(apperrors.InvalidState, "cannot cancel a %s payment", order.Status)
	}
	now := s.Now()
	order.Status = models.PaymentStatusCancelled
	order.FailureReason = reason
	order.CancelledAt = &now
	return true, tx.UpdatePaymentIf(ctx, order, models.PaymentStatusCreated)
}

func (s *PaymentService) afterClosed(ctx context.Context, order *models.PaymentOrder) {
	paymentTransitions.WithLabelValues(string(order.Status)).Inc()
	s.Log.Info("payment closed",
		zap.String("payment_id", order.ID.String()),
		zap.String("status", string(order.Status)),
		zap.String("reason", order.FailureReason))
	s.invalidate(ctx, order.ID)
	if order.Status == models.PaymentStatusFailed {
		s.publish(ctx, Event{
			Type:      EventPaymentFailed,
			Key:       order.ID.String(),
			TeacherID: order.TeacherID,
			StudentID: order.PayerID,
			Data:      map[string]interface{}{"reason": order.FailureReason},
		})
	}
}

// RefundResult reports the order and the teacher balance after a refund.
// A negative balance means the teacher already withdrew refunded money.
type RefundResult struct {
	Order           *models.PaymentOrder   `json:"order"`
	Balance         *models.TeacherBalance `json:"teacher_balance"`
	NegativeBalance bool                   `json:"negative_balance"`
}

func (s *PaymentService) Refund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, reason, actor string) (*RefundResult, error) {
	if !amount.IsPositive() {
		return nil, apperrors.E(apperrors.InvalidAmount, "refund amount must be greater than 0")
	}
	if !hasAtMostTwoDecimals(amount) {
		return nil, apperrors.E(apperrors.Validation, "amounts have at most 2 decimal places")
	}

	res := &RefundResult{}
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		order, err := tx.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != models.PaymentStatusPaid && order.Status != models.PaymentStatusPartialRefund {
			return apperrors.Errorf(apperrors.InvalidState, "cannot refund a %s payment", order.Status)
		}
		if amount.GreaterThan(order.Refundable()) {
			return apperrors.Errorf(apperrors.InvalidAmount, "refund exceeds refundable amount %s", order.Refundable().StringFixed(2))
		}

		now := s.Now()
		order.RefundAmount = order.RefundAmount.Add(amount)
		order.RefundReason = reason
		order.RefundedAt = &now
		order.Status = models.PaymentStatusPartialRefund
		if order.RefundAmount.Equal(order.Amount) {
			order.Status = models.PaymentStatusRefunded
		}
		if err := tx.UpdatePaymentIf(ctx, order, models.PaymentStatusPaid, models.PaymentStatusPartialRefund); err != nil {
			return err
		}
		err = tx.IncrementBalance(ctx, order.TeacherID, repository.BalanceDelta{AvailableForPayout: amount.Neg()})
		if err != nil {
			return err
		}
		balance, err := tx.GetBalance(ctx, order.TeacherID)
		if err != nil {
			return err
		}
		res.Order = order
		res.Balance = balance
		res.NegativeBalance = balance.AvailableForPayout.IsNegative()
		return nil
	})
	if err != nil {
		return nil, err
	}

	order := res.Order
	paymentTransitions.WithLabelValues(string(order.Status)).Inc()
	s.Log.Info("payment refunded",
		zap.String("payment_id", order.ID.String()),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("status", string(order.Status)),
		zap.String("actor", actor))
	if res.NegativeBalance {
		s.Log.Error("teacher balance negative after refund",
			zap.String("teacher_id", order.TeacherID),
			zap.String("available_for_payout", res.Balance.AvailableForPayout.StringFixed(2)),
			zap.String("payment_id", order.ID.String()))
	}
	s.invalidate(ctx, order.ID)
	s.publish(ctx, Event{
		Type:      EventPaymentRefunded,
		Key:       order.ID.String(),
		TeacherID: order.TeacherID,
		StudentID: order.PayerID,
		Amount:    &amount,
		Data: map[string]interface{}{
			"reason":           reason,
			"negative_balance": res.NegativeBalance,
		},
	})
	return res, nil
}

// Retry reopens a failed or cancelled order with fresh gateway correlation
func (s *PaymentService) Retry(ctx context.Context, id uuid.UUID, payerEmail string) (*models.PaymentOrder, error) {
	var order *models.PaymentOrder
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		o, err := tx.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != models.PaymentStatusFailed && o.Status != models.PaymentStatusCancelled {
			return apperrors.Errorf(apperrors.InvalidState, "cannot retry a %s payment", o.Status)
		}
		if o.RetryCount >= s.Policy.MaxPaymentRetries {
			return apperrors.Errorf(apperrors.RetryLimitExceeded, "payment was already retried %d times", o.RetryCount)
		}
		from := o.Status
		o.RetryCount++
		o.Status = models.PaymentStatusCreated
		o.GatewayOrderID = nil
		o.GatewayPaymentID = nil
		o.GatewaySignature = nil
		o.PaymentLink = ""
		o.FailureReason = ""
		o.FailedAt = nil
		o.CancelledAt = nil
		order = o
		return tx.UpdatePaymentIf(ctx, o, from)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("payment retried", zap.String("payment_id", id.String()), zap.Int("retry_count", order.RetryCount))
	return s.openGatewayOrder(ctx, order, payerEmail)
}
