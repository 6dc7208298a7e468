package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository"
)

// WebhookService reconciles gateway notifications with payment orders.
// Deliveries are deduplicated by gateway order id through an
// insert-or-detect on the gateway transaction record.
type WebhookService struct {
	*Deps
	payments *PaymentService
}

type WebhookPayload struct {
	Event            string          `json:"event"`
	GatewayOrderID   string          `json:"gateway_order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    string          `json:"payment_method"`
	Reason           string          `json:"reason"`
}

type WebhookOutcome string

const (
	WebhookProcessed WebhookOutcome = "processed"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookRejected  WebhookOutcome = "rejected"
)

type WebhookResult struct {
	Outcome   WebhookOutcome       `json:"outcome"`
	PaymentID *uuid.UUID           `json:"payment_id,omitempty"`
	Status    models.PaymentStatus `json:"payment_status,omitempty"`
	Message   string               `json:"message,omitempty"`

	// unapplied is set when money was captured for an order that could not take it
	unapplied *models.PaymentOrder
}

// normalizeEvent maps gateway event names onto the statuses we act on
func normalizeEvent(event string) string {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "payment.success", "payment.captured", "settlement", "capture":
		return models.ReceivedPaid
	case "payment.failed", "deny", "failure":
		return models.ReceivedFailed
	case "payment.cancelled", "payment.expired", "cancel", "expire":
		return models.ReceivedCancelled
	}
	return models.ReceivedUnknown
}

// rejectable errors are business refusals; they are acknowledged and
// recorded instead of asking the gateway to redeliver
func rejectable(err error) bool {
	switch apperrors.KindOf(err) {
	case apperrors.InvalidState, apperrors.AlreadyPaid, apperrors.NotFound, apperrors.InvalidAmount, apperrors.Validation:
		return true
	}
	return false
}

// Handle verifies and applies one delivery. A signature mismatch returns a
// SignatureInvalid error and a duplicate returns DuplicateDelivery; both come
// with a result and are meant to be acknowledged.
func (s *WebhookService) Handle(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if !s.Signer.VerifyWebhook(body, signature) {
		webhookDeliveries.WithLabelValues("signature_invalid").Inc()
		s.Log.Warn("webhook signature mismatch", zap.Int("body_bytes", len(body)))
		s.recordCallback(ctx, body, WebhookPayload{}, false, WebhookRejected)
		return &WebhookResult{Outcome: WebhookRejected, Message: "invalid signature"},
			apperrors.E(apperrors.SignatureInvalid, "webhook signature does not match")
	}

	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperrors.E(apperrors.Validation, "malformed webhook payload", err)
	}
	if p.GatewayOrderID == "" {
		return nil, apperrors.E(apperrors.Validation, "gateway_order_id is required")
	}
	received := normalizeEvent(p.Event)

	var res *WebhookResult
	var st *settlement
	var closed *models.PaymentOrder
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		rec := &models.GatewayTransaction{
			PaymentGateway:   s.Gateway.Provider(),
			GatewayOrderID:   p.GatewayOrderID,
			GatewayPaymentID: p.GatewayPaymentID,
			Event:            p.Event,
			ReceivedStatus:   received,
			Status:           models.GatewayProcessingReceived,
			Payload:          json.RawMessage(body),
			Attempts:         1,
		}
		inserted, err := tx.InsertGatewayTransaction(ctx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			if rec, err = tx.GetGatewayTransactionForUpdate(ctx, p.GatewayOrderID); err != nil {
				return err
			}
			if rec.Terminal() {
				res = &WebhookResult{Outcome: WebhookDuplicate, PaymentID: rec.PaymentOrderID}
				return nil
			}
			rec.Attempts++
			rec.Event = p.Event
			rec.ReceivedStatus = received
			rec.GatewayPaymentID = p.GatewayPaymentID
			rec.Payload = json.RawMessage(body)
			rec.Status = models.GatewayProcessingReceived
			rec.ProcessingError = ""
		}

		res, st, closed, err = s.apply(ctx, tx, rec, p, received)
		if err != nil {
			return err
		}
		return tx.SaveGatewayTransaction(ctx, rec)
	})
	if err != nil {
		webhookDeliveries.WithLabelValues("error").Inc()
		s.Log.Error("webhook processing failed", zap.String("gateway_order_id", p.GatewayOrderID), zap.Error(err))
		return nil, err
	}

	webhookDeliveries.WithLabelValues(string(res.Outcome)).Inc()
	s.recordCallback(ctx, body, p, true, res.Outcome)
	if st != nil {
		s.payments.afterPaid(ctx, st)
	}
	if closed != nil {
		s.payments.afterClosed(ctx, closed)
	}
	if res.unapplied != nil {
		s.reportUnapplied(ctx, res.unapplied, p, res.Message)
	}

	fields := []zap.Field{
		zap.String("gateway_order_id", p.GatewayOrderID),
		zap.String("event", p.Event),
		zap.String("outcome", string(res.Outcome)),
	}
	switch res.Outcome {
	case WebhookDuplicate:
		s.Log.Warn("duplicate webhook delivery", fields...)
		return res, apperrors.E(apperrors.DuplicateDelivery, "webhook already processed")
	case WebhookRejected:
		s.Log.Warn("webhook rejected", append(fields, zap.String("reason", res.Message))...)
	default:
		s.Log.Info("webhook handled", fields...)
	}
	return res, nil
}

// apply runs inside the delivery's transaction and updates rec to reflect
// what happened
func (s *WebhookService) apply(ctx context.Context, tx repository.Store, rec *models.GatewayTransaction, p WebhookPayload, received string) (*WebhookResult, *settlement, *models.PaymentOrder, error) {
	if received == models.ReceivedUnknown {
		rec.ProcessingError = "unhandled event " + p.Event
		return &WebhookResult{Outcome: WebhookIgnored, Message: rec.ProcessingError}, nil, nil, nil
	}

	found, err := tx.GetPaymentByGatewayOrderID(ctx, p.GatewayOrderID)
	if apperrors.Is(err, apperrors.NotFound) {
		// the order may not be committed yet; a redelivery can still apply
		rec.ProcessingError = "unknown gateway order"
		return &WebhookResult{Outcome: WebhookRejected, Message: rec.ProcessingError}, nil, nil, nil
	}
	if err != nil {
		return nil, nil, nil, err
	}
	order, err := tx.GetPaymentForUpdate(ctx, found.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	rec.PaymentOrderID = &order.ID

	mustMatch := received == models.ReceivedPaid || !p.Amount.IsZero()
	if mustMatch && !p.Amount.Equal(order.Amount) {
		rec.Status = models.GatewayProcessingRejected
		rec.ProcessingError = "amount " + p.Amount.StringFixed(2) + " does not match order amount " + order.Amount.StringFixed(2)
		return &WebhookResult{Outcome: WebhookRejected, PaymentID: &order.ID, Status: order.Status, Message: rec.ProcessingError}, nil, nil, nil
	}

	var st *settlement
	var closed *models.PaymentOrder
	err = tx.Transaction(ctx, func(inner repository.Store) error {
		var err error
		var changed bool
		reason := p.Reason
		if reason == "" {
			reason = "gateway " + p.Event
		}
		switch received {
		case models.ReceivedPaid:
			st, err = s.payments.applyPaid(ctx, inner, order, p.GatewayPaymentID, "", p.PaymentMethod)
		case models.ReceivedFailed:
			changed, err = s.payments.applyFailed(ctx, inner, order, reason)
		case models.ReceivedCancelled:
			changed, err = s.payments.applyCancelled(ctx, inner, order, reason)
		}
		if changed {
			closed = order
		}
		return err
	})
	if err != nil {
		if !rejectable(err) {
			return nil, nil, nil, err
		}
		rec.Status = models.GatewayProcessingRejected
		rec.ProcessingError = err.Error()
		res := &WebhookResult{Outcome: WebhookRejected, PaymentID: &order.ID, Status: found.Status, Message: err.Error()}
		if received == models.ReceivedPaid {
			switch apperrors.KindOf(err) {
			case apperrors.AlreadyPaid, apperrors.InvalidState:
				res.unapplied = found
			}
		}
		return res, nil, nil, nil
	}

	rec.Status = models.GatewayProcessingProcessed
	return &WebhookResult{Outcome: WebhookProcessed, PaymentID: &order.ID, Status: order.Status}, st, closed, nil
}

// reportUnapplied flags a capture the gateway holds but no order absorbed;
// it needs a manual refund or reallocation
func (s *WebhookService) reportUnapplied(ctx context.Context, order *models.PaymentOrder, p WebhookPayload, reason string) {
	s.Log.Error("captured payment not applied",
		zap.String("payment_id", order.ID.String()),
		zap.String("gateway_order_id", p.GatewayOrderID),
		zap.String("gateway_payment_id", p.GatewayPaymentID),
		zap.String("payment_status", string(order.Status)),
		zap.String("amount", p.Amount.StringFixed(2)),
		zap.String("reason", reason))
	amount := p.Amount
	data := map[string]interface{}{
		"payment_id":         order.ID.String(),
		"gateway_order_id":   p.GatewayOrderID,
		"gateway_payment_id": p.GatewayPaymentID,
		"reason":             reason,
	}
	if order.InstallmentPlanID != nil {
		data["installment_plan_id"] = order.InstallmentPlanID.String()
	}
	s.publish(ctx, Event{
		Type:      EventPaymentUnapplied,
		Key:       order.ID.String(),
		TeacherID: order.TeacherID,
		StudentID: order.PayerID,
		Amount:    &amount,
		Data:      data,
	})
}

// recordCallback keeps an audit trail of deliveries; failures are logged only
func (s *WebhookService) recordCallback(ctx context.Context, body []byte, p WebhookPayload, signatureValid bool, outcome WebhookOutcome) {
	meta := map[string]interface{}{"body_bytes": len(body)}
	if json.Valid(body) {
		meta["payload"] = json.RawMessage(body)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		s.Log.Warn("callback metadata encoding failed", zap.Error(err))
		return
	}
	h := &models.PaymentCallbackHistory{
		PaymentGateway: s.Gateway.Provider(),
		GatewayOrderID: p.GatewayOrderID,
		Event:          p.Event,
		SignatureValid: signatureValid,
		Outcome:        string(outcome),
		Metadata:       raw,
	}
	if err := s.Store.RecordCallback(ctx, h); err != nil {
		s.Log.Warn("callback history write failed", zap.String("gateway_order_id", p.GatewayOrderID), zap.Error(err))
	}
}
