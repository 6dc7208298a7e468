package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository"
)

const (
	payoutLockTTL      = 2 * time.Minute
	minRejectionReason = 10
)

// drawingPayoutStatuses are the payouts whose allocations hold revenue
var drawingPayoutStatuses = []models.PayoutStatus{
	models.PayoutStatusRequested,
	models.PayoutStatusApproved,
	models.PayoutStatusProcessing,
	models.PayoutStatusCompleted,
}

type PayoutService struct {
	*Deps
	ledger *LedgerService
}

type PayoutInput struct {
	TeacherID string
	Amount    decimal.Decimal
	Currency  string
	Method    models.PayoutMethod
	Details   models.PaymentDetails
}

// Actor identifies who is calling; teachers may only touch their own payouts
type Actor struct {
	ID      string
	IsAdmin bool
}

func payoutLockKey(id uuid.UUID) string {
	return "payout:lock:" + id.String()
}

func validatePayoutDetails(method models.PayoutMethod, d models.PaymentDetails) error {
	if strings.TrimSpace(d.AccountHolder) == "" {
		return apperrors.E(apperrors.Validation, "account holder is required")
	}
	switch method {
	case models.PayoutMethodBankTransfer:
		if d.AccountNumber == "" || d.BankCode == "" {
			return apperrors.E(apperrors.Validation, "bank transfers need an account number and bank code")
		}
	case models.PayoutMethodUPI:
		if d.UPIID == "" {
			return apperrors.E(apperrors.Validation, "UPI payouts need a UPI id")
		}
	default:
		return apperrors.Errorf(apperrors.Validation, "unknown payout method %q", method)
	}
	return nil
}

// Request holds balance for a withdrawal and allocates it oldest-first
// against settled revenue entries
func (s *PayoutService) Request(ctx context.Context, in PayoutInput) (*models.PayoutRequest, error) {
	if in.TeacherID == "" {
		return nil, apperrors.E(apperrors.Validation, "teacher is required")
	}
	if !in.Amount.IsPositive() {
		return nil, apperrors.E(apperrors.InvalidAmount, "payout amount must be greater than 0")
	}
	if !hasAtMostTwoDecimals(in.Amount) {
		return nil, apperrors.E(apperrors.Validation, "amounts have at most 2 decimal places")
	}
	if in.Amount.LessThan(s.Policy.MinimumPayout) {
		return nil, apperrors.Errorf(apperrors.BelowMinimum, "minimum payout is %s", s.Policy.MinimumPayout.StringFixed(2))
	}
	if err := validatePayoutDetails(in.Method, in.Details); err != nil {
		return nil, err
	}
	currency := in.Currency
	if currency == "" {
		currency = s.Policy.DefaultCurrency
	}

	var payout *models.PayoutRequest
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		balance, err := tx.LockTeacherBalance(ctx, in.TeacherID)
		if err != nil {
			return err
		}
		summary, err := s.ledger.summarize(ctx, tx, balance)
		if err != nil {
			return err
		}
		if in.Amount.GreaterThan(summary.Withdrawable) {
			return apperrors.Errorf(apperrors.InsufficientBalance, "requested %s but only %s is withdrawable",
				in.Amount.StringFixed(2), summary.Withdrawable.StringFixed(2))
		}

		payout = &models.PayoutRequest{
			ID:             uuid.New(),
			TeacherID:      in.TeacherID,
			Amount:         in.Amount,
			Currency:       currency,
			Status:         models.PayoutStatusRequested,
			PaymentMethod:  in.Method,
			PaymentDetails: in.Details,
			ActedBy:        in.TeacherID,
		}
		if err := tx.CreatePayout(ctx, payout); err != nil {
			return err
		}
		allocs, err := s.allocate(ctx, tx, payout)
		if err != nil {
			return err
		}
		return tx.CreateAllocations(ctx, allocs)
	})
	if err != nil {
		return nil, err
	}

	payoutTransitions.WithLabelValues(string(payout.Status)).Inc()
	s.Log.Info("payout requested",
		zap.String("payout_id", payout.ID.String()),
		zap.String("teacher_id", payout.TeacherID),
		zap.String("amount", payout.Amount.StringFixed(2)))
	s.publishPayout(ctx, EventPayoutRequested, payout, nil)
	return payout, nil
}

func (s *PayoutService) allocate(ctx context.Context, tx repository.Store, payout *models.PayoutRequest) ([]models.PayoutAllocation, error) {
	entries, err := tx.ListRevenueEntries(ctx, repository.RevenueFilter{
		TeacherID: payout.TeacherID,
		Statuses:  []models.RevenueStatus{models.RevenueStatusProcessed},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	drawn, err := tx.AllocatedAmounts(ctx, ids, drawingPayoutStatuses...)
	if err != nil {
		return nil, err
	}

	var allocs []models.PayoutAllocation
	need := payout.Amount
	for _, e := range entries {
		if !need.IsPositive() {
			break
		}
		free := e.TeacherShare.Sub(drawn[e.ID])
		if !free.IsPositive() {
			continue
		}
		take := decimal.Min(free, need)
		allocs = append(allocs, models.PayoutAllocation{
			ID:             uuid.New(),
			PayoutID:       payout.ID,
			RevenueEntryID: e.ID,
			Amount:         take,
		})
		need = need.Sub(take)
	}
	if need.IsPositive() {
		return nil, apperrors.Errorf(apperrors.InsufficientBalance, "settled revenue is %s short of the payout", need.StringFixed(2))
	}
	return allocs, nil
}

// transition loads the payout, checks it is in one of from, lets fn mutate
// it inside the transaction and writes it back conditionally
func (s *PayoutService) transition(ctx context.Context, id uuid.UUID, verb string, from []models.PayoutStatus, fn func(tx repository.Store, p *models.PayoutRequest) error) (*models.PayoutRequest, error) {
	var payout *models.PayoutRequest
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		p, err := tx.GetPayout(ctx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, st := range from {
			if p.Status == st {
				allowed = true
			}
		}
		if !allowed {
			return apperrors.Errorf(apperrors.InvalidState, "cannot %s a %s payout", verb, p.Status)
		}
		if err := fn(tx, p); err != nil {
			return err
		}
		payout = p
		return tx.UpdatePayoutIf(ctx, p, from...)
	})
	if err != nil {
		return nil, err
	}
	payoutTransitions.WithLabelValues(string(payout.Status)).Inc()
	s.Log.Info("payout "+string(payout.Status),
		zap.String("payout_id", payout.ID.String()),
		zap.String("teacher_id", payout.TeacherID),
		zap.String("amount", payout.Amount.StringFixed(2)),
		zap.String("acted_by", payout.ActedBy))
	return payout, nil
}

func (s *PayoutService) Approve(ctx context.Context, id uuid.UUID, actor string) (*models.PayoutRequest, error) {
	return s.transition(ctx, id, "approve", []models.PayoutStatus{models.PayoutStatusRequested}, func(tx repository.Store, p *models.PayoutRequest) error {
		now := s.Now()
		p.Status = models.PayoutStatusApproved
		p.ApprovedAt = &now
		p.ActedBy = actor
		return nil
	})
}

// Reject refuses a request and releases the revenue it held
func (s *PayoutService) Reject(ctx context.Context, id uuid.UUID, actor, reason string) (*models.PayoutRequest, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < minRejectionReason {
		return nil, apperrors.Errorf(apperrors.Validation, "rejection reason must be at least %d characters", minRejectionReason)
	}
	return s.transition(ctx, id, "reject", []models.PayoutStatus{models.PayoutStatusRequested}, func(tx repository.Store, p *models.PayoutRequest) error {
		now := s.Now()
		p.Status = models.PayoutStatusRejected
		p.RejectionReason = reason
		p.RejectedAt = &now
		p.ActedBy = actor
		return tx.DeleteAllocations(ctx, p.ID)
	})
}

func (s *PayoutService) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*models.PayoutRequest, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	from := []models.PayoutStatus{models.PayoutStatusRequested, models.PayoutStatusApproved}
	return s.transition(ctx, id, "cancel", from, func(tx repository.Store, p *models.PayoutRequest) error {
		now := s.Now()
		p.Status = models.PayoutStatusCancelled
		p.CancelledAt = &now
		p.ActedBy = actor.ID
		return tx.DeleteAllocations(ctx, p.ID)
	})
}

// Process commits the payout to processing and only then calls the
// gateway. A gateway error leaves it processing for manual reconciliation.
func (s *PayoutService) Process(ctx context.Context, id uuid.UUID, actor string) (*models.PayoutRequest, error) {
	key := payoutLockKey(id)
	ok, err := s.Cache.SetNX(ctx, key, actor, payoutLockTTL)
	if err != nil {
		s.Log.Warn("payout lock unavailable, relying on status guard", zap.String("payout_id", id.String()), zap.Error(err))
	} else if !ok {
		return nil, apperrors.E(apperrors.InvalidState, "payout is already being processed")
	}
	if ok {
		defer func() {
			if err := s.Cache.Delete(ctx, key); err != nil {
				s.Log.Warn("payout lock release failed", zap.String("payout_id", id.String()), zap.Error(err))
			}
		}()
	}

	payout, err := s.transition(ctx, id, "process", []models.PayoutStatus{models.PayoutStatusApproved}, func(tx repository.Store, p *models.PayoutRequest) error {
		now := s.Now()
		p.Status = models.PayoutStatusProcessing
		p.ProcessingAt = &now
		p.ActedBy = actor
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, gwErr := s.Payouts.CreatePayout(ctx, PayoutTransfer{
		Reference:   payout.ID.String(),
		Amount:      payout.Amount,
		Currency:    payout.Currency,
		Method:      payout.PaymentMethod,
		Beneficiary: payout.PaymentDetails,
		Notes:       fmt.Sprintf("LearnHub payout %s", payout.ID),
	})
	if gwErr != nil {
		payout.LastError = gwErr.Error()
		if err := s.Store.UpdatePayoutIf(ctx, payout, models.PayoutStatusProcessing); err != nil {
			s.Log.Error("could not store payout gateway error", zap.String("payout_id", payout.ID.String()), zap.Error(err))
		}
		s.Log.Error("payout gateway call failed, manual reconciliation required",
			zap.String("payout_id", payout.ID.String()),
			zap.String("amount", payout.Amount.StringFixed(2)),
			zap.Error(gwErr))
		s.publishPayout(ctx, EventPayoutFailed, payout, map[string]interface{}{"error": gwErr.Error()})
		return payout, apperrors.E(apperrors.GatewayFailure, "gateway payout failed", gwErr)
	}

	payout.TransactionID = res.TransactionID
	payout.GatewayStatus = res.Status
	payout.LastError = ""
	if err := s.Store.UpdatePayoutIf(ctx, payout, models.PayoutStatusProcessing); err != nil {
		// the transfer went out; complete it by hand with this reference
		s.Log.Error("could not store payout transfer reference, manual reconciliation required",
			zap.String("payout_id", payout.ID.String()),
			zap.String("transaction_id", res.TransactionID),
			zap.String("gateway_status", res.Status),
			zap.String("amount", payout.Amount.StringFixed(2)),
			zap.Error(err))
		return nil, err
	}
	if !res.Final {
		return payout, nil
	}
	return s.Complete(ctx, id, res.TransactionID, actor)
}

// Complete records that the money moved. Every revenue entry whose share
// is now fully covered by completed payouts advances to paid.
func (s *PayoutService) Complete(ctx context.Context, id uuid.UUID, transactionID, actor string) (*models.PayoutRequest, error) {
	var payout *models.PayoutRequest
	var advanced int64
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		p, err := tx.GetPayout(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != models.PayoutStatusProcessing {
			return apperrors.Errorf(apperrors.InvalidState, "cannot complete a %s payout", p.Status)
		}
		txID := transactionID
		if txID == "" {
			txID = p.TransactionID
		}
		if txID == "" {
			return apperrors.E(apperrors.Validation, "transaction id is required")
		}
		if _, err := tx.LockTeacherBalance(ctx, p.TeacherID); err != nil {
			return err
		}

		now := s.Now()
		p.Status = models.PayoutStatusCompleted
		p.TransactionID = txID
		p.CompletedAt = &now
		p.ActedBy = actor
		if err := tx.UpdatePayoutIf(ctx, p, models.PayoutStatusProcessing); err != nil {
			return err
		}

		if advanced, err = s.advanceDrawnEntries(ctx, tx, p, now); err != nil {
			return err
		}
		payout = p
		return tx.IncrementBalance(ctx, p.TeacherID, repository.BalanceDelta{
			AvailableForPayout: p.Amount.Neg(),
			TotalWithdrawn:     p.Amount,
		})
	})
	if err != nil {
		return nil, err
	}

	payoutTransitions.WithLabelValues(string(payout.Status)).Inc()
	s.Log.Info("payout completed",
		zap.String("payout_id", payout.ID.String()),
		zap.String("teacher_id", payout.TeacherID),
		zap.String("amount", payout.Amount.StringFixed(2)),
		zap.String("transaction_id", payout.TransactionID),
		zap.Int64("entries_paid", advanced))
	s.publishPayout(ctx, EventPayoutCompleted, payout, map[string]interface{}{"transaction_id": payout.TransactionID})
	s.sendReceipt(ctx, payout)
	return payout, nil
}

func (s *PayoutService) advanceDrawnEntries(ctx context.Context, tx repository.Store, p *models.PayoutRequest, now time.Time) (int64, error) {
	allocs, err := tx.ListAllocations(ctx, p.ID)
	if err != nil {
		return 0, err
	}
	if len(allocs) == 0 {
		return 0, nil
	}
	mine := make(map[uuid.UUID]bool, len(allocs))
	ids := make([]uuid.UUID, 0, len(allocs))
	for _, a := range allocs {
		if !mine[a.RevenueEntryID] {
			mine[a.RevenueEntryID] = true
			ids = append(ids, a.RevenueEntryID)
		}
	}
	paidOut, err := tx.AllocatedAmounts(ctx, ids, models.PayoutStatusCompleted)
	if err != nil {
		return 0, err
	}
	entries, err := tx.ListRevenueEntries(ctx, repository.RevenueFilter{
		TeacherID: p.TeacherID,
		Statuses:  []models.RevenueStatus{models.RevenueStatusProcessed},
	})
	if err != nil {
		return 0, err
	}

	var covered []uuid.UUID
	for _, e := range entries {
		if mine[e.ID] && paidOut[e.ID].GreaterThanOrEqual(e.TeacherShare) {
			covered = append(covered, e.ID)
		}
	}
	if len(covered) == 0 {
		return 0, nil
	}
	return tx.AdvanceRevenueEntries(ctx, covered, models.RevenueStatusProcessed, models.RevenueStatusPaid, now)
}

func (s *PayoutService) publishPayout(ctx context.Context, typ string, p *models.PayoutRequest, data map[string]interface{}) {
	amount := p.Amount
	if data == nil {
		data = map[string]interface{}{}
	}
	data["payout_id"] = p.ID.String()
	data["status"] = string(p.Status)
	s.publish(ctx, Event{
		Type:      typ,
		Key:       p.ID.String(),
		TeacherID: p.TeacherID,
		Amount:    &amount,
		Data:      data,
	})
}

// sendReceipt mails the PDF receipt; a failure never affects the payout
func (s *PayoutService) sendReceipt(ctx context.Context, p *models.PayoutRequest) {
	if s.Mailer == nil || p.PaymentDetails.Email == "" {
		return
	}
	log := s.Log.With(zap.String("payout_id", p.ID.String()))
	allocs, err := s.Store.ListAllocations(ctx, p.ID)
	if err != nil {
		log.Warn("receipt allocations lookup failed", zap.Error(err))
		return
	}
	pdf, err := RenderPayoutReceipt(p, allocs)
	if err != nil {
		log.Warn("receipt rendering failed", zap.Error(err))
		return
	}
	body := fmt.Sprintf("Hello %s,\n\nYour payout of %s %s has been completed. Transaction reference: %s.\nThe receipt is attached.\n",
		p.PaymentDetails.AccountHolder, p.Currency, p.Amount.StringFixed(2), p.TransactionID)
	err = s.Mailer.Send(p.PaymentDetails.Email, "Your LearnHub payout is complete", body,
		Attachment{Name: fmt.Sprintf("payout-%s.pdf", p.ID), Data: pdf})
	if err != nil {
		log.Warn("payout receipt email failed", zap.Error(err))
		return
	}
	log.Info("payout receipt emailed")
}

// Get returns a payout visible to actor
func (s *PayoutService) Get(ctx context.Context, id uuid.UUID, actor Actor) (*models.PayoutRequest, error) {
	p, err := s.Store.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && p.TeacherID != actor.ID {
		return nil, apperrors.E(apperrors.Forbidden, "payout belongs to another teacher")
	}
	return p, nil
}

func (s *PayoutService) List(ctx context.Context, teacherID string) ([]models.PayoutRequest, error) {
	return s.Store.ListPayouts(ctx, teacherID)
}

// Receipt renders the PDF receipt of a completed payout
func (s *PayoutService) Receipt(ctx context.Context, id uuid.UUID, actor Actor) ([]byte, error) {
	p, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PayoutStatusCompleted {
		return nil, apperrors.Errorf(apperrors.InvalidState, "receipts exist only for completed payouts, this one is %s", p.Status)
	}
	allocs, err := s.Store.ListAllocations(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return RenderPayoutReceipt(p, allocs)
}
