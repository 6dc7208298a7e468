package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository"
)

// LedgerService owns revenue entries and teacher balance counters
type LedgerService struct {
	*Deps
}

// record writes the revenue entry and credits the teacher for a settled order
func (s *LedgerService) record(ctx context.Context, tx repository.Store, order *models.PaymentOrder) (*models.RevenueEntry, error) {
	entry := &models.RevenueEntry{
		PaymentID:     order.ID,
		TeacherID:     order.TeacherID,
		Amount:        order.Amount,
		PlatformShare: order.PlatformFee,
		TeacherShare:  order.TeacherEarnings,
		Currency:      order.Currency,
		Source:        order.Source,
		Status:        models.RevenueStatusPending,
	}
	if err := tx.CreateRevenueEntry(ctx, entry); err != nil {
		return nil, err
	}
	err := tx.IncrementBalance(ctx, order.TeacherID, repository.BalanceDelta{
		TotalEarnings:      order.TeacherEarnings,
		AvailableForPayout: order.TeacherEarnings,
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Settle moves pending entries older than the hold period to processed
func (s *LedgerService) Settle(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -s.Policy.RevenueHoldDays)
	n, err := s.Store.SettleRevenueEntries(ctx, cutoff, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.Log.Info("revenue entries settled", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// RevenueReport is a teacher's ledger over a period
type RevenueReport struct {
	Entries       []models.RevenueEntry `json:"entries"`
	TotalAmount   decimal.Decimal       `json:"total_amount"`
	PlatformShare decimal.Decimal       `json:"platform_share"`
	TeacherShare  decimal.Decimal       `json:"teacher_share"`
	PendingShare  decimal.Decimal       `json:"pending_share"`
	PaidShare     decimal.Decimal       `json:"paid_share"`
}

func (s *LedgerService) Report(ctx context.Context, f repository.RevenueFilter) (*RevenueReport, error) {
	entries, err := s.Store.ListRevenueEntries(ctx, f)
	if err != nil {
		return nil, err
	}
	r := &RevenueReport{Entries: entries}
	for _, e := range entries {
		r.TotalAmount = r.TotalAmount.Add(e.Amount)
		r.PlatformShare = r.PlatformShare.Add(e.PlatformShare)
		r.TeacherShare = r.TeacherShare.Add(e.TeacherShare)
		switch e.Status {
		case models.RevenueStatusPending:
			r.PendingShare = r.PendingShare.Add(e.TeacherShare)
		case models.RevenueStatusPaid:
			r.PaidShare = r.PaidShare.Add(e.TeacherShare)
		}
	}
	if r.Entries == nil {
		r.Entries = []models.RevenueEntry{}
	}
	return r, nil
}

// BalanceSummary explains how much a teacher can withdraw
type BalanceSummary struct {
	TeacherID          string          `json:"teacher_id"`
	TotalEarnings      decimal.Decimal `json:"total_earnings"`
	AvailableForPayout decimal.Decimal `json:"available_for_payout"`
	TotalWithdrawn     decimal.Decimal `json:"total_withdrawn"`
	SettledShare       decimal.Decimal `json:"settled_share"`
	OutstandingPayouts decimal.Decimal `json:"outstanding_payouts"`
	Withdrawable       decimal.Decimal `json:"withdrawable"`
}

// summarize computes the withdrawable amount as the lower of what the
// ledger allows and what the running counter allows.
func (s *LedgerService) summarize(ctx context.Context, store repository.Store, b *models.TeacherBalance) (*BalanceSummary, error) {
	settled, err := store.SumTeacherShare(ctx, b.TeacherID, models.RevenueStatusProcessed, models.RevenueStatusPaid)
	if err != nil {
		return nil, err
	}
	outstanding, err := store.SumPayouts(ctx, b.TeacherID, models.OutstandingPayoutStatuses...)
	if err != nil {
		return nil, err
	}
	completed, err := store.SumPayouts(ctx, b.TeacherID, models.PayoutStatusCompleted)
	if err != nil {
		return nil, err
	}

	fromLedger := settled.Sub(completed).Sub(outstanding)
	fromCounter := b.AvailableForPayout.Sub(outstanding)
	withdrawable := decimal.Min(fromLedger, fromCounter)
	if withdrawable.IsNegative() {
		withdrawable = decimal.Zero
	}

	return &BalanceSummary{
		TeacherID:          b.TeacherID,
		TotalEarnings:      b.TotalEarnings,
		AvailableForPayout: b.AvailableForPayout,
		TotalWithdrawn:     b.TotalWithdrawn,
		SettledShare:       settled,
		OutstandingPayouts: outstanding,
		Withdrawable:       withdrawable,
	}, nil
}

func (s *LedgerService) Balance(ctx context.Context, teacherID string) (*BalanceSummary, error) {
	b, err := s.Store.GetBalance(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, s.Store, b)
}
