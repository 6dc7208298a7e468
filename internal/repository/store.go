// Package repository persists payment, installment, ledger and payout state.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"learnhub_payments/internal/models"
)

// Store is the persistence contract used by the services. Conditional
// updates return an apperrors.InvalidState error when the row left the
// expected state, and lookups return apperrors.NotFound.
type Store interface {
	// Transaction runs fn atomically. Calls on tx inside fn share it; a
	// nested Transaction rolls back only its own writes.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	PaymentStore
	WebhookStore
	InstallmentStore
	LedgerStore
	PayoutStore
	TaskStore
}

type PaymentFilter struct {
	PayerID           string
	TeacherID         string
	Status            models.PaymentStatus
	InstallmentPlanID *uuid.UUID
	InstallmentNumber *int
	Limit             int
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, p *models.PaymentOrder) error
	GetPayment(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error)
	GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error)
	GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.PaymentOrder, error)
	// UpdatePaymentIf writes p only while the stored status is one of from
	UpdatePaymentIf(ctx context.Context, p *models.PaymentOrder, from ...models.PaymentStatus) error
	ListPayments(ctx context.Context, f PaymentFilter) ([]models.PaymentOrder, error)
}

type WebhookStore interface {
	// InsertGatewayTransaction reports false when a record for the gateway order already exists
	InsertGatewayTransaction(ctx context.Context, t *models.GatewayTransaction) (bool, error)
	GetGatewayTransactionForUpdate(ctx context.Context, gatewayOrderID string) (*models.GatewayTransaction, error)
	SaveGatewayTransaction(ctx context.Context, t *models.GatewayTransaction) error
	RecordCallback(ctx context.Context, h *models.PaymentCallbackHistory) error
}

type InstallmentStore interface {
	CreatePlan(ctx context.Context, plan *models.InstallmentPlan) error
	GetPlan(ctx context.Context, id uuid.UUID) (*models.InstallmentPlan, error)
	GetPlanForUpdate(ctx context.Context, id uuid.UUID) (*models.InstallmentPlan, error)
	// UpdateInstallmentIf writes inst only while its stored status is one of from
	UpdateInstallmentIf(ctx context.Context, inst *models.Installment, from ...models.InstallmentStatus) error
	SavePlanSummary(ctx context.Context, plan *models.InstallmentPlan) error
	// PlansWithPendingDueBefore lists active plans holding a pending installment due before t
	PlansWithPendingDueBefore(ctx context.Context, t time.Time) ([]uuid.UUID, error)
}

type RevenueFilter struct {
	TeacherID string
	Statuses  []models.RevenueStatus
	From      *time.Time
	To        *time.Time
}

// BalanceDelta is added to a teacher's counters; negative values subtract
type BalanceDelta struct {
	TotalEarnings      decimal.Decimal
	AvailableForPayout decimal.Decimal
	TotalWithdrawn     decimal.Decimal
}

type LedgerStore interface {
	CreateRevenueEntry(ctx context.Context, e *models.RevenueEntry) error
	// ListRevenueEntries returns entries oldest first
	ListRevenueEntries(ctx context.Context, f RevenueFilter) ([]models.RevenueEntry, error)
	AdvanceRevenueEntries(ctx context.Context, ids []uuid.UUID, from, to models.RevenueStatus, at time.Time) (int64, error)
	// SettleRevenueEntries moves pending entries created before cutoff to processed
	SettleRevenueEntries(ctx context.Context, cutoff, at time.Time) (int64, error)
	SumTeacherShare(ctx context.Context, teacherID string, statuses ...models.RevenueStatus) (decimal.Decimal, error)

	IncrementBalance(ctx context.Context, teacherID string, d BalanceDelta) error
	// GetBalance returns a zero balance for teachers without a row
	GetBalance(ctx context.Context, teacherID string) (*models.TeacherBalance, error)
	// LockTeacherBalance creates the row if needed and holds it for the transaction
	LockTeacherBalance(ctx context.Context, teacherID string) (*models.TeacherBalance, error)
}

type PayoutStore interface {
	CreatePayout(ctx context.Context, p *models.PayoutRequest) error
	GetPayout(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	UpdatePayoutIf(ctx context.Context, p *models.PayoutRequest, from ...models.PayoutStatus) error
	ListPayouts(ctx context.Context, teacherID string) ([]models.PayoutRequest, error)
	SumPayouts(ctx context.Context, teacherID string, statuses ...models.PayoutStatus) (decimal.Decimal, error)

	CreateAllocations(ctx context.Context, allocs []models.PayoutAllocation) error
	ListAllocations(ctx context.Context, payoutID uuid.UUID) ([]models.PayoutAllocation, error)
	DeleteAllocations(ctx context.Context, payoutID uuid.UUID) error
	// AllocatedAmounts sums allocations per entry over payouts in the given statuses
	AllocatedAmounts(ctx context.Context, entryIDs []uuid.UUID, statuses ...models.PayoutStatus) (map[uuid.UUID]decimal.Decimal, error)
}

type TaskStore interface {
	CreateScheduledTask(ctx context.Context, t *models.ScheduledTask) error
	DueScheduledTasks(ctx context.Context, now time.Time) ([]models.ScheduledTask, error)
	SaveScheduledTask(ctx context.Context, t *models.ScheduledTask) error
	RecordTaskHistory(ctx context.Context, h *models.ScheduledTaskHistory) error
}
