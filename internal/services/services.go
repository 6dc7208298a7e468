package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"learnhub_payments/internal/config"
	"learnhub_payments/internal/repository"
)

// TaskScheduler queues one-time background work for the worker
type TaskScheduler interface {
	ScheduleOnce(ctx context.Context, name string, args interface{}, due time.Time) error
}

// Deps are the collaborators shared by every service. Optional ones fall
// back to no-op implementations.
type Deps struct {
	Store     repository.Store
	Policy    config.Policy
	Log       *zap.Logger
	Gateway   OrderGateway
	Payouts   PayoutGateway
	Signer    *Signer
	Cache     Cache
	Events    EventPublisher
	Enroller  Enroller
	Scheduler TaskScheduler
	Mailer    Mailer
	Now       func() time.Time
}

type nopScheduler struct{}

func (nopScheduler) ScheduleOnce(ctx context.Context, name string, args interface{}, due time.Time) error {
	return nil
}

func (d *Deps) setDefaults() {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Payouts == nil {
		d.Payouts = ManualPayoutGateway{}
	}
	if d.Signer == nil {
		d.Signer = NewSigner("", "")
	}
	if d.Cache == nil {
		d.Cache = NopCache{}
	}
	if d.Events == nil {
		d.Events = NopPublisher{}
	}
	if d.Enroller == nil {
		d.Enroller = NopEnroller{}
	}
	if d.Scheduler == nil {
		d.Scheduler = nopScheduler{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// publish is fire-and-forget; consumers reconcile from the database
func (d *Deps) publish(ctx context.Context, e Event) {
	if err := d.Events.Publish(ctx, e); err != nil {
		d.Log.Warn("event publish failed", zap.String("type", e.Type), zap.String("key", e.Key), zap.Error(err))
	}
}

type Services struct {
	Payments     *PaymentService
	Installments *InstallmentService
	Webhooks     *WebhookService
	Ledger       *LedgerService
	Payouts      *PayoutService
}

func New(d Deps) *Services {
	d.setDefaults()
	deps := &d
	ledger := &LedgerService{Deps: deps}
	payments := &PaymentService{
		Deps:       deps,
		commission: NewCommissionCalculator(d.Policy),
		ledger:     ledger,
	}
	return &Services{
		Payments:     payments,
		Installments: &InstallmentService{Deps: deps, payments: payments},
		Webhooks:     &WebhookService{Deps: deps, payments: payments},
		Ledger:       ledger,
		Payouts:      &PayoutService{Deps: deps, ledger: ledger},
	}
}
