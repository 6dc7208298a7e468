package tasks

import (
	"context"
	"time"

	"learnhub_payments/internal/models"
	"learnhub_payments/internal/services"
)

// SettleRevenueTaskDef moves revenue past the refund window to processed
type SettleRevenueTaskDef struct {
	Ledger *services.LedgerService
	Now    func() time.Time
}

func (t *SettleRevenueTaskDef) TaskID() string {
	return "settle_revenue"
}

func (t *SettleRevenueTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	settled, err := t.Ledger.Settle(ctx, t.Now())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":  "success",
		"settled": settled,
	}, nil
}
