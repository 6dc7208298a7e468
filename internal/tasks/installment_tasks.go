package tasks

import (
	"context"
	"fmt"
	"time"

	"learnhub_payments/internal/models"
	"learnhub_payments/internal/services"
)

// SweepOverdueTaskDef runs the overdue check over every plan with a late installment
type SweepOverdueTaskDef struct {
	Installments *services.InstallmentService
	Now          func() time.Time
}

func (t *SweepOverdueTaskDef) TaskID() string {
	return "sweep_overdue_installments"
}

func (t *SweepOverdueTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	res, err := t.Installments.SweepOverdue(ctx, t.Now())
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{
		"status":              "success",
		"plans_checked":       res.PlansChecked,
		"installments_marked": res.InstallmentsMarked,
		"failures":            res.Failures,
	}
	if res.Failures > 0 {
		return result, fmt.Errorf("%d of %d plans could not be checked", res.Failures, res.PlansChecked)
	}
	return result, nil
}
