package tasks

import (
	"time"

	"go.uber.org/zap"

	"learnhub_payments/internal/services"
)

// Dependencies are what the task definitions need from the service layer
type Dependencies struct {
	Services *services.Services
	Enroller services.Enroller
	Log      *zap.Logger
	Now      func() time.Time
}

// DefineTasks registers all available tasks on r
func DefineTasks(r *Registry, d Dependencies) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	settle := &SettleRevenueTaskDef{Ledger: d.Services.Ledger, Now: d.Now}
	r.Register(settle.TaskID(), settle.HandleExecution)

	sweep := &SweepOverdueTaskDef{Installments: d.Services.Installments, Now: d.Now}
	r.Register(sweep.TaskID(), sweep.HandleExecution)

	if d.Enroller != nil {
		retry := &RetryEnrollmentTaskDef{Enroller: d.Enroller, Log: d.Log}
		r.Register(retry.TaskID(), retry.HandleExecution)
	}
}
