package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository"
)

const defaultRetryBackoff = 5 * time.Minute

// Runner executes due scheduled tasks and records their history
type Runner struct {
	Store        repository.TaskStore
	Registry     *Registry
	Log          *zap.Logger
	Now          func() time.Time
	RetryBackoff time.Duration
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// RunDue executes every active task whose due time has passed and reports
// how many ran
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	pending, err := r.Store.DueScheduledTasks(ctx, r.now())
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		r.Log.Debug("no pending tasks found")
		return 0, nil
	}
	r.Log.Info("found pending tasks", zap.Int("count", len(pending)))

	ran := 0
	for _, task := range pending {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		r.execute(ctx, task)
		ran++
	}
	return ran, nil
}

func (r *Runner) execute(ctx context.Context, task models.ScheduledTask) {
	log := r.Log.With(zap.String("task", task.TaskName), zap.Uint("task_id", task.ID))
	if task.Arguments == nil {
		task.Arguments = make(map[string]interface{})
	}
	startTime := r.now()
	task.LastRun = &startTime

	handler, found := r.Registry.Get(task.TaskName)
	if !found {
		log.Error("task handler not found, marking as failure")
		task.Status = models.ScheduledTaskStatusFailure
		task.LastError = "handler not found"
		r.save(ctx, log, &task)
		r.record(ctx, log, &models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           startTime,
			Status:          "handler_not_found",
			AttemptNumber:   task.Attempts + 1,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "Handler not found"},
		})
		return
	}

	result, err := handler(ctx, task)
	runtimeMs := int(r.now().Sub(startTime).Milliseconds())
	task.Attempts++

	status := "success"
	if err != nil {
		status = "failure"
		if result == nil {
			result = map[string]interface{}{}
		}
		result["error"] = err.Error()
		task.LastError = err.Error()
		log.Warn("task failed", zap.Int("attempt", task.Attempts), zap.Error(err))
	} else {
		task.LastError = ""
		log.Info("task completed", zap.Int("runtime_ms", runtimeMs))
	}

	r.record(ctx, log, &models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           startTime,
		Runtime:         runtimeMs,
		Status:          status,
		AttemptNumber:   task.Attempts,
		Arguments:       task.Arguments,
		Result:          result,
	})

	if err != nil {
		r.scheduleRetry(&task, startTime)
	} else {
		r.scheduleNext(&task, startTime)
	}
	r.save(ctx, log, &task)
}

func (r *Runner) scheduleRetry(task *models.ScheduledTask, now time.Time) {
	maxAttempt := task.MaxAttempt
	if maxAttempt <= 0 {
		maxAttempt = defaultMaxAttempt
	}
	if task.Attempts >= maxAttempt {
		if task.TaskType == models.ScheduledTaskTypeRecurring {
			// a recurring job gives up on this run, not on the schedule
			r.scheduleNext(task, now)
			return
		}
		task.Status = models.ScheduledTaskStatusFailure
		return
	}
	backoff := r.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	task.Due = task.RetryDue(now, backoff)
}

func (r *Runner) scheduleNext(task *models.ScheduledTask, now time.Time) {
	task.Attempts = 0
	switch task.TaskType {
	case models.ScheduledTaskTypeRecurring:
		nextDue := task.NextDue(now)
		// a next due in the past would run the task again on every tick
		if nextDue.After(now) {
			task.Status = models.ScheduledTaskStatusActive
			task.Due = nextDue
		} else {
			task.Status = models.ScheduledTaskStatusDone
		}
	default:
		task.Status = models.ScheduledTaskStatusDone
	}
}

func (r *Runner) save(ctx context.Context, log *zap.Logger, task *models.ScheduledTask) {
	if err := r.Store.SaveScheduledTask(ctx, task); err != nil {
		log.Error("failed to update task", zap.Error(err))
	}
}

func (r *Runner) record(ctx context.Context, log *zap.Logger, h *models.ScheduledTaskHistory) {
	if err := r.Store.RecordTaskHistory(ctx, h); err != nil {
		log.Error("failed to record task history", zap.Error(err))
	}
}
