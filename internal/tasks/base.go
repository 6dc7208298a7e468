package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository"
)

const defaultMaxAttempt = 3

// BuildScheduledTask is a helper to build ScheduledTask records generically
func BuildScheduledTask(taskName string, args interface{}, due time.Time, recurringInterval *string, taskType models.ScheduledTaskType, maxAttempt int) (*models.ScheduledTask, error) {
	argsBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	var mapArgs map[string]interface{}
	if err := json.Unmarshal(argsBytes, &mapArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into map: %w", err)
	}

	return &models.ScheduledTask{
		TaskName:          taskName,
		Arguments:         mapArgs,
		Due:               due,
		RecurringInterval: recurringInterval,
		Status:            models.ScheduledTaskStatusActive,
		TaskType:          taskType,
		MaxAttempt:        maxAttempt,
	}, nil
}

// Scheduler queues one-time tasks for the worker
type Scheduler struct {
	store repository.TaskStore
}

func NewScheduler(store repository.TaskStore) *Scheduler {
	return &Scheduler{store: store}
}

func (s *Scheduler) ScheduleOnce(ctx context.Context, name string, args interface{}, due time.Time) error {
	task, err := BuildScheduledTask(name, args, due, nil, models.ScheduledTaskTypeOneTime, defaultMaxAttempt)
	if err != nil {
		return err
	}
	return s.store.CreateScheduledTask(ctx, task)
}

// stringArg reads a required string argument
func stringArg(task models.ScheduledTask, key string) (string, error) {
	v, ok := task.Arguments[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s not provided or invalid", key)
	}
	return v, nil
}
