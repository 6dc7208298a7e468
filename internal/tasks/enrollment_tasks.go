package tasks

import (
	"context"

	"go.uber.org/zap"

	"learnhub_payments/internal/models"
	"learnhub_payments/internal/services"
)

// RetryEnrollmentTaskDef re-sends an enrollment that failed after a payment settled
type RetryEnrollmentTaskDef struct {
	Enroller services.Enroller
	Log      *zap.Logger
}

func (t *RetryEnrollmentTaskDef) TaskID() string {
	return services.TaskRetryEnrollment
}

func (t *RetryEnrollmentTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	studentID, err := stringArg(task, "student_id")
	if err != nil {
		return nil, err
	}
	batchID, err := stringArg(task, "batch_id")
	if err != nil {
		return nil, err
	}
	paymentID, _ := task.Arguments["payment_id"].(string)

	if err := t.Enroller.Enroll(ctx, studentID, batchID); err != nil {
		return nil, err
	}
	t.Log.Info("enrollment retried",
		zap.String("student_id", studentID),
		zap.String("batch_id", batchID),
		zap.String("payment_id", paymentID))
	return map[string]interface{}{
		"status":     "success",
		"student_id": studentID,
		"batch_id":   batchID,
	}, nil
}
