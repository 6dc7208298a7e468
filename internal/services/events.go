package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventPaymentPaid        = "payment.paid"
	EventPaymentFailed      = "payment.failed"
	EventPaymentRefunded    = "payment.refunded"
	EventPaymentUnapplied   = "payment.unapplied"
	EventInstallmentOverdue = "installment.overdue"
	EventPlanDefaulted      = "installment_plan.defaulted"
	EventPayoutRequested    = "payout.requested"
	EventPayoutCompleted    = "payout.completed"
	EventPayoutFailed       = "payout.failed"
)

// Event is a domain notification for downstream consumers
type Event struct {
	Type       string                 `json:"type"`
	Key        string                 `json:"key"`
	OccurredAt time.Time              `json:"occurred_at"`
	TeacherID  string                 `json:"teacher_id,omitempty"`
	StudentID  string                 `json:"student_id,omitempty"`
	Amount     *decimal.Decimal       `json:"amount,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// KafkaPublisher writes events to one topic keyed by aggregate id
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaPublisher returns nil when no broker is configured
func NewKafkaPublisher(brokers, topic string, log *zap.Logger) *KafkaPublisher {
	var valid []string
	for _, b := range strings.Split(brokers, ",") {
		if b := strings.TrimSpace(b); b != "" {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(valid...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireAll,
		},
		log: log,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(e.Key), Value: payload}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = p.writer.WriteMessages(writeCtx, msg)
		cancel()
		if lastErr == nil {
			return nil
		}
		p.log.Warn("kafka publish failed", zap.String("type", e.Type), zap.Int("attempt", attempt+1), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * 200 * time.Millisecond):
		}
	}
	return lastErr
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, e Event) error {
	return nil
}
