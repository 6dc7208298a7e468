package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RevenueStatus string

const (
	RevenueStatusPending   RevenueStatus = "pending"
	RevenueStatusProcessed RevenueStatus = "processed"
	RevenueStatusPaid      RevenueStatus = "paid"
)

func (s RevenueStatus) rank() int {
	switch s {
	case RevenueStatusPending:
		return 1
	case RevenueStatusProcessed:
		return 2
	case RevenueStatusPaid:
		return 3
	}
	return 0
}

// CanAdvanceTo reports whether next is exactly one step forward
func (s RevenueStatus) CanAdvanceTo(next RevenueStatus) bool {
	return s.rank() > 0 && next.rank() == s.rank()+1
}

// RevenueEntry tracks the platform/teacher split of one settled payment.
// Only Status and its timestamps ever change.
type RevenueEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PaymentID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"payment_id"`
	TeacherID string    `gorm:"type:varchar(128);index;not null" json:"teacher_id"`

	Amount        decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"amount"`
	PlatformShare decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"platform_share"`
	TeacherShare  decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"teacher_share"`
	Currency      string          `gorm:"type:varchar(3);not null" json:"currency"`
	Source        PaymentSource   `gorm:"type:varchar(20);not null" json:"source"`

	Status      RevenueStatus `gorm:"type:varchar(20);index;not null" json:"status"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
	PaidAt      *time.Time    `json:"paid_at,omitempty"`
}

// TeacherBalance holds running counters, only ever changed by atomic increments
type TeacherBalance struct {
	TeacherID          string          `gorm:"type:varchar(128);primaryKey" json:"teacher_id"`
	TotalEarnings      decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"total_earnings"`
	AvailableForPayout decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"available_for_payout"`
	TotalWithdrawn     decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"total_withdrawn"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
