package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutStatusRequested  PayoutStatus = "requested"
	PayoutStatusApproved   PayoutStatus = "approved"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusRejected   PayoutStatus = "rejected"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

// OutstandingPayoutStatuses hold balance without having moved money yet
var OutstandingPayoutStatuses = []PayoutStatus{PayoutStatusRequested, PayoutStatusApproved, PayoutStatusProcessing}

type PayoutMethod string

const (
	PayoutMethodBankTransfer PayoutMethod = "bank_transfer"
	PayoutMethodUPI          PayoutMethod = "upi"
)

// PaymentDetails is the beneficiary payload for a payout
type PaymentDetails struct {
	AccountHolder string `json:"account_holder" validate:"required"`
	AccountNumber string `json:"account_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	UPIID         string `json:"upi_id,omitempty"`
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
}

// PayoutRequest is a teacher's withdrawal against unpaid teacher share
type PayoutRequest struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TeacherID      string          `gorm:"type:varchar(128);index;not null" json:"teacher_id"`
	Amount         decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"amount"`
	Currency       string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status         PayoutStatus    `gorm:"type:varchar(20);index;not null" json:"status"`
	PaymentMethod  PayoutMethod    `gorm:"type:varchar(20);not null" json:"payment_method"`
	PaymentDetails PaymentDetails  `gorm:"serializer:json;type:jsonb" json:"payment_details"`

	TransactionID   string `gorm:"type:varchar(100)" json:"transaction_id,omitempty"`
	GatewayStatus   string `gorm:"type:varchar(50)" json:"gateway_status,omitempty"`
	RejectionReason string `gorm:"type:text" json:"rejection_reason,omitempty"`
	LastError       string `gorm:"type:text" json:"last_error,omitempty"`
	ActedBy         string `gorm:"type:varchar(128)" json:"acted_by,omitempty"`

	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

// PayoutAllocation records how much of a revenue entry a payout draws
type PayoutAllocation struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	PayoutID       uuid.UUID       `gorm:"type:uuid;index;not null" json:"payout_id"`
	RevenueEntryID uuid.UUID       `gorm:"type:uuid;index;not null" json:"revenue_entry_id"`
	Amount         decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"amount"`
}
