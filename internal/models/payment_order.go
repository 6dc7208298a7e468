package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentSource records who acquired the buyer
type PaymentSource string

const (
	PaymentSourcePlatform PaymentSource = "platform"
	PaymentSourceTeacher  PaymentSource = "teacher"
)

func (s PaymentSource) Valid() bool {
	return s == PaymentSourcePlatform || s == PaymentSourceTeacher
}

type PaymentStatus string

const (
	PaymentStatusCreated       PaymentStatus = "created"
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusCancelled     PaymentStatus = "cancelled"
	PaymentStatusRefunded      PaymentStatus = "refunded"
	PaymentStatusPartialRefund PaymentStatus = "partial_refund"
)

// Settled reports whether money was collected for an order in this status
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusPaid || s == PaymentStatusPartialRefund || s == PaymentStatusRefunded
}

// PaymentOrder is one purchase attempt. Rows are never hard-deleted.
type PaymentOrder struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PayerID   string `gorm:"type:varchar(128);index;not null" json:"payer_id"`
	TeacherID string `gorm:"type:varchar(128);index;not null" json:"teacher_id"`
	BatchID   string `gorm:"type:varchar(128);not null" json:"batch_id"`

	// Set when the order pays for a down payment (number nil) or an installment
	InstallmentPlanID *uuid.UUID `gorm:"type:uuid;index" json:"installment_plan_id,omitempty"`
	InstallmentNumber *int       `json:"installment_number,omitempty"`

	Amount         decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"amount"`
	OriginalAmount decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"original_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"discount_amount"`
	Currency       string          `gorm:"type:varchar(3);not null" json:"currency"`

	Source          PaymentSource   `gorm:"type:varchar(20);not null" json:"source"`
	CommissionRate  decimal.Decimal `gorm:"type:numeric(5,4);not null" json:"commission_rate"`
	PlatformFee     decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"platform_fee"`
	TeacherEarnings decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"teacher_earnings"`

	Status        PaymentStatus `gorm:"type:varchar(20);index;not null" json:"status"`
	FailureReason string        `gorm:"type:text" json:"failure_reason,omitempty"`
	PaymentMethod string        `gorm:"type:varchar(50)" json:"payment_method,omitempty"`

	PaymentGateway   PaymentGateway `gorm:"type:varchar(50)" json:"payment_gateway"`
	GatewayOrderID   *string        `gorm:"type:varchar(100);uniqueIndex" json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string        `gorm:"type:varchar(100)" json:"gateway_payment_id,omitempty"`
	GatewaySignature *string        `gorm:"type:varchar(255)" json:"-"`
	PaymentLink      string         `gorm:"type:text" json:"payment_link,omitempty"`

	RefundAmount decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"refund_amount"`
	RefundReason string          `gorm:"type:text" json:"refund_reason,omitempty"`
	RetryCount   int             `gorm:"not null;default:0" json:"retry_count"`

	PaidAt      *time.Time `json:"paid_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
}

// Refundable is the amount that can still be refunded
func (p PaymentOrder) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundAmount)
}

// GatewayOrderRef returns the gateway order id or an empty string
func (p PaymentOrder) GatewayOrderRef() string {
	if p.GatewayOrderID == nil {
		return ""
	}
	return *p.GatewayOrderID
}
