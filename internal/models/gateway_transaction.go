package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type PaymentGateway string

const (
	PaymentGatewayMidtrans PaymentGateway = "midtrans"
	PaymentGatewayRazorpay PaymentGateway = "razorpay"
	PaymentGatewayManual   PaymentGateway = "manual"
)

type GatewayProcessingStatus string

const (
	GatewayProcessingReceived  GatewayProcessingStatus = "received"
	GatewayProcessingProcessed GatewayProcessingStatus = "processed"
	GatewayProcessingRejected  GatewayProcessingStatus = "rejected"
)

// GatewayTransaction is the dedup record for inbound webhook deliveries,
// one row per gateway order id
type GatewayTransaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PaymentGateway   PaymentGateway          `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	GatewayOrderID   string                  `gorm:"type:varchar(100);uniqueIndex;not null" json:"gateway_order_id"`
	GatewayPaymentID string                  `gorm:"type:varchar(100)" json:"gateway_payment_id"`
	PaymentOrderID   *uuid.UUID              `gorm:"type:uuid;index" json:"payment_order_id,omitempty"`
	Event            string                  `gorm:"type:varchar(50)" json:"event"`
	ReceivedStatus   string                  `gorm:"type:varchar(50)" json:"received_status"`
	Status           GatewayProcessingStatus `gorm:"type:varchar(20);not null" json:"status"`
	ProcessingError  string                  `gorm:"type:text" json:"processing_error,omitempty"`
	Payload          json.RawMessage         `gorm:"type:jsonb" json:"payload"`
	Attempts         int                     `gorm:"not null;default:1" json:"attempts"`
}

// ReceivedStatus values, normalized from gateway event names
const (
	ReceivedPaid      = "paid"
	ReceivedFailed    = "failed"
	ReceivedCancelled = "cancelled"
	ReceivedUnknown   = "unknown"
)

// Terminal reports whether later deliveries for this gateway order must be
// treated as duplicates. Only an applied capture or a refusal closes the
// record, so a capture arriving after a failure is still evaluated and
// recorded instead of being dropped.
func (t GatewayTransaction) Terminal() bool {
	if t.Status == GatewayProcessingRejected {
		return true
	}
	return t.Status == GatewayProcessingProcessed && t.ReceivedStatus == ReceivedPaid
}

// PaymentCallbackHistory keeps every raw delivery, valid or not
type PaymentCallbackHistory struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	PaymentGateway PaymentGateway  `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	GatewayOrderID string          `gorm:"type:varchar(100);index" json:"gateway_order_id"`
	Event          string          `gorm:"type:varchar(50)" json:"event"`
	SignatureValid bool            `json:"signature_valid"`
	Outcome        string          `gorm:"type:varchar(20)" json:"outcome"`
	Metadata       json.RawMessage `gorm:"type:jsonb" json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
