package services

import (
	"context"

	"github.com/shopspring/decimal"

	"learnhub_payments/internal/models"
)

// CreateOrderRequest asks the gateway to open a collection for one order
type CreateOrderRequest struct {
	Reference  string
	Amount     decimal.Decimal
	Currency   string
	PayerRef   string
	PayerEmail string
}

type GatewayOrder struct {
	GatewayOrderID string
	PaymentLink    string
}

// OrderGateway opens payment collections
type OrderGateway interface {
	Provider() models.PaymentGateway
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error)
}

// PayoutTransfer is one outbound payment to a teacher
type PayoutTransfer struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Method      models.PayoutMethod
	Beneficiary models.PaymentDetails
	Notes       string
}

// PayoutResult reports what the gateway did with a transfer. Final is set
// when the gateway confirms the money moved.
type PayoutResult struct {
	TransactionID string
	Status        string
	Final         bool
}

// PayoutGateway moves money to teachers
type PayoutGateway interface {
	CreatePayout(ctx context.Context, t PayoutTransfer) (*PayoutResult, error)
}

// ManualPayoutGateway leaves transfers to an operator, who confirms them
// through the payout complete endpoint.
type ManualPayoutGateway struct{}

func (ManualPayoutGateway) CreatePayout(ctx context.Context, t PayoutTransfer) (*PayoutResult, error) {
	return &PayoutResult{Status: "manual"}, nil
}
