package services

import (
	"context"

	"github.com/razorpay/razorpay-go"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/models"
)

// RazorpayGateway opens Razorpay orders. Amounts go out in the smallest
// currency unit.
type RazorpayGateway struct {
	client *razorpay.Client
}

func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{client: razorpay.NewClient(keyID, keySecret)}
}

func (g *RazorpayGateway) Provider() models.PaymentGateway {
	return models.PaymentGatewayRazorpay
}

func razorpayOrderData(req CreateOrderRequest) map[string]interface{} {
	return map[string]interface{}{
		"amount":   req.Amount.Mul(hundred).Round(0).IntPart(),
		"currency": req.Currency,
		"receipt":  req.Reference,
		"notes": map[string]interface{}{
			"payer": req.PayerRef,
		},
	}
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error) {
	resp, err := g.client.Order.Create(razorpayOrderData(req), nil)
	if err != nil {
		return nil, apperrors.E(apperrors.GatewayFailure, "razorpay create order", err)
	}
	id, ok := resp["id"].(string)
	if !ok || id == "" {
		return nil, apperrors.E(apperrors.GatewayFailure, "razorpay order response has no id")
	}
	return &GatewayOrder{GatewayOrderID: id}, nil
}
