package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"learnhub_payments/internal/middleware"
	"learnhub_payments/internal/models"
	"learnhub_payments/internal/services"
)

type PaymentHandler struct {
	payments *services.PaymentService
}

func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type createPaymentRequest struct {
	TeacherID      string               `json:"teacher_id" validate:"required"`
	BatchID        string               `json:"batch_id" validate:"required"`
	Amount         decimal.Decimal      `json:"amount"`
	OriginalAmount decimal.Decimal      `json:"original_amount"`
	DiscountAmount decimal.Decimal      `json:"discount_amount"`
	Currency       string               `json:"currency" validate:"omitempty,len=3"`
	Source         models.PaymentSource `json:"source" validate:"required,oneof=platform teacher"`
	Email          string               `json:"email" validate:"omitempty,email"`
}

type verifyPaymentRequest struct {
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
	PaymentMethod    string `json:"payment_method"`
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required"`
}

type cancelPaymentRequest struct {
	Reason string `json:"reason"`
}

func payerEmail(c echo.Context, override string) string {
	if override != "" {
		return override
	}
	return middleware.UserEmail(c)
}

// CreatePayment opens an order for the caller and returns the payment link
func (h *PaymentHandler) CreatePayment(c echo.Context) error {
	var req createPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	order, err := h.payments.CreateOrder(c.Request().Context(), services.CreateOrderInput{
		PayerID:        middleware.UserUID(c),
		PayerEmail:     payerEmail(c, req.Email),
		TeacherID:      req.TeacherID,
		BatchID:        req.BatchID,
		Amount:         req.Amount,
		OriginalAmount: req.OriginalAmount,
		DiscountAmount: req.DiscountAmount,
		Currency:       req.Currency,
		Source:         req.Source,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, order)
}

// GetPayment is polled by the client while the gateway is busy
func (h *PaymentHandler) GetPayment(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	order, err := h.payments.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if err := ownerOrAdmin(c, order.PayerID, order.TeacherID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

func (h *PaymentHandler) VerifyPayment(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req verifyPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.checkPayer(c, id); err != nil {
		return err
	}

	order, err := h.payments.Verify(c.Request().Context(), id, req.GatewayPaymentID, req.Signature, req.PaymentMethod)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

func (h *PaymentHandler) RetryPayment(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.checkPayer(c, id); err != nil {
		return err
	}

	order, err := h.payments.Retry(c.Request().Context(), id, middleware.UserEmail(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

// CancelPayment abandons an order that was never paid
func (h *PaymentHandler) CancelPayment(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req cancelPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.checkPayer(c, id); err != nil {
		return err
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by payer"
	}

	order, err := h.payments.Cancel(c.Request().Context(), id, reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

func (h *PaymentHandler) RefundPayment(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req refundRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := h.payments.Refund(c.Request().Context(), id, req.Amount, req.Reason, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"payment":          res.Order,
		"balance":          res.Balance,
		"negative_balance": res.NegativeBalance,
	})
}

func (h *PaymentHandler) checkPayer(c echo.Context, id uuid.UUID) error {
	order, err := h.payments.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ownerOrAdmin(c, order.PayerID)
}
