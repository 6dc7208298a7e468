package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"learnhub_payments/internal/middleware"
	"learnhub_payments/internal/models"
	"learnhub_payments/internal/services"
)

type PayoutHandler struct {
	payouts *services.PayoutService
}

func NewPayoutHandler(payouts *services.PayoutService) *PayoutHandler {
	return &PayoutHandler{payouts: payouts}
}

type payoutRequest struct {
	Amount         decimal.Decimal       `json:"amount"`
	Currency       string                `json:"currency" validate:"omitempty,len=3"`
	PaymentMethod  models.PayoutMethod   `json:"payment_method" validate:"required,oneof=bank_transfer upi"`
	PaymentDetails models.PaymentDetails `json:"payment_details"`
}

type rejectPayoutRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type completePayoutRequest struct {
	TransactionID string `json:"transaction_id"`
}

func callerActor(c echo.Context) services.Actor {
	return services.Actor{ID: middleware.UserUID(c), IsAdmin: middleware.IsAdmin(c)}
}

// RequestPayout holds part of the caller's settled balance for withdrawal
func (h *PayoutHandler) RequestPayout(c echo.Context) error {
	var req payoutRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	payout, err := h.payouts.Request(c.Request().Context(), services.PayoutInput{
		TeacherID: middleware.UserUID(c),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Method:    req.PaymentMethod,
		Details:   req.PaymentDetails,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, payout)
}

func (h *PayoutHandler) ListPayouts(c echo.Context) error {
	teacherID, err := teacherScope(c)
	if err != nil {
		return err
	}
	payouts, err := h.payouts.List(c.Request().Context(), teacherID)
	if err != nil {
		return err
	}
	if payouts == nil {
		payouts = []models.PayoutRequest{}
	}
	return c.JSON(http.StatusOK, payouts)
}

func (h *PayoutHandler) GetPayout(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	payout, err := h.payouts.Get(c.Request().Context(), id, callerActor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, payout)
}

func (h *PayoutHandler) CancelPayout(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	payout, err := h.payouts.Cancel(c.Request().Context(), id, callerActor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, payout)
}

func (h *PayoutHandler) Receipt(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	pdf, err := h.payouts.Receipt(c.Request().Context(), id, callerActor(c))
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=payout-%s.pdf", id))
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}

func (h *PayoutHandler) ApprovePayout(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	payout, err := h.payouts.Approve(c.Request().Context(), id, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, payout)
}

func (h *PayoutHandler) RejectPayout(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req rejectPayoutRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	payout, err := h.payouts.Reject(c.Request().Context(), id, actor(c), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, payout)
}

// ProcessPayout sends the payout to the gateway. A gateway error still
// leaves the payout in processing, which the error body reports.
func (h *PayoutHandler) ProcessPayout(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	payout, err := h.payouts.Process(c.Request().Context(), id, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, payout)
}

func (h *PayoutHandler) CompletePayout(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req completePayoutRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	payout, err := h.payouts.Complete(c.Request().Context(), id, req.TransactionID, actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, payout)
}
