package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/services"
)

const (
	signatureHeader = "X-Gateway-Signature"
	maxWebhookBody  = 1 << 20
)

type WebhookHandler struct {
	webhooks *services.WebhookService
}

func NewWebhookHandler(webhooks *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// HandleGatewayWebhook acknowledges every delivery the gateway should not
// retry. Only infrastructure failures answer 5xx.
func (h *WebhookHandler) HandleGatewayWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return apperrors.E(apperrors.Validation, "could not read body", err)
	}

	res, err := h.webhooks.Handle(c.Request().Context(), body, c.Request().Header.Get(signatureHeader))
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.SignatureInvalid, apperrors.DuplicateDelivery:
			return c.JSON(http.StatusOK, res)
		}
		return err
	}
	return c.JSON(http.StatusOK, res)
}
