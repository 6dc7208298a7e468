package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/logger"
)

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Status string `json:"status"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.Validation, apperrors.InvalidAmount, apperrors.BelowMinimum, apperrors.SignatureInvalid:
		return http.StatusBadRequest
	case apperrors.Unauthorized:
		return http.StatusUnauthorized
	case apperrors.Forbidden:
		return http.StatusForbidden
	case apperrors.NotFound:
		return http.StatusNotFound
	case apperrors.InvalidState, apperrors.AlreadyPaid, apperrors.RetryLimitExceeded, apperrors.DuplicateDelivery:
		return http.StatusConflict
	case apperrors.InsufficientBalance:
		return http.StatusUnprocessableEntity
	case apperrors.GatewayFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CustomErrorHandler creates a custom error handler for Echo that renders
// application errors as JSON
func CustomErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	resp := ErrorResponse{Status: "error", Kind: apperrors.Internal.String(), Error: "Something went wrong. Please try again later."}

	var he *echo.HTTPError
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		code = StatusFor(appErr.Kind)
		resp.Kind = appErr.Kind.String()
		if code != http.StatusInternalServerError {
			resp.Error = appErr.Message
			if resp.Error == "" {
				resp.Error = appErr.Error()
			}
		}
	case errors.As(err, &he):
		code = he.Code
		resp.Kind = kindForStatus(code).String()
		if msg, ok := he.Message.(string); ok && msg != "" {
			resp.Error = msg
		} else {
			resp.Error = http.StatusText(code)
		}
	}

	log := logger.FromContext(c.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", code), zap.String("path", c.Path()), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("status", code), zap.String("kind", resp.Kind), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		log.Error("failed to write error response", zap.Error(err))
	}
}

func kindForStatus(code int) apperrors.Kind {
	switch code {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return apperrors.Validation
	case http.StatusUnauthorized:
		return apperrors.Unauthorized
	case http.StatusForbidden:
		return apperrors.Forbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return apperrors.NotFound
	default:
		return apperrors.Internal
	}
}
