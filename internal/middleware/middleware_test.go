package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnhub_payments/internal/apperrors"
)

type stubVerifier struct {
	tokens map[string]*auth.Token
}

func (v stubVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if t, ok := v.tokens[idToken]; ok {
		return t, nil
	}
	return nil, errors.New("token expired")
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = CustomErrorHandler
	verifier := stubVerifier{tokens: map[string]*auth.Token{
		"teacher-token": {UID: "teacher-1", Claims: map[string]interface{}{"role": "teacher", "email": "t@example.com"}},
		"admin-token":   {UID: "admin-1", Claims: map[string]interface{}{"role": "admin"}},
	}}
	api := e.Group("/api", RequireAuth(verifier))
	api.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"uid":   UserUID(c),
			"email": UserEmail(c),
			"admin": IsAdmin(c),
		})
	})
	api.GET("/admin", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, RequireRole(RoleAdmin))
	return e
}

func do(e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

func TestRequireAuth(t *testing.T) {
	e := newEcho()

	rec := do(e, "/api/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec.Body).Kind)

	rec = do(e, "/api/me", "forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, "/api/me", "teacher-token")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "teacher-1", body["uid"])
	assert.Equal(t, "t@example.com", body["email"])
	assert.Equal(t, false, body["admin"])
}

func TestRequireAuth_NotConfigured(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = CustomErrorHandler
	e.GET("/x", func(c echo.Context) error { return nil }, RequireAuth(nil))

	rec := do(e, "/x", "anything")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequireRole(t *testing.T) {
	e := newEcho()

	rec := do(e, "/api/admin", "teacher-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeError(t, rec.Body).Kind)

	rec = do(e, "/api/admin", "admin-token")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[apperrors.Kind]int{
		apperrors.Validation:          http.StatusBadRequest,
		apperrors.InvalidAmount:       http.StatusBadRequest,
		apperrors.BelowMinimum:        http.StatusBadRequest,
		apperrors.Unauthorized:        http.StatusUnauthorized,
		apperrors.Forbidden:           http.StatusForbidden,
		apperrors.NotFound:            http.StatusNotFound,
		apperrors.InvalidState:        http.StatusConflict,
		apperrors.AlreadyPaid:         http.StatusConflict,
		apperrors.RetryLimitExceeded:  http.StatusConflict,
		apperrors.InsufficientBalance: http.StatusUnprocessableEntity,
		apperrors.GatewayFailure:      http.StatusBadGateway,
		apperrors.Internal:            http.StatusInternalServerError,
		apperrors.Other:               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(kind), kind.String())
	}
}

func TestCustomErrorHandler(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = CustomErrorHandler
	e.GET("/insufficient", func(c echo.Context) error {
		return apperrors.Errorf(apperrors.InsufficientBalance, "only %s is withdrawable", "600.00")
	})
	e.GET("/internal", func(c echo.Context) error {
		return apperrors.E(apperrors.Internal, "db exploded", errors.New("connection refused"))
	})
	e.GET("/plain", func(c echo.Context) error {
		return errors.New("boom")
	})

	rec := do(e, "/insufficient", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec.Body)
	assert.Equal(t, ErrorResponse{Status: "error", Kind: "insufficient_balance", Error: "only 600.00 is withdrawable"}, resp)

	rec = do(e, "/internal", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp = decodeError(t, rec.Body)
	assert.NotContains(t, resp.Error, "connection refused")

	rec = do(e, "/plain", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec.Body).Kind)

	rec = do(e, "/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec.Body).Kind)
}

func TestMetrics(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = CustomErrorHandler
	e.Use(Metrics())
	e.GET("/metrics", PrometheusHandler())
	e.GET("/api/things/:id", func(c echo.Context) error {
		return apperrors.E(apperrors.NotFound, "thing not found")
	})

	rec := do(e, "/api/things/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{endpoint="/api/things/:id",method="GET",status="404"} 1`)
}
