package middleware

import (
	"context"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/logger"
)

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"

	userUIDKey   = "userUID"
	userEmailKey = "userEmail"
	userRoleKey  = "userRole"
)

// TokenVerifier checks Firebase ID tokens; *auth.Client satisfies it
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// RequireAuth returns a middleware that verifies the Firebase ID token in
// the Authorization header
func RequireAuth(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if verifier == nil {
				return apperrors.E(apperrors.Internal, "authentication is not configured")
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || strings.TrimSpace(token) == "" {
				return apperrors.E(apperrors.Unauthorized, "missing bearer token")
			}

			decodedToken, err := verifier.VerifyIDToken(c.Request().Context(), strings.TrimSpace(token))
			if err != nil {
				logger.FromContext(c.Request().Context()).Warn("id token rejected", zap.Error(err))
				return apperrors.E(apperrors.Unauthorized, "invalid or expired token")
			}

			// Set user info in context for downstream handlers
			c.Set(userUIDKey, decodedToken.UID)
			if email, ok := decodedToken.Claims["email"].(string); ok {
				c.Set(userEmailKey, email)
			}
			role, _ := decodedToken.Claims["role"].(string)
			c.Set(userRoleKey, role)

			return next(c)
		}
	}
}

// RequireRole allows the request only when the caller has one of roles
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := UserRole(c)
			for _, r := range roles {
				if role == r {
					return next(c)
				}
			}
			return apperrors.Errorf(apperrors.Forbidden, "role %q may not access this resource", role)
		}
	}
}

func UserUID(c echo.Context) string {
	uid, _ := c.Get(userUIDKey).(string)
	return uid
}

func UserEmail(c echo.Context) string {
	email, _ := c.Get(userEmailKey).(string)
	return email
}

func UserRole(c echo.Context) string {
	role, _ := c.Get(userRoleKey).(string)
	return role
}

func IsAdmin(c echo.Context) bool {
	return UserRole(c) == RoleAdmin
}
