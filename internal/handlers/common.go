package handlers

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/middleware"
)

// bind decodes the request body into req and validates it
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperrors.E(apperrors.Validation, "invalid request body", err)
	}
	if err := c.Validate(req); err != nil {
		return apperrors.E(apperrors.Validation, err.Error())
	}
	return nil
}

func paramUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.Errorf(apperrors.Validation, "invalid %s", name)
	}
	return id, nil
}

func paramInt(c echo.Context, name string) (int, error) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil || n < 1 {
		return 0, apperrors.Errorf(apperrors.Validation, "invalid %s", name)
	}
	return n, nil
}

// queryTime accepts a date (2006-01-02) or an RFC 3339 timestamp
func queryTime(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, apperrors.Errorf(apperrors.Validation, "%s must be YYYY-MM-DD or RFC 3339", name)
	}
	return &t, nil
}

// ownerOrAdmin allows the call when the caller is one of owners or an admin
func ownerOrAdmin(c echo.Context, owners ...string) error {
	if middleware.IsAdmin(c) {
		return nil
	}
	uid := middleware.UserUID(c)
	for _, o := range owners {
		if uid != "" && uid == o {
			return nil
		}
	}
	return apperrors.E(apperrors.Forbidden, "resource belongs to another user")
}

// teacherScope is the caller for teachers; admins may pass ?teacher_id
func teacherScope(c echo.Context) (string, error) {
	if middleware.IsAdmin(c) {
		if id := c.QueryParam("teacher_id"); id != "" {
			return id, nil
		}
		return "", apperrors.E(apperrors.Validation, "teacher_id is required")
	}
	if middleware.UserRole(c) != middleware.RoleTeacher {
		return "", apperrors.E(apperrors.Forbidden, "only teachers have revenue")
	}
	return middleware.UserUID(c), nil
}

func actor(c echo.Context) string {
	return middleware.UserUID(c)
}
