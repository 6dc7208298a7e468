package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository"
	"learnhub_payments/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type RevenueHandler struct {
	ledger *services.LedgerService
}

func NewRevenueHandler(ledger *services.LedgerService) *RevenueHandler {
	return &RevenueHandler{ledger: ledger}
}

func (h *RevenueHandler) filter(c echo.Context) (repository.RevenueFilter, error) {
	teacherID, err := teacherScope(c)
	if err != nil {
		return repository.RevenueFilter{}, err
	}
	from, err := queryTime(c, "from")
	if err != nil {
		return repository.RevenueFilter{}, err
	}
	to, err := queryTime(c, "to")
	if err != nil {
		return repository.RevenueFilter{}, err
	}
	f := repository.RevenueFilter{TeacherID: teacherID, From: from, To: to}
	if status := c.QueryParam("status"); status != "" {
		f.Statuses = []models.RevenueStatus{models.RevenueStatus(status)}
	}
	return f, nil
}

// ListRevenue returns the teacher's ledger entries with totals
func (h *RevenueHandler) ListRevenue(c echo.Context) error {
	f, err := h.filter(c)
	if err != nil {
		return err
	}
	report, err := h.ledger.Report(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// ExportRevenue streams the ledger as an xlsx statement
func (h *RevenueHandler) ExportRevenue(c echo.Context) error {
	f, err := h.filter(c)
	if err != nil {
		return err
	}
	report, err := h.ledger.Report(c.Request().Context(), f)
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentType, xlsxContentType)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=revenue-%s.xlsx", f.TeacherID))
	c.Response().WriteHeader(http.StatusOK)
	return services.WriteRevenueStatement(c.Response(), report)
}

func (h *RevenueHandler) Balance(c echo.Context) error {
	teacherID, err := teacherScope(c)
	if err != nil {
		return err
	}
	summary, err := h.ledger.Balance(c.Request().Context(), teacherID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}
