package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"learnhub_payments/internal/middleware"
	"learnhub_payments/internal/models"
	"learnhub_payments/internal/services"
)

type PlanHandler struct {
	installments *services.InstallmentService
	now          func() time.Time
}

func NewPlanHandler(installments *services.InstallmentService, now func() time.Time) *PlanHandler {
	if now == nil {
		now = time.Now
	}
	return &PlanHandler{installments: installments, now: now}
}

type createPlanRequest struct {
	EnrollmentID         string                      `json:"enrollment_id"`
	StudentID            string                      `json:"student_id"`
	TeacherID            string                      `json:"teacher_id" validate:"required"`
	BatchID              string                      `json:"batch_id" validate:"required"`
	Source               models.PaymentSource        `json:"source" validate:"required,oneof=platform teacher"`
	Currency             string                      `json:"currency" validate:"omitempty,len=3"`
	TotalAmount          decimal.Decimal             `json:"total_amount"`
	DownPayment          decimal.Decimal             `json:"down_payment"`
	NumberOfInstallments int                         `json:"number_of_installments" validate:"required,min=1"`
	Frequency            models.InstallmentFrequency `json:"frequency" validate:"required,oneof=weekly biweekly monthly"`
	InterestRate         decimal.Decimal             `json:"interest_rate"`
	StartDate            *time.Time                  `json:"start_date"`
	Email                string                      `json:"email" validate:"omitempty,email"`
}

type markInstallmentPaidRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id" validate:"required"`
	PaymentMethod string          `json:"payment_method" validate:"required"`
}

// StorePlan creates an installment plan and, when there is one, the down
// payment order
func (h *PlanHandler) StorePlan(c echo.Context) error {
	var req createPlanRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	studentID := middleware.UserUID(c)
	if middleware.IsAdmin(c) && req.StudentID != "" {
		studentID = req.StudentID
	}
	start := h.now()
	if req.StartDate != nil {
		start = *req.StartDate
	}

	res, err := h.installments.CreatePlan(c.Request().Context(), services.CreatePlanInput{
		EnrollmentID:         req.EnrollmentID,
		StudentID:            studentID,
		StudentEmail:         payerEmail(c, req.Email),
		TeacherID:            req.TeacherID,
		BatchID:              req.BatchID,
		Source:               req.Source,
		Currency:             req.Currency,
		TotalAmount:          req.TotalAmount,
		DownPayment:          req.DownPayment,
		NumberOfInstallments: req.NumberOfInstallments,
		Frequency:            req.Frequency,
		InterestRate:         req.InterestRate,
		StartDate:            start,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"plan":               res.Plan,
		"down_payment_order": res.DownPaymentOrder,
	})
}

func (h *PlanHandler) GetPlan(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	plan, err := h.installments.GetPlan(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if err := ownerOrAdmin(c, plan.StudentID, plan.TeacherID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plan)
}

// PayInstallment opens (or reuses) the gateway order for one installment
func (h *PlanHandler) PayInstallment(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	number, err := paramInt(c, "number")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	plan, err := h.installments.GetPlan(ctx, id)
	if err != nil {
		return err
	}
	if err := ownerOrAdmin(c, plan.StudentID); err != nil {
		return err
	}

	order, err := h.installments.PayInstallment(ctx, id, number, middleware.UserEmail(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

func (h *PlanHandler) MarkInstallmentPaid(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	number, err := paramInt(c, "number")
	if err != nil {
		return err
	}
	var req markInstallmentPaidRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	plan, err := h.installments.MarkInstallmentPaid(c.Request().Context(), id, number, services.ManualPayment{
		Amount:        req.Amount,
		TransactionID: req.TransactionID,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plan)
}

func (h *PlanHandler) CheckOverdue(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	res, err := h.installments.CheckOverdue(c.Request().Context(), id, h.now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"plan":   res.Plan,
		"marked": res.Marked,
	})
}

func (h *PlanHandler) CancelPlan(c echo.Context) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	plan, err := h.installments.CancelPlan(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plan)
}
