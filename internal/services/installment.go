package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/config"
	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository"
)

type InstallmentService struct {
	*Deps
	payments *PaymentService
}

type CreatePlanInput struct {
	EnrollmentID         string
	StudentID            string
	StudentEmail         string
	TeacherID            string
	BatchID              string
	Source               models.PaymentSource
	Currency             string
	TotalAmount          decimal.Decimal
	DownPayment          decimal.Decimal
	NumberOfInstallments int
	Frequency            models.InstallmentFrequency
	InterestRate         decimal.Decimal
	StartDate            time.Time
}

type PlanResult struct {
	Plan             *models.InstallmentPlan `json:"plan"`
	DownPaymentOrder *models.PaymentOrder    `json:"down_payment_order,omitempty"`
}

// ManualPayment describes an installment settled outside the gateway
type ManualPayment struct {
	Amount        decimal.Decimal
	TransactionID string
	PaymentMethod string
}

// BuildPlan validates input and lays out the schedule. Nothing is persisted.
func BuildPlan(in CreatePlanInput, policy config.Policy, now time.Time) (*models.InstallmentPlan, error) {
	if in.EnrollmentID == "" || in.StudentID == "" || in.TeacherID == "" || in.BatchID == "" {
		return nil, apperrors.E(apperrors.Validation, "enrollment, student, teacher and batch are required")
	}
	if !in.Source.Valid() {
		return nil, apperrors.Errorf(apperrors.Validation, "unknown payment source %q", in.Source)
	}
	if !in.Frequency.Valid() {
		return nil, apperrors.Errorf(apperrors.Validation, "unknown frequency %q", in.Frequency)
	}
	if !in.TotalAmount.IsPositive() {
		return nil, apperrors.E(apperrors.InvalidAmount, "total amount must be greater than 0")
	}
	if !hasAtMostTwoDecimals(in.TotalAmount) || !hasAtMostTwoDecimals(in.DownPayment) {
		return nil, apperrors.E(apperrors.Validation, "amounts have at most 2 decimal places")
	}
	if in.DownPayment.IsNegative() || !in.DownPayment.LessThan(in.TotalAmount) {
		return nil, apperrors.E(apperrors.InvalidAmount, "down payment must be at least 0 and below the total amount")
	}

	principal := in.TotalAmount.Sub(in.DownPayment)
	emi, err := CalculateEMI(principal, in.InterestRate, in.NumberOfInstallments)
	if err != nil {
		return nil, err
	}

	start := in.StartDate
	if start.IsZero() {
		start = now
	}
	schedule := GenerateSchedule(start, in.NumberOfInstallments, in.Frequency, emi)
	if in.InterestRate.IsZero() {
		last := &schedule[len(schedule)-1]
		last.Amount = principal.Sub(emi.Mul(decimal.NewFromInt(int64(len(schedule) - 1))))
	}
	for _, inst := range schedule {
		if !inst.Amount.IsPositive() {
			return nil, apperrors.Errorf(apperrors.Validation,
				"financed amount %s is too small for %d installments", principal.StringFixed(2), in.NumberOfInstallments)
		}
	}

	remaining := decimal.Zero
	for _, inst := range schedule {
		remaining = remaining.Add(inst.Amount)
	}

	currency := in.Currency
	if currency == "" {
		currency = policy.DefaultCurrency
	}

	plan := &models.InstallmentPlan{
		ID:                   uuid.New(),
		EnrollmentID:         in.EnrollmentID,
		StudentID:            in.StudentID,
		TeacherID:            in.TeacherID,
		BatchID:              in.BatchID,
		Source:               in.Source,
		Currency:             currency,
		TotalAmount:          in.TotalAmount,
		DownPayment:          in.DownPayment,
		RemainingAmount:      remaining,
		InterestAmount:       remaining.Sub(principal),
		NumberOfInstallments: in.NumberOfInstallments,
		InstallmentAmount:    emi,
		Frequency:            in.Frequency,
		InterestRate:         in.InterestRate,
		StartDate:            start,
		EndDate:              schedule[len(schedule)-1].DueDate,
		Status:               models.PlanStatusActive,
		GracePeriodDays:      policy.GracePeriodDays,
		LateFee:              policy.LateFee,
		Installments:         schedule,
	}
	for i := range plan.Installments {
		plan.Installments[i].ID = uuid.New()
		plan.Installments[i].PlanID = plan.ID
	}
	plan.Recompute(policy.MaxMissedInstallments)
	return plan, nil
}

// applyInstallmentPayment settles the installment an order is linked to.
// It runs inside tx and returns nil for orders without an installment.
func applyInstallmentPayment(ctx context.Context, tx repository.Store, order *models.PaymentOrder, now time.Time, maxMissed int) (*models.InstallmentPlan, error) {
	if order.InstallmentPlanID == nil || order.InstallmentNumber == nil {
		return nil, nil
	}
	plan, err := tx.GetPlanForUpdate(ctx, *order.InstallmentPlanID)
	if err != nil {
		return nil, err
	}
	inst := plan.Installment(*order.InstallmentNumber)
	if inst == nil {
		return nil, apperrors.Errorf(apperrors.NotFound, "installment %d not found", *order.InstallmentNumber)
	}
	if inst.Status == models.InstallmentStatusPaid {
		return nil, apperrors.Errorf(apperrors.AlreadyPaid, "installment %d is already paid", inst.Number)
	}

	from := inst.Status
	paidAt := now
	inst.Status = models.InstallmentStatusPaid
	inst.PaidDate = &paidAt
	inst.PaidAmount = order.Amount
	inst.PaymentMethod = order.PaymentMethod
	inst.PaymentOrderID = &order.ID
	if order.GatewayPaymentID != nil {
		inst.TransactionID = *order.GatewayPaymentID
	}
	if err := tx.UpdateInstallmentIf(ctx, inst, from); err != nil {
		return nil, err
	}

	plan.Recompute(maxMissed)
	if err := tx.SavePlanSummary(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// CreatePlan persists the plan together with its down-payment order.
// A gateway failure on the down payment leaves that order failed and
// retryable; the plan still stands.
func (s *InstallmentService) CreatePlan(ctx context.Context, in CreatePlanInput) (*PlanResult, error) {
	plan, err := BuildPlan(in, s.Policy, s.Now())
	if err != nil {
		return nil, err
	}

	var down *models.PaymentOrder
	if in.DownPayment.IsPositive() {
		down, err = s.payments.buildOrder(CreateOrderInput{
			PayerID:   plan.StudentID,
			TeacherID: plan.TeacherID,
			BatchID:   plan.BatchID,
			Amount:    plan.DownPayment,
			Currency:  plan.Currency,
			Source:    plan.Source,
		})
		if err != nil {
			return nil, err
		}
		down.InstallmentPlanID = &plan.ID
	}

	err = s.Store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.CreatePlan(ctx, plan); err != nil {
			return err
		}
		if down != nil {
			return tx.CreatePayment(ctx, down)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("installment plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("total_amount", plan.TotalAmount.StringFixed(2)),
		zap.String("installment_amount", plan.InstallmentAmount.StringFixed(2)),
		zap.Int("installments", plan.NumberOfInstallments))

	res := &PlanResult{Plan: plan}
	if down != nil {
		order, err := s.payments.openGatewayOrder(ctx, down, in.StudentEmail)
		if err != nil && !apperrors.Is(err, apperrors.GatewayFailure) {
			return nil, err
		}
		if err != nil {
			s.Log.Warn("down payment order not opened", zap.String("plan_id", plan.ID.String()), zap.Error(err))
		}
		res.DownPaymentOrder = order
	}
	return res, nil
}

func (s *InstallmentService) GetPlan(ctx context.Context, id uuid.UUID) (*models.InstallmentPlan, error) {
	return s.Store.GetPlan(ctx, id)
}

func payableInstallment(plan *models.InstallmentPlan, number int) (*models.Installment, error) {
	if plan.Status == models.PlanStatusCancelled {
		return nil, apperrors.E(apperrors.InvalidState, "installment plan is cancelled")
	}
	inst := plan.Installment(number)
	if inst == nil {
		return nil, apperrors.Errorf(apperrors.NotFound, "installment %d not found", number)
	}
	if inst.Status == models.InstallmentStatusPaid {
		return nil, apperrors.Errorf(apperrors.AlreadyPaid, "installment %d is already paid", number)
	}
	return inst, nil
}

func (s *InstallmentService) installmentOrder(plan *models.InstallmentPlan, inst *models.Installment, amount decimal.Decimal) (*models.PaymentOrder, error) {
	order, err := s.payments.buildOrder(CreateOrderInput{
		PayerID:   plan.StudentID,
		TeacherID: plan.TeacherID,
		BatchID:   plan.BatchID,
		Amount:    amount,
		Currency:  plan.Currency,
		Source:    plan.Source,
	})
	if err != nil {
		return nil, err
	}
	number := inst.Number
	order.InstallmentPlanID = &plan.ID
	order.InstallmentNumber = &number
	return order, nil
}

// PayInstallment opens a gateway payment for one installment. An open order
// for the current amount due is reused; open orders for any other amount are
// cancelled so at most one order can be captured for the installment.
func (s *InstallmentService) PayInstallment(ctx context.Context, planID uuid.UUID, number int, payerEmail string) (*models.PaymentOrder, error) {
	var order *models.PaymentOrder
	var stale []models.PaymentOrder
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		plan, err := tx.GetPlanForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		inst, err := payableInstallment(plan, number)
		if err != nil {
			return err
		}

		open, err := tx.ListPayments(ctx, repository.PaymentFilter{
			InstallmentPlanID: &plan.ID,
			InstallmentNumber: &number,
			Status:            models.PaymentStatusCreated,
		})
		if err != nil {
			return err
		}
		due := inst.AmountDue()
		for i := range open {
			if order == nil && open[i].Amount.Equal(due) {
				order = &open[i]
				continue
			}
			if _, err := s.payments.applyCancelled(ctx, tx, &open[i], reasonInstallmentSuperseded); err != nil {
				return err
			}
			stale = append(stale, open[i])
		}
		if order != nil {
			return nil
		}

		if order, err = s.installmentOrder(plan, inst, due); err != nil {
			return err
		}
		return tx.CreatePayment(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	for i := range stale {
		s.payments.afterClosed(ctx, &stale[i])
	}
	if order.GatewayOrderID != nil {
		return order, nil
	}
	return s.payments.openGatewayOrder(ctx, order, payerEmail)
}

// MarkInstallmentPaid records a payment collected outside the gateway
func (s *InstallmentService) MarkInstallmentPaid(ctx context.Context, planID uuid.UUID, number int, in ManualPayment) (*models.InstallmentPlan, error) {
	if in.TransactionID == "" {
		return nil, apperrors.E(apperrors.Validation, "transaction id is required")
	}

	var st *settlement
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		plan, err := tx.GetPlanForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		inst, err := payableInstallment(plan, number)
		if err != nil {
			return err
		}
		amount := in.Amount
		if amount.IsZero() {
			amount = inst.AmountDue()
		}
		if amount.LessThan(inst.Amount) {
			return apperrors.Errorf(apperrors.InvalidAmount, "amount is below the installment amount %s", inst.Amount.StringFixed(2))
		}

		order, err := s.installmentOrder(plan, inst, amount)
		if err != nil {
			return err
		}
		order.PaymentGateway = models.PaymentGatewayManual
		if err := tx.CreatePayment(ctx, order); err != nil {
			return err
		}
		st, err = s.payments.applyPaid(ctx, tx, order, in.TransactionID, "", in.PaymentMethod)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.payments.afterPaid(ctx, st)
	return st.plan, nil
}

type OverdueResult struct {
	Plan   *models.InstallmentPlan `json:"plan"`
	Marked []int                   `json:"marked"`
}

// CheckOverdue moves pending installments past due date plus grace to
// overdue. Running it again with the same now changes nothing.
func (s *InstallmentService) CheckOverdue(ctx context.Context, planID uuid.UUID, now time.Time) (*OverdueResult, error) {
	var res *OverdueResult
	var defaulted bool
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		res, defaulted, err = s.checkOverdue(ctx, tx, planID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	plan := res.Plan
	for _, number := range res.Marked {
		overdueInstallments.Inc()
		inst := plan.Installment(number)
		amount := inst.AmountDue()
		s.publish(ctx, Event{
			Type:      EventInstallmentOverdue,
			Key:       plan.ID.String(),
			TeacherID: plan.TeacherID,
			StudentID: plan.StudentID,
			Amount:    &amount,
			Data: map[string]interface{}{
				"installment_plan_id": plan.ID.String(),
				"installment_number":  number,
				"due_date":            inst.DueDate,
			},
		})
	}
	if len(res.Marked) > 0 {
		s.Log.Info("installments overdue",
			zap.String("plan_id", plan.ID.String()),
			zap.Ints("numbers", res.Marked),
			zap.Int("missed_installments", plan.MissedInstallments))
	}
	if defaulted {
		s.Log.Warn("installment plan defaulted", zap.String("plan_id", plan.ID.String()))
		s.publish(ctx, Event{
			Type:      EventPlanDefaulted,
			Key:       plan.ID.String(),
			TeacherID: plan.TeacherID,
			StudentID: plan.StudentID,
			Data:      map[string]interface{}{"missed_installments": plan.MissedInstallments},
		})
	}
	return res, nil
}

func (s *InstallmentService) checkOverdue(ctx context.Context, tx repository.Store, planID uuid.UUID, now time.Time) (*OverdueResult, bool, error) {
	plan, err := tx.GetPlanForUpdate(ctx, planID)
	if err != nil {
		return nil, false, err
	}
	res := &OverdueResult{Plan: plan, Marked: []int{}}
	if plan.Status == models.PlanStatusCancelled || plan.Status == models.PlanStatusCompleted {
		return res, false, nil
	}

	prev := plan.Status
	raced := false
	for i := range plan.Installments {
		inst := &plan.Installments[i]
		if inst.Status != models.InstallmentStatusPending || !now.After(inst.GraceDeadline(plan.GracePeriodDays)) {
			continue
		}
		overdueAt := now
		inst.Status = models.InstallmentStatusOverdue
		inst.OverdueAt = &overdueAt
		inst.LateFee = plan.LateFee
		err := tx.UpdateInstallmentIf(ctx, inst, models.InstallmentStatusPending)
		if apperrors.Is(err, apperrors.InvalidState) {
			// paid concurrently
			raced = true
			continue
		}
		if err != nil {
			return nil, false, err
		}
		res.Marked = append(res.Marked, inst.Number)
	}
	if len(res.Marked) == 0 {
		return res, false, nil
	}
	if raced {
		if plan, err = tx.GetPlanForUpdate(ctx, planID); err != nil {
			return nil, false, err
		}
		res.Plan = plan
	}

	plan.Recompute(s.Policy.MaxMissedInstallments)
	if err := tx.SavePlanSummary(ctx, plan); err != nil {
		return nil, false, err
	}
	return res, prev != models.PlanStatusDefaulted && plan.Status == models.PlanStatusDefaulted, nil
}

type SweepResult struct {
	PlansChecked       int `json:"plans_checked"`
	InstallmentsMarked int `json:"installments_marked"`
	Failures           int `json:"failures"`
}

// SweepOverdue runs CheckOverdue over every plan with a pending
// installment already past due. One plan failing does not stop the rest.
func (s *InstallmentService) SweepOverdue(ctx context.Context, now time.Time) (*SweepResult, error) {
	ids, err := s.Store.PlansWithPendingDueBefore(ctx, now)
	if err != nil {
		return nil, err
	}
	res := &SweepResult{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r, err := s.CheckOverdue(ctx, id, now)
		res.PlansChecked++
		if err != nil {
			res.Failures++
			s.Log.Error("overdue check failed", zap.String("plan_id", id.String()), zap.Error(err))
			continue
		}
		res.InstallmentsMarked += len(r.Marked)
	}
	return res, nil
}

// CancelPlan stops further installment payments; paid installments stay
func (s *InstallmentService) CancelPlan(ctx context.Context, planID uuid.UUID) (*models.InstallmentPlan, error) {
	var plan *models.InstallmentPlan
	var cancelled []models.PaymentOrder
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		plan, err = tx.GetPlanForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		switch plan.Status {
		case models.PlanStatusCancelled:
			return nil
		case models.PlanStatusCompleted:
			return apperrors.E(apperrors.InvalidState, "completed plans cannot be cancelled")
		}
		plan.Status = models.PlanStatusCancelled
		plan.Recompute(s.Policy.MaxMissedInstallments)
		if err := tx.SavePlanSummary(ctx, plan); err != nil {
			return err
		}

		open, err := tx.ListPayments(ctx, repository.PaymentFilter{
			InstallmentPlanID: &plan.ID,
			Status:            models.PaymentStatusCreated,
		})
		if err != nil {
			return err
		}
		for i := range open {
			if _, err := s.payments.applyCancelled(ctx, tx, &open[i], "installment_plan_cancelled"); err != nil {
				return err
			}
		}
		cancelled = open
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range cancelled {
		s.payments.afterClosed(ctx, &cancelled[i])
	}
	s.Log.Info("installment plan cancelled", zap.String("plan_id", planID.String()), zap.Int("orders_cancelled", len(cancelled)))
	return plan, nil
}
