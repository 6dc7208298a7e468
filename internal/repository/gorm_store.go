package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/models"
)

// GormStore implements Store on postgres
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var forUpdate = clause.Locking{Strength: "UPDATE"}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func loadErr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.E(apperrors.NotFound, what+" not found")
	}
	return apperrors.E(apperrors.Internal, "load "+what, err)
}

func writeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.E(apperrors.InvalidState, what+" already exists", err)
	}
	return apperrors.E(apperrors.Internal, "write "+what, err)
}

func staleErr(what string, from interface{}) error {
	return apperrors.Errorf(apperrors.InvalidState, "%s is no longer in status %v", what, from)
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// Payments

func (s *GormStore) CreatePayment(ctx context.Context, p *models.PaymentOrder) error {
	ensureID(&p.ID)
	return writeErr(s.conn(ctx).Create(p).Error, "payment order")
}

func (s *GormStore) GetPayment(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error) {
	var p models.PaymentOrder
	if err := s.conn(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, loadErr(err, "payment order")
	}
	return &p, nil
}

func (s *GormStore) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error) {
	var p models.PaymentOrder
	if err := s.conn(ctx).Clauses(forUpdate).First(&p, "id = ?", id).Error; err != nil {
		return nil, loadErr(err, "payment order")
	}
	return &p, nil
}

func (s *GormStore) GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.PaymentOrder, error) {
	var p models.PaymentOrder
	if err := s.conn(ctx).First(&p, "gateway_order_id = ?", gatewayOrderID).Error; err != nil {
		return nil, loadErr(err, "payment order")
	}
	return &p, nil
}

func (s *GormStore) UpdatePaymentIf(ctx context.Context, p *models.PaymentOrder, from ...models.PaymentStatus) error {
	res := s.conn(ctx).Model(p).
		Where("status IN ?", from).
		Select("*").Omit("id", "created_at").
		Updates(p)
	if res.Error != nil {
		return writeErr(res.Error, "payment order")
	}
	if res.RowsAffected == 0 {
		return staleErr("payment order", from)
	}
	return nil
}

func (s *GormStore) ListPayments(ctx context.Context, f PaymentFilter) ([]models.PaymentOrder, error) {
	q := s.conn(ctx).Order("created_at DESC")
	if f.PayerID != "" {
		q = q.Where("payer_id = ?", f.PayerID)
	}
	if f.TeacherID != "" {
		q = q.Where("teacher_id = ?", f.TeacherID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.InstallmentPlanID != nil {
		q = q.Where("installment_plan_id = ?", *f.InstallmentPlanID)
	}
	if f.InstallmentNumber != nil {
		q = q.Where("installment_number = ?", *f.InstallmentNumber)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var out []models.PaymentOrder
	if err := q.Limit(limit).Find(&out).Error; err != nil {
		return nil, loadErr(err, "payment orders")
	}
	return out, nil
}

// Webhooks

func (s *GormStore) InsertGatewayTransaction(ctx context.Context, t *models.GatewayTransaction) (bool, error) {
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway_order_id"}},
		DoNothing: true,
	}).Create(t)
	if res.Error != nil {
		return false, writeErr(res.Error, "gateway transaction")
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) GetGatewayTransactionForUpdate(ctx context.Context, gatewayOrderID string) (*models.GatewayTransaction, error) {
	var t models.GatewayTransaction
	if err := s.conn(ctx).Clauses(forUpdate).First(&t, "gateway_order_id = ?", gatewayOrderID).Error; err != nil {
		return nil, loadErr(err, "gateway transaction")
	}
	return &t, nil
}

func (s *GormStore) SaveGatewayTransaction(ctx context.Context, t *models.GatewayTransaction) error {
	return writeErr(s.conn(ctx).Save(t).Error, "gateway transaction")
}

func (s *GormStore) RecordCallback(ctx context.Context, h *models.PaymentCallbackHistory) error {
	return writeErr(s.conn(ctx).Create(h).Error, "callback history")
}

// Installments

func (s *GormStore) CreatePlan(ctx context.Context, plan *models.InstallmentPlan) error {
	ensureID(&plan.ID)
	for i := range plan.Installments {
		ensureID(&plan.Installments[i].ID)
		plan.Installments[i].PlanID = plan.ID
	}
	return writeErr(s.conn(ctx).Create(plan).Error, "installment plan")
}

func (s *GormStore) GetPlan(ctx context.Context, id uuid.UUID) (*models.InstallmentPlan, error) {
	var plan models.InstallmentPlan
	err := s.conn(ctx).
		Preload("Installments", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		First(&plan, "id = ?", id).Error
	if err != nil {
		return nil, loadErr(err, "installment plan")
	}
	return &plan, nil
}

func (s *GormStore) GetPlanForUpdate(ctx context.Context, id uuid.UUID) (*models.InstallmentPlan, error) {
	var plan models.InstallmentPlan
	if err := s.conn(ctx).Clauses(forUpdate).First(&plan, "id = ?", id).Error; err != nil {
		return nil, loadErr(err, "installment plan")
	}
	if err := s.conn(ctx).Where("plan_id = ?", id).Order("number ASC").Find(&plan.Installments).Error; err != nil {
		return nil, loadErr(err, "installments")
	}
	return &plan, nil
}

func (s *GormStore) UpdateInstallmentIf(ctx context.Context, inst *models.Installment, from ...models.InstallmentStatus) error {
	res := s.conn(ctx).Model(inst).
		Where("status IN ?", from).
		Select("*").Omit("id", "created_at", "plan_id", "number").
		Updates(inst)
	if res.Error != nil {
		return writeErr(res.Error, "installment")
	}
	if res.RowsAffected == 0 {
		return staleErr("installment", from)
	}
	return nil
}

func (s *GormStore) SavePlanSummary(ctx context.Context, plan *models.InstallmentPlan) error {
	err := s.conn(ctx).Model(plan).Omit(clause.Associations).
		Select("status", "paid_installments", "missed_installments", "next_due_date",
			"next_due_amount", "total_paid", "total_outstanding", "updated_at").
		Updates(plan).Error
	return writeErr(err, "installment plan")
}

func (s *GormStore) PlansWithPendingDueBefore(ctx context.Context, t time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.conn(ctx).Model(&models.Installment{}).
		Joins("JOIN installment_plans ON installment_plans.id = installments.plan_id").
		Where("installments.status = ? AND installments.due_date < ? AND installment_plans.status = ?",
			models.InstallmentStatusPending, t, models.PlanStatusActive).
		Distinct().
		Pluck("installments.plan_id", &ids).Error
	if err != nil {
		return nil, loadErr(err, "installment plans")
	}
	return ids, nil
}

// Ledger

func (s *GormStore) CreateRevenueEntry(ctx context.Context, e *models.RevenueEntry) error {
	ensureID(&e.ID)
	return writeErr(s.conn(ctx).Create(e).Error, "revenue entry")
}

func (s *GormStore) ListRevenueEntries(ctx context.Context, f RevenueFilter) ([]models.RevenueEntry, error) {
	q := s.conn(ctx).Order("created_at ASC, id ASC")
	if f.TeacherID != "" {
		q = q.Where("teacher_id = ?", f.TeacherID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}
	var out []models.RevenueEntry
	if err := q.Find(&out).Error; err != nil {
		return nil, loadErr(err, "revenue entries")
	}
	return out, nil
}

func revenueUpdates(to models.RevenueStatus, at time.Time) map[string]interface{} {
	updates := map[string]interface{}{"status": to, "updated_at": at}
	switch to {
	case models.RevenueStatusProcessed:
		updates["processed_at"] = at
	case models.RevenueStatusPaid:
		updates["paid_at"] = at
	}
	return updates
}

func (s *GormStore) AdvanceRevenueEntries(ctx context.Context, ids []uuid.UUID, from, to models.RevenueStatus, at time.Time) (int64, error) {
	if !from.CanAdvanceTo(to) {
		return 0, apperrors.Errorf(apperrors.InvalidState, "revenue cannot move from %s to %s", from, to)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.conn(ctx).Model(&models.RevenueEntry{}).
		Where("id IN ? AND status = ?", ids, from).
		Updates(revenueUpdates(to, at))
	if res.Error != nil {
		return 0, writeErr(res.Error, "revenue entries")
	}
	return res.RowsAffected, nil
}

func (s *GormStore) SettleRevenueEntries(ctx context.Context, cutoff, at time.Time) (int64, error) {
	res := s.conn(ctx).Model(&models.RevenueEntry{}).
		Where("status = ? AND created_at < ?", models.RevenueStatusPending, cutoff).
		Updates(revenueUpdates(models.RevenueStatusProcessed, at))
	if res.Error != nil {
		return 0, writeErr(res.Error, "revenue entries")
	}
	return res.RowsAffected, nil
}

func (s *GormStore) SumTeacherShare(ctx context.Context, teacherID string, statuses ...models.RevenueStatus) (decimal.Decimal, error) {
	total := decimal.Zero
	q := s.conn(ctx).Model(&models.RevenueEntry{}).
		Select("COALESCE(SUM(teacher_share), 0)").
		Where("teacher_id = ?", teacherID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Row().Scan(&total); err != nil {
		return decimal.Zero, loadErr(err, "teacher share")
	}
	return total, nil
}

func (s *GormStore) IncrementBalance(ctx context.Context, teacherID string, d BalanceDelta) error {
	row := models.TeacherBalance{
		TeacherID:          teacherID,
		TotalEarnings:      d.TotalEarnings,
		AvailableForPayout: d.AvailableForPayout,
		TotalWithdrawn:     d.TotalWithdrawn,
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "teacher_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_earnings":       gorm.Expr("teacher_balances.total_earnings + ?", d.TotalEarnings),
			"available_for_payout": gorm.Expr("teacher_balances.available_for_payout + ?", d.AvailableForPayout),
			"total_withdrawn":      gorm.Expr("teacher_balances.total_withdrawn + ?", d.TotalWithdrawn),
			"updated_at":           time.Now(),
		}),
	}).Create(&row).Error
	return writeErr(err, "teacher balance")
}

func (s *GormStore) GetBalance(ctx context.Context, teacherID string) (*models.TeacherBalance, error) {
	var b models.TeacherBalance
	err := s.conn(ctx).First(&b, "teacher_id = ?", teacherID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.TeacherBalance{TeacherID: teacherID}, nil
	}
	if err != nil {
		return nil, loadErr(err, "teacher balance")
	}
	return &b, nil
}

func (s *GormStore) LockTeacherBalance(ctx context.Context, teacherID string) (*models.TeacherBalance, error) {
	err := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.TeacherBalance{TeacherID: teacherID}).Error
	if err != nil {
		return nil, writeErr(err, "teacher balance")
	}
	var b models.TeacherBalance
	if err := s.conn(ctx).Clauses(forUpdate).First(&b, "teacher_id = ?", teacherID).Error; err != nil {
		return nil, loadErr(err, "teacher balance")
	}
	return &b, nil
}

// Payouts

func (s *GormStore) CreatePayout(ctx context.Context, p *models.PayoutRequest) error {
	ensureID(&p.ID)
	return writeErr(s.conn(ctx).Create(p).Error, "payout request")
}

func (s *GormStore) GetPayout(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	var p models.PayoutRequest
	if err := s.conn(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, loadErr(err, "payout request")
	}
	return &p, nil
}

func (s *GormStore) UpdatePayoutIf(ctx context.Context, p *models.PayoutRequest, from ...models.PayoutStatus) error {
	res := s.conn(ctx).Model(p).
		Where("status IN ?", from).
		Select("*").Omit("id", "created_at").
		Updates(p)
	if res.Error != nil {
		return writeErr(res.Error, "payout request")
	}
	if res.RowsAffected == 0 {
		return staleErr("payout request", from)
	}
	return nil
}

func (s *GormStore) ListPayouts(ctx context.Context, teacherID string) ([]models.PayoutRequest, error) {
	var out []models.PayoutRequest
	if err := s.conn(ctx).Where("teacher_id = ?", teacherID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, loadErr(err, "payout requests")
	}
	return out, nil
}

func (s *GormStore) SumPayouts(ctx context.Context, teacherID string, statuses ...models.PayoutStatus) (decimal.Decimal, error) {
	total := decimal.Zero
	q := s.conn(ctx).Model(&models.PayoutRequest{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("teacher_id = ?", teacherID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Row().Scan(&total); err != nil {
		return decimal.Zero, loadErr(err, "payout total")
	}
	return total, nil
}

func (s *GormStore) CreateAllocations(ctx context.Context, allocs []models.PayoutAllocation) error {
	if len(allocs) == 0 {
		return nil
	}
	for i := range allocs {
		ensureID(&allocs[i].ID)
	}
	return writeErr(s.conn(ctx).Create(&allocs).Error, "payout allocations")
}

func (s *GormStore) ListAllocations(ctx context.Context, payoutID uuid.UUID) ([]models.PayoutAllocation, error) {
	var out []models.PayoutAllocation
	if err := s.conn(ctx).Where("payout_id = ?", payoutID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, loadErr(err, "payout allocations")
	}
	return out, nil
}

func (s *GormStore) DeleteAllocations(ctx context.Context, payoutID uuid.UUID) error {
	err := s.conn(ctx).Where("payout_id = ?", payoutID).Delete(&models.PayoutAllocation{}).Error
	return writeErr(err, "payout allocations")
}

func (s *GormStore) AllocatedAmounts(ctx context.Context, entryIDs []uuid.UUID, statuses ...models.PayoutStatus) (map[uuid.UUID]decimal.Decimal, error) {
	out := make(map[uuid.UUID]decimal.Decimal)
	if len(entryIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		RevenueEntryID uuid.UUID
		Total          decimal.Decimal
	}
	err := s.conn(ctx).Table("payout_allocations").
		Select("payout_allocations.revenue_entry_id, SUM(payout_allocations.amount) AS total").
		Joins("JOIN payout_requests ON payout_requests.id = payout_allocations.payout_id").
		Where("payout_allocations.revenue_entry_id IN ? AND payout_requests.status IN ?", entryIDs, statuses).
		Group("payout_allocations.revenue_entry_id").
		Scan(&rows).Error
	if err != nil {
		return nil, loadErr(err, "payout allocations")
	}
	for _, r := range rows {
		out[r.RevenueEntryID] = r.Total
	}
	return out, nil
}

// Scheduled tasks

func (s *GormStore) CreateScheduledTask(ctx context.Context, t *models.ScheduledTask) error {
	return writeErr(s.conn(ctx).Create(t).Error, "scheduled task")
}

func (s *GormStore) DueScheduledTasks(ctx context.Context, now time.Time) ([]models.ScheduledTask, error) {
	var out []models.ScheduledTask
	err := s.conn(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, now).
		Order("due ASC").
		Find(&out).Error
	if err != nil {
		return nil, loadErr(err, "scheduled tasks")
	}
	return out, nil
}

func (s *GormStore) SaveScheduledTask(ctx context.Context, t *models.ScheduledTask) error {
	return writeErr(s.conn(ctx).Save(t).Error, "scheduled task")
}

func (s *GormStore) RecordTaskHistory(ctx context.Context, h *models.ScheduledTaskHistory) error {
	return writeErr(s.conn(ctx).Create(h).Error, "task history")
}

var _ Store = (*GormStore)(nil)
