// Package repotest provides an in-memory repository.Store for service tests.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"learnhub_payments/internal/apperrors"
	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository"
)

type state struct {
	payments     map[uuid.UUID]models.PaymentOrder
	gatewayTx    map[string]models.GatewayTransaction
	callbacks    []models.PaymentCallbackHistory
	plans        map[uuid.UUID]models.InstallmentPlan
	installments map[uuid.UUID][]models.Installment
	revenue      map[uuid.UUID]models.RevenueEntry
	revenueOrder []uuid.UUID
	balances     map[string]models.TeacherBalance
	payouts      map[uuid.UUID]models.PayoutRequest
	allocations  []models.PayoutAllocation
	tasks        map[uint]models.ScheduledTask
	history      []models.ScheduledTaskHistory
	nextID       uint
}

func newState() *state {
	return &state{
		payments:     map[uuid.UUID]models.PaymentOrder{},
		gatewayTx:    map[string]models.GatewayTransaction{},
		plans:        map[uuid.UUID]models.InstallmentPlan{},
		installments: map[uuid.UUID][]models.Installment{},
		revenue:      map[uuid.UUID]models.RevenueEntry{},
		balances:     map[string]models.TeacherBalance{},
		payouts:      map[uuid.UUID]models.PayoutRequest{},
		tasks:        map[uint]models.ScheduledTask{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.gatewayTx {
		c.gatewayTx[k] = v
	}
	c.callbacks = append(c.callbacks, s.callbacks...)
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.installments {
		c.installments[k] = append([]models.Installment(nil), v...)
	}
	for k, v := range s.revenue {
		c.revenue[k] = v
	}
	c.revenueOrder = append(c.revenueOrder, s.revenueOrder...)
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.payouts {
		c.payouts[k] = v
	}
	c.allocations = append(c.allocations, s.allocations...)
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	c.history = append(c.history, s.history...)
	c.nextID = s.nextID
	return c
}

type shared struct {
	failures          map[string]error
	now               func() time.Time
	installmentUpdate func(stored *models.Installment)
}

// Store is a mutex-serialized in-memory Store. A Transaction holds the
// lock for its whole body and restores a snapshot when fn fails.
type Store struct {
	mu     *sync.Mutex
	inTx   bool
	st     *state
	shared *shared
}

func New() *Store {
	return &Store{
		mu:     &sync.Mutex{},
		st:     newState(),
		shared: &shared{failures: map[string]error{}, now: time.Now},
	}
}

// Fail makes the named method return err until cleared with a nil err
func (s *Store) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.shared.failures, method)
		return
	}
	s.shared.failures[method] = err
}

// SetNow overrides the clock used to stamp created/updated times
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shared.now = now
}

// OnUpdateInstallment runs fn against the stored row at the start of every
// UpdateInstallmentIf, letting a test change it as a concurrent writer would
func (s *Store) OnUpdateInstallment(fn func(stored *models.Installment)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shared.installmentUpdate = fn
}

// Callbacks returns the recorded raw webhook deliveries
func (s *Store) Callbacks() []models.PaymentCallbackHistory {
	defer s.lock()()
	return append([]models.PaymentCallbackHistory(nil), s.st.callbacks...)
}

// Tasks returns every scheduled task ordered by id
func (s *Store) Tasks() []models.ScheduledTask {
	defer s.lock()()
	out := make([]models.ScheduledTask, 0, len(s.st.tasks))
	for _, t := range s.st.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TaskHistory returns every recorded task run
func (s *Store) TaskHistory() []models.ScheduledTaskHistory {
	defer s.lock()()
	return append([]models.ScheduledTaskHistory(nil), s.st.history...)
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) fail(method string) error {
	return s.shared.failures[method]
}

func (s *Store) now() time.Time {
	return s.shared.now()
}

func (s *Store) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		savepoint := s.st.clone()
		if err := fn(s); err != nil {
			*s.st = *savepoint
			return err
		}
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fail("Transaction"); err != nil {
		return err
	}
	snapshot := s.st.clone()
	tx := &Store{mu: s.mu, inTx: true, st: s.st, shared: s.shared}
	if err := fn(tx); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

func notFound(what string) error {
	return apperrors.E(apperrors.NotFound, what+" not found")
}

func stale(what string, from interface{}) error {
	return apperrors.Errorf(apperrors.InvalidState, "%s is no longer in status %v", what, from)
}

func duplicate(what string) error {
	return apperrors.E(apperrors.InvalidState, what+" already exists")
}

func in[T comparable](v T, set []T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Payments

func (s *Store) CreatePayment(ctx context.Context, p *models.PaymentOrder) error {
	defer s.lock()()
	if err := s.fail("CreatePayment"); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, ok := s.st.payments[p.ID]; ok {
		return duplicate("payment order")
	}
	if err := s.checkGatewayOrderUnique(p); err != nil {
		return err
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.st.payments[p.ID] = *p
	return nil
}

func (s *Store) checkGatewayOrderUnique(p *models.PaymentOrder) error {
	if p.GatewayOrderID == nil {
		return nil
	}
	for id, other := range s.st.payments {
		if id != p.ID && other.GatewayOrderID != nil && *other.GatewayOrderID == *p.GatewayOrderID {
			return duplicate("payment order")
		}
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error) {
	defer s.lock()()
	p, ok := s.st.payments[id]
	if !ok {
		return nil, notFound("payment order")
	}
	return &p, nil
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error) {
	return s.GetPayment(ctx, id)
}

func (s *Store) GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.PaymentOrder, error) {
	defer s.lock()()
	for _, p := range s.st.payments {
		if p.GatewayOrderID != nil && *p.GatewayOrderID == gatewayOrderID {
			p := p
			return &p, nil
		}
	}
	return nil, notFound("payment order")
}

func (s *Store) UpdatePaymentIf(ctx context.Context, p *models.PaymentOrder, from ...models.PaymentStatus) error {
	defer s.lock()()
	if err := s.fail("UpdatePaymentIf"); err != nil {
		return err
	}
	cur, ok := s.st.payments[p.ID]
	if !ok || !in(cur.Status, from) {
		return stale("payment order", from)
	}
	if err := s.checkGatewayOrderUnique(p); err != nil {
		return err
	}
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = s.now()
	s.st.payments[p.ID] = *p
	return nil
}

func (s *Store) ListPayments(ctx context.Context, f repository.PaymentFilter) ([]models.PaymentOrder, error) {
	defer s.lock()()
	var out []models.PaymentOrder
	for _, p := range s.st.payments {
		if f.PayerID != "" && p.PayerID != f.PayerID {
			continue
		}
		if f.TeacherID != "" && p.TeacherID != f.TeacherID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.InstallmentPlanID != nil && (p.InstallmentPlanID == nil || *p.InstallmentPlanID != *f.InstallmentPlanID) {
			continue
		}
		if f.InstallmentNumber != nil && (p.InstallmentNumber == nil || *p.InstallmentNumber != *f.InstallmentNumber) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Webhooks

func (s *Store) InsertGatewayTransaction(ctx context.Context, t *models.GatewayTransaction) (bool, error) {
	defer s.lock()()
	if err := s.fail("InsertGatewayTransaction"); err != nil {
		return false, err
	}
	if _, ok := s.st.gatewayTx[t.GatewayOrderID]; ok {
		return false, nil
	}
	s.st.nextID++
	t.ID = s.st.nextID
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.st.gatewayTx[t.GatewayOrderID] = *t
	return true, nil
}

func (s *Store) GetGatewayTransactionForUpdate(ctx context.Context, gatewayOrderID string) (*models.GatewayTransaction, error) {
	defer s.lock()()
	t, ok := s.st.gatewayTx[gatewayOrderID]
	if !ok {
		return nil, notFound("gateway transaction")
	}
	return &t, nil
}

func (s *Store) SaveGatewayTransaction(ctx context.Context, t *models.GatewayTransaction) error {
	defer s.lock()()
	t.UpdatedAt = s.now()
	s.st.gatewayTx[t.GatewayOrderID] = *t
	return nil
}

func (s *Store) RecordCallback(ctx context.Context, h *models.PaymentCallbackHistory) error {
	defer s.lock()()
	s.st.nextID++
	h.ID = s.st.nextID
	h.CreatedAt = s.now()
	s.st.callbacks = append(s.st.callbacks, *h)
	return nil
}

// Installments

func (s *Store) CreatePlan(ctx context.Context, plan *models.InstallmentPlan) error {
	defer s.lock()()
	if err := s.fail("CreatePlan"); err != nil {
		return err
	}
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	now := s.now()
	plan.CreatedAt, plan.UpdatedAt = now, now
	seen := map[int]bool{}
	for i := range plan.Installments {
		inst := &plan.Installments[i]
		if seen[inst.Number] {
			return duplicate("installment")
		}
		seen[inst.Number] = true
		if inst.ID == uuid.Nil {
			inst.ID = uuid.New()
		}
		inst.PlanID = plan.ID
		inst.CreatedAt, inst.UpdatedAt = now, now
	}
	row := *plan
	row.Installments = nil
	s.st.plans[plan.ID] = row
	s.st.installments[plan.ID] = append([]models.Installment(nil), plan.Installments...)
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (*models.InstallmentPlan, error) {
	defer s.lock()()
	plan, ok := s.st.plans[id]
	if !ok {
		return nil, notFound("installment plan")
	}
	plan.Installments = append([]models.Installment(nil), s.st.installments[id]...)
	sort.Slice(plan.Installments, func(i, j int) bool {
		return plan.Installments[i].Number < plan.Installments[j].Number
	})
	return &plan, nil
}

func (s *Store) GetPlanForUpdate(ctx context.Context, id uuid.UUID) (*models.InstallmentPlan, error) {
	return s.GetPlan(ctx, id)
}

func (s *Store) UpdateInstallmentIf(ctx context.Context, inst *models.Installment, from ...models.InstallmentStatus) error {
	defer s.lock()()
	if err := s.fail("UpdateInstallmentIf"); err != nil {
		return err
	}
	list := s.st.installments[inst.PlanID]
	for i := range list {
		if list[i].ID != inst.ID {
			continue
		}
		if hook := s.shared.installmentUpdate; hook != nil {
			hook(&list[i])
		}
		if !in(list[i].Status, from) {
			return stale("installment", from)
		}
		inst.UpdatedAt = s.now()
		list[i] = *inst
		return nil
	}
	return stale("installment", from)
}

func (s *Store) SavePlanSummary(ctx context.Context, plan *models.InstallmentPlan) error {
	defer s.lock()()
	if err := s.fail("SavePlanSummary"); err != nil {
		return err
	}
	row, ok := s.st.plans[plan.ID]
	if !ok {
		return notFound("installment plan")
	}
	row.Status = plan.Status
	row.PaidInstallments = plan.PaidInstallments
	row.MissedInstallments = plan.MissedInstallments
	row.NextDueDate = plan.NextDueDate
	row.NextDueAmount = plan.NextDueAmount
	row.TotalPaid = plan.TotalPaid
	row.TotalOutstanding = plan.TotalOutstanding
	row.UpdatedAt = s.now()
	s.st.plans[plan.ID] = row
	return nil
}

func (s *Store) PlansWithPendingDueBefore(ctx context.Context, t time.Time) ([]uuid.UUID, error) {
	defer s.lock()()
	var out []uuid.UUID
	for id, plan := range s.st.plans {
		if plan.Status != models.PlanStatusActive {
			continue
		}
		for _, inst := range s.st.installments[id] {
			if inst.Status == models.InstallmentStatusPending && inst.DueDate.Before(t) {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

// Ledger

func (s *Store) CreateRevenueEntry(ctx context.Context, e *models.RevenueEntry) error {
	defer s.lock()()
	if err := s.fail("CreateRevenueEntry"); err != nil {
		return err
	}
	for _, other := range s.st.revenue {
		if other.PaymentID == e.PaymentID {
			return duplicate("revenue entry")
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	s.st.revenue[e.ID] = *e
	s.st.revenueOrder = append(s.st.revenueOrder, e.ID)
	return nil
}

func (s *Store) ListRevenueEntries(ctx context.Context, f repository.RevenueFilter) ([]models.RevenueEntry, error) {
	defer s.lock()()
	var out []models.RevenueEntry
	for _, id := range s.st.revenueOrder {
		e := s.st.revenue[id]
		if f.TeacherID != "" && e.TeacherID != f.TeacherID {
			continue
		}
		if len(f.Statuses) > 0 && !in(e.Status, f.Statuses) {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !e.CreatedAt.Before(*f.To) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func advance(e *models.RevenueEntry, to models.RevenueStatus, at time.Time) {
	e.Status = to
	e.UpdatedAt = at
	switch to {
	case models.RevenueStatusProcessed:
		e.ProcessedAt = &at
	case models.RevenueStatusPaid:
		e.PaidAt = &at
	}
}

func (s *Store) AdvanceRevenueEntries(ctx context.Context, ids []uuid.UUID, from, to models.RevenueStatus, at time.Time) (int64, error) {
	defer s.lock()()
	if !from.CanAdvanceTo(to) {
		return 0, apperrors.Errorf(apperrors.InvalidState, "revenue cannot move from %s to %s", from, to)
	}
	var n int64
	for _, id := range ids {
		e, ok := s.st.revenue[id]
		if !ok || e.Status != from {
			continue
		}
		advance(&e, to, at)
		s.st.revenue[id] = e
		n++
	}
	return n, nil
}

func (s *Store) SettleRevenueEntries(ctx context.Context, cutoff, at time.Time) (int64, error) {
	defer s.lock()()
	if err := s.fail("SettleRevenueEntries"); err != nil {
		return 0, err
	}
	var n int64
	for id, e := range s.st.revenue {
		if e.Status != models.RevenueStatusPending || !e.CreatedAt.Before(cutoff) {
			continue
		}
		advance(&e, models.RevenueStatusProcessed, at)
		s.st.revenue[id] = e
		n++
	}
	return n, nil
}

func (s *Store) SumTeacherShare(ctx context.Context, teacherID string, statuses ...models.RevenueStatus) (decimal.Decimal, error) {
	defer s.lock()()
	total := decimal.Zero
	for _, e := range s.st.revenue {
		if e.TeacherID == teacherID && (len(statuses) == 0 || in(e.Status, statuses)) {
			total = total.Add(e.TeacherShare)
		}
	}
	return total, nil
}

func (s *Store) IncrementBalance(ctx context.Context, teacherID string, d repository.BalanceDelta) error {
	defer s.lock()()
	if err := s.fail("IncrementBalance"); err != nil {
		return err
	}
	b := s.st.balances[teacherID]
	b.TeacherID = teacherID
	b.TotalEarnings = b.TotalEarnings.Add(d.TotalEarnings)
	b.AvailableForPayout = b.AvailableForPayout.Add(d.AvailableForPayout)
	b.TotalWithdrawn = b.TotalWithdrawn.Add(d.TotalWithdrawn)
	b.UpdatedAt = s.now()
	s.st.balances[teacherID] = b
	return nil
}

func (s *Store) GetBalance(ctx context.Context, teacherID string) (*models.TeacherBalance, error) {
	defer s.lock()()
	b, ok := s.st.balances[teacherID]
	if !ok {
		return &models.TeacherBalance{TeacherID: teacherID}, nil
	}
	return &b, nil
}

func (s *Store) LockTeacherBalance(ctx context.Context, teacherID string) (*models.TeacherBalance, error) {
	defer s.lock()()
	b, ok := s.st.balances[teacherID]
	if !ok {
		b = models.TeacherBalance{TeacherID: teacherID, UpdatedAt: s.now()}
		s.st.balances[teacherID] = b
	}
	return &b, nil
}

// Payouts

func (s *Store) CreatePayout(ctx context.Context, p *models.PayoutRequest) error {
	defer s.lock()()
	if err := s.fail("CreatePayout"); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.st.payouts[p.ID] = *p
	return nil
}

func (s *Store) GetPayout(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	defer s.lock()()
	p, ok := s.st.payouts[id]
	if !ok {
		return nil, notFound("payout request")
	}
	return &p, nil
}

func (s *Store) UpdatePayoutIf(ctx context.Context, p *models.PayoutRequest, from ...models.PayoutStatus) error {
	defer s.lock()()
	if err := s.fail("UpdatePayoutIf"); err != nil {
		return err
	}
	cur, ok := s.st.payouts[p.ID]
	if !ok || !in(cur.Status, from) {
		return stale("payout request", from)
	}
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = s.now()
	s.st.payouts[p.ID] = *p
	return nil
}

func (s *Store) ListPayouts(ctx context.Context, teacherID string) ([]models.PayoutRequest, error) {
	defer s.lock()()
	var out []models.PayoutRequest
	for _, p := range s.st.payouts {
		if p.TeacherID == teacherID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SumPayouts(ctx context.Context, teacherID string, statuses ...models.PayoutStatus) (decimal.Decimal, error) {
	defer s.lock()()
	total := decimal.Zero
	for _, p := range s.st.payouts {
		if p.TeacherID == teacherID && (len(statuses) == 0 || in(p.Status, statuses)) {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

func (s *Store) CreateAllocations(ctx context.Context, allocs []models.PayoutAllocation) error {
	defer s.lock()()
	if err := s.fail("CreateAllocations"); err != nil {
		return err
	}
	now := s.now()
	for i := range allocs {
		if allocs[i].ID == uuid.Nil {
			allocs[i].ID = uuid.New()
		}
		allocs[i].CreatedAt = now
	}
	s.st.allocations = append(s.st.allocations, allocs...)
	return nil
}

func (s *Store) ListAllocations(ctx context.Context, payoutID uuid.UUID) ([]models.PayoutAllocation, error) {
	defer s.lock()()
	var out []models.PayoutAllocation
	for _, a := range s.st.allocations {
		if a.PayoutID == payoutID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) DeleteAllocations(ctx context.Context, payoutID uuid.UUID) error {
	defer s.lock()()
	kept := s.st.allocations[:0:0]
	for _, a := range s.st.allocations {
		if a.PayoutID != payoutID {
			kept = append(kept, a)
		}
	}
	s.st.allocations = kept
	return nil
}

func (s *Store) AllocatedAmounts(ctx context.Context, entryIDs []uuid.UUID, statuses ...models.PayoutStatus) (map[uuid.UUID]decimal.Decimal, error) {
	defer s.lock()()
	out := make(map[uuid.UUID]decimal.Decimal)
	for _, a := range s.st.allocations {
		if !in(a.RevenueEntryID, entryIDs) {
			continue
		}
		p, ok := s.st.payouts[a.PayoutID]
		if !ok || !in(p.Status, statuses) {
			continue
		}
		out[a.RevenueEntryID] = out[a.RevenueEntryID].Add(a.Amount)
	}
	return out, nil
}

// Scheduled tasks

func (s *Store) CreateScheduledTask(ctx context.Context, t *models.ScheduledTask) error {
	defer s.lock()()
	if err := s.fail("CreateScheduledTask"); err != nil {
		return err
	}
	s.st.nextID++
	t.ID = s.st.nextID
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.st.tasks[t.ID] = *t
	return nil
}

func (s *Store) DueScheduledTasks(ctx context.Context, now time.Time) ([]models.ScheduledTask, error) {
	defer s.lock()()
	var out []models.ScheduledTask
	for _, t := range s.st.tasks {
		if t.Status == models.ScheduledTaskStatusActive && !t.Due.After(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Due.Before(out[j].Due) })
	return out, nil
}

func (s *Store) SaveScheduledTask(ctx context.Context, t *models.ScheduledTask) error {
	defer s.lock()()
	t.UpdatedAt = s.now()
	s.st.tasks[t.ID] = *t
	return nil
}

func (s *Store) RecordTaskHistory(ctx context.Context, h *models.ScheduledTaskHistory) error {
	defer s.lock()()
	s.st.nextID++
	h.ID = s.st.nextID
	s.st.history = append(s.st.history, *h)
	return nil
}

var _ repository.Store = (*Store)(nil)
