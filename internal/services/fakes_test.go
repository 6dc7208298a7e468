package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"learnhub_payments/internal/config"
	"learnhub_payments/internal/models"
	"learnhub_payments/internal/repository/repotest"
)

type fakeGateway struct {
	mu     sync.Mutex
	err    error
	orders []CreateOrderRequest
}

func (g *fakeGateway) Provider() models.PaymentGateway {
	return models.PaymentGatewayMidtrans
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.orders = append(g.orders, req)
	return &GatewayOrder{GatewayOrderID: "gw-" + req.Reference, PaymentLink: "https://pay.example/" + req.Reference}, nil
}

type fakePayouts struct {
	err       error
	result    *PayoutResult
	transfers []PayoutTransfer
	onCall    func()
}

func (p *fakePayouts) CreatePayout(ctx context.Context, t PayoutTransfer) (*PayoutResult, error) {
	p.transfers = append(p.transfers, t)
	if p.onCall != nil {
		p.onCall()
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.result != nil {
		return p.result, nil
	}
	return &PayoutResult{TransactionID: "trx-" + t.Reference, Status: "queued"}, nil
}

type fakeEnroller struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (e *fakeEnroller) Enroll(ctx context.Context, studentID, batchID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, studentID+"/"+batchID)
	return e.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *fakePublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]byte{}}
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	raw, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return redis.Nil
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memoryCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = []byte(fmt.Sprint(value))
	return true, nil
}

type sentMail struct {
	to          string
	subject     string
	attachments []Attachment
}

type fakeMailer struct {
	err  error
	sent []sentMail
}

func (m *fakeMailer) Send(to, subject, body string, attachments ...Attachment) error {
	m.sent = append(m.sent, sentMail{to: to, subject: subject, attachments: attachments})
	return m.err
}

type scheduledCall struct {
	name string
	due  time.Time
}

type fakeScheduler struct {
	calls []scheduledCall
}

func (s *fakeScheduler) ScheduleOnce(ctx context.Context, name string, args interface{}, due time.Time) error {
	s.calls = append(s.calls, scheduledCall{name: name, due: due})
	return nil
}

var errGatewayDown = errors.New("gateway unavailable")

type harness struct {
	*Services
	store     *repotest.Store
	gateway   *fakeGateway
	payouts   *fakePayouts
	enroller  *fakeEnroller
	events    *fakePublisher
	cache     *memoryCache
	mailer    *fakeMailer
	scheduler *fakeScheduler
	signer    *Signer
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     repotest.New(),
		gateway:   &fakeGateway{},
		payouts:   &fakePayouts{},
		enroller:  &fakeEnroller{},
		events:    &fakePublisher{},
		cache:     newMemoryCache(),
		mailer:    &fakeMailer{},
		scheduler: &fakeScheduler{},
		signer:    NewSigner("signing-secret", "webhook-secret"),
		now:       time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	h.store.SetNow(func() time.Time { return h.now })
	h.Services = New(Deps{
		Store:     h.store,
		Policy:    config.DefaultPolicy(),
		Gateway:   h.gateway,
		Payouts:   h.payouts,
		Signer:    h.signer,
		Cache:     h.cache,
		Events:    h.events,
		Enroller:  h.enroller,
		Scheduler: h.scheduler,
		Mailer:    h.mailer,
		Now:       func() time.Time { return h.now },
	})
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func orderInput(amount string, source models.PaymentSource) CreateOrderInput {
	return CreateOrderInput{
		PayerID:    "student-1",
		PayerEmail: "student@example.com",
		TeacherID:  "teacher-1",
		BatchID:    "batch-1",
		Amount:     dec(amount),
		Source:     source,
	}
}

// paidOrder creates an order and settles it through MarkPaid
func (h *harness) paidOrder(t *testing.T, amount string) *models.PaymentOrder {
	t.Helper()
	ctx := context.Background()
	order, err := h.Payments.CreateOrder(ctx, orderInput(amount, models.PaymentSourcePlatform))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	order, err = h.Payments.MarkPaid(ctx, order.ID, "pay-"+order.ID.String(), "", "card")
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	return order
}
