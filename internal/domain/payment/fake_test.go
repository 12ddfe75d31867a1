package payment

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/paygate/internal/domain"
	"github.com/xenking/paygate/internal/domain/auth"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/rail"
	"github.com/xenking/paygate/internal/outbox"
)

// --- Mock implementations ---

// fakeStore is an in-memory Repository. Transact snapshots the state and
// restores it when fn fails, mirroring a rollback.
type fakeStore struct {
	mu       sync.Mutex
	orders   map[string]order.Order
	payments []Payment
	webhooks map[string]string
	events   []outbox.Event

	// failOn names a Tx method that returns an error.
	failOn string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:   make(map[string]order.Order),
		webhooks: make(map[string]string),
	}
}

type fakeSnapshot struct {
	orders   map[string]order.Order
	payments []Payment
	webhooks map[string]string
	events   []outbox.Event
}

func (f *fakeStore) snapshot() fakeSnapshot {
	s := fakeSnapshot{
		orders:   make(map[string]order.Order, len(f.orders)),
		payments: append([]Payment(nil), f.payments...),
		webhooks: make(map[string]string, len(f.webhooks)),
		events:   append([]outbox.Event(nil), f.events...),
	}
	for k, v := range f.orders {
		s.orders[k] = v
	}
	for k, v := range f.webhooks {
		s.webhooks[k] = v
	}
	return s
}

func (f *fakeStore) restore(s fakeSnapshot) {
	f.orders, f.payments, f.webhooks, f.events = s.orders, s.payments, s.webhooks, s.events
}

func (f *fakeStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := f.snapshot()
	if err := fn(ctx, &fakeTx{f}); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, domain.NotFound("Payment", id)
}

func (f *fakeStore) OpenReferences(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var refs []string
	for _, p := range f.payments {
		if p.Status.IsOpen() && p.SettlementReference() != "" {
			refs = append(refs, p.SettlementReference())
		}
	}
	return refs, nil
}

func (f *fakeStore) fail(op string) error {
	if f.failOn == op {
		return errors.Errorf("%s: injected failure", op)
	}
	return nil
}

func (f *fakeStore) payment(id string) Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ID == id {
			return p
		}
	}
	return Payment{}
}

func (f *fakeStore) order(id string) order.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id]
}

func (f *fakeStore) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeTx struct {
	s *fakeStore
}

func (t *fakeTx) LockOrder(_ context.Context, id string) (*order.Order, error) {
	if err := t.s.fail("LockOrder"); err != nil {
		return nil, err
	}
	o, ok := t.s.orders[id]
	if !ok {
		return nil, domain.NotFound("Order", id)
	}
	return &o, nil
}

func (t *fakeTx) OpenPayment(_ context.Context, orderID string) (*Payment, error) {
	for _, p := range t.s.payments {
		if p.OrderID == orderID && p.Status.IsOpen() {
			return &p, nil
		}
	}
	return nil, nil
}

func (t *fakeTx) CountPayments(_ context.Context, orderID string) (int, error) {
	n := 0
	for _, p := range t.s.payments {
		if p.OrderID == orderID {
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) CreatePayment(_ context.Context, p *Payment) error {
	if err := t.s.fail("CreatePayment"); err != nil {
		return err
	}
	for _, existing := range t.s.payments {
		if existing.OrderID == p.OrderID && existing.Status.IsOpen() {
			return errors.New("payments_one_open_per_order violated")
		}
	}
	t.s.payments = append(t.s.payments, *p)
	return nil
}

func (t *fakeTx) TransitionPayment(_ context.Context, id string, u Update) (bool, error) {
	if err := t.s.fail("TransitionPayment"); err != nil {
		return false, err
	}
	for i := range t.s.payments {
		p := &t.s.payments[i]
		if p.ID != id {
			continue
		}
		if p.Status != u.From {
			return false, nil
		}
		p.Status = u.To
		p.Metadata = p.Metadata.Merge(u.Metadata)
		if u.FailureCode != "" {
			p.FailureCode = u.FailureCode
		}
		if u.FailureMessage != "" {
			p.FailureMessage = u.FailureMessage
		}
		return true, nil
	}
	return false, nil
}

func (t *fakeTx) SetOrderPayment(_ context.Context, orderID string, r rail.Descriptor, fee, total decimal.Decimal) error {
	o := t.s.orders[orderID]
	o.PaymentMethodID = string(r.ID)
	o.PaymentMethodName = r.Name
	o.PaymentFee = fee
	o.Total = total
	t.s.orders[orderID] = o
	return nil
}

func (t *fakeTx) MarkOrderPaid(_ context.Context, orderID string) (bool, error) {
	o, ok := t.s.orders[orderID]
	if !ok || o.Status != order.StatusPending {
		return false, nil
	}
	o.Status = order.StatusPaid
	t.s.orders[orderID] = o
	return true, nil
}

func (t *fakeTx) PaymentsByIntent(_ context.Context, intentID string) ([]Payment, error) {
	var out []Payment
	for _, p := range t.s.payments {
		if p.GatewayIntentID == intentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *fakeTx) PaymentByReference(_ context.Context, ref string) (*Payment, error) {
	for i := len(t.s.payments) - 1; i >= 0; i-- {
		if p := t.s.payments[i]; p.SettlementReference() != "" && strings.EqualFold(p.SettlementReference(), ref) {
			return &p, nil
		}
	}
	return nil, domain.NotFound("Payment", ref)
}

func (t *fakeTx) RecordWebhookEvent(_ context.Context, id, typ string) (bool, error) {
	if _, ok := t.s.webhooks[id]; ok {
		return false, nil
	}
	t.s.webhooks[id] = typ
	return true, nil
}

func (t *fakeTx) AppendEvent(_ context.Context, e outbox.Event) error {
	if err := t.s.fail("AppendEvent"); err != nil {
		return err
	}
	t.s.events = append(t.s.events, e)
	return nil
}

type fakeOrders struct {
	s *fakeStore
}

func (f fakeOrders) Create(context.Context, *order.Order) error { return nil }

func (f fakeOrders) Get(_ context.Context, id string) (*order.Order, error) {
	o, ok := f.s.orders[id]
	if !ok {
		return nil, domain.NotFound("Order", id)
	}
	return &o, nil
}

func (f fakeOrders) ListByUser(context.Context, string) ([]order.Order, error) { return nil, nil }

const validSignature = "t=1,v1=ok"

type fakeGateway struct {
	mu        sync.Mutex
	created   []IntentRequest
	cancelled []string
	intents   map[string]*Intent
	events    map[string]*GatewayEvent
	createErr error
	cancelErr error
	// deadlines holds the context deadline of every call, zero when unset.
	deadlines []time.Time
}

func (g *fakeGateway) track(ctx context.Context) {
	d, _ := ctx.Deadline()
	g.deadlines = append(g.deadlines, d)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		intents: make(map[string]*Intent),
		events:  make(map[string]*GatewayEvent),
	}
}

func (g *fakeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.track(ctx)
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, req)
	id := "pi_" + strings.ReplaceAll(req.IdempotencyKey, ":", "_")
	in := &Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		Amount:       req.Amount,
		Currency:     req.Currency,
	}
	g.intents[id] = in
	return in, nil
}

func (g *fakeGateway) GetIntent(ctx context.Context, id string) (*Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.track(ctx)
	in, ok := g.intents[id]
	if !ok {
		return nil, &domain.GatewayError{Code: "resource_missing", Message: "No such payment intent"}
	}
	return in, nil
}

func (g *fakeGateway) CancelIntent(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.track(ctx)
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancelled = append(g.cancelled, id)
	return nil
}

// ParseEvent treats the payload as a key into the registered events.
func (g *fakeGateway) ParseEvent(payload []byte, signature string) (*GatewayEvent, error) {
	if signature != validSignature {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, "signature mismatch")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.events[string(payload)]
	if !ok {
		return &GatewayEvent{ID: "evt_unknown", Type: "charge.refunded"}, nil
	}
	cp := *ev
	return &cp, nil
}

func (g *fakeGateway) on(key string, ev GatewayEvent) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events[key] = &ev
	return []byte(key)
}

// --- Helpers ---

var (
	owner    = auth.Identity{UserID: "user-1"}
	stranger = auth.Identity{UserID: "user-2"}
	fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
)

type testEnv struct {
	store   *fakeStore
	gateway *fakeGateway
	svc     *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newFakeStore()
	gw := newFakeGateway()
	rails := rail.NewRegistry(rail.MalawiPhonePlan(), rail.DefaultDescriptors()...)
	svc, err := NewService(
		Config{},
		store,
		fakeOrders{store},
		rails,
		rail.NewReferenceGenerator("TH", 1000),
		gw,
		Options{Now: func() time.Time { return fixedNow }},
	)
	require.NoError(t, err)

	return &testEnv{store: store, gateway: gw, svc: svc}
}

// addOrder stores a pending order with subtotal+shipping = 50000.
func (e *testEnv) addOrder(id string, mutate ...func(o *order.Order)) order.Order {
	o := order.Order{
		ID:           id,
		UserID:       owner.UserID,
		Status:       order.StatusPending,
		Subtotal:     decimal.NewFromInt(47500),
		ShippingCost: decimal.NewFromInt(2500),
		PaymentFee:   decimal.Zero,
		Total:        decimal.NewFromInt(50000),
	}
	for _, fn := range mutate {
		fn(&o)
	}
	e.store.mu.Lock()
	e.store.orders[id] = o
	e.store.mu.Unlock()
	return o
}

func (e *testEnv) initiate(t *testing.T, orderID string, r rail.ID, f rail.Fields) *Payment {
	t.Helper()
	p, err := e.svc.InitiateLocal(context.Background(), LocalRequest{
		OrderID:  orderID,
		Rail:     r,
		Fields:   f,
		Identity: owner,
	})
	require.NoError(t, err)
	return p
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var airtelFields = rail.Fields{MobileMoneyPhone: "0881234567"}
