package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/paygate/internal/domain"
	"github.com/xenking/paygate/internal/domain/auth"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/rail"
)

// Config holds the currency settings of the payment core.
type Config struct {
	// Currency is the store currency, e.g. "MWK".
	Currency string
	// GatewayCurrency is the currency card intents are charged in.
	GatewayCurrency string
	// GatewayMultiplier converts a store amount into gateway minor units.
	GatewayMultiplier int64
	// IntentDescription is prefixed to the short order id on card intents.
	IntentDescription string
	// GatewayTimeout bounds each card gateway call. The calls run while the
	// order row is locked.
	GatewayTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Currency == "" {
		c.Currency = "MWK"
	}
	if c.GatewayCurrency == "" {
		c.GatewayCurrency = "usd"
	}
	if c.GatewayMultiplier == 0 {
		c.GatewayMultiplier = 100
	}
	if c.IntentDescription == "" {
		c.IntentDescription = "Order"
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 10 * time.Second
	}
}

// Options holds optional dependencies of the Service.
type Options struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

func (o *Options) setDefaults() {
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Service orchestrates payments across rails.
type Service struct {
	cfg        Config
	repo       Repository
	orders     order.Repository
	rails      *rail.Registry
	refs       *rail.ReferenceGenerator
	gateway    Gateway
	reconciler *Reconciler

	now       func() time.Time
	tracer    trace.Tracer
	initiated metric.Int64Counter
	webhooks  metric.Int64Counter
}

// NewService creates a payment Service.
func NewService(
	cfg Config,
	repo Repository,
	orders order.Repository,
	rails *rail.Registry,
	refs *rail.ReferenceGenerator,
	gateway Gateway,
	opts Options,
) (*Service, error) {
	cfg.setDefaults()
	opts.setDefaults()

	meter := opts.MeterProvider.Meter("github.com/xenking/paygate/internal/domain/payment")
	initiated, err := meter.Int64Counter("paygate.payments.initiated",
		metric.WithDescription("Payments created, by rail"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create initiated counter")
	}
	webhooks, err := meter.Int64Counter("paygate.webhook.events",
		metric.WithDescription("Gateway webhook events, by type and result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create webhook counter")
	}

	return &Service{
		cfg:        cfg,
		repo:       repo,
		orders:     orders,
		rails:      rails,
		refs:       refs,
		gateway:    gateway,
		reconciler: NewReconciler(),
		now:        opts.Now,
		tracer:     opts.TracerProvider.Tracer("github.com/xenking/paygate/internal/domain/payment"),
		initiated:  initiated,
		webhooks:   webhooks,
	}, nil
}

// Methods returns the rails customers may currently pick.
func (s *Service) Methods() []rail.Descriptor {
	return s.rails.ListAvailable()
}

// GetPayment returns a payment owned by the identity.
func (s *Service) GetPayment(ctx context.Context, id auth.Identity, paymentID string) (*Payment, error) {
	if paymentID == "" {
		return nil, domain.InvalidInput("paymentId", "Payment ID is required")
	}
	p, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return nil, errors.Wrap(err, "get payment")
	}
	o, err := s.orders.Get(ctx, p.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if !id.Owns(o.UserID) {
		return nil, domain.ErrForbidden
	}
	return p, nil
}

// lockOwnedOrder loads and locks the order, enforcing ownership.
func lockOwnedOrder(ctx context.Context, tx Tx, id auth.Identity, orderID string) (*order.Order, error) {
	o, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "lock order")
	}
	if !id.Owns(o.UserID) {
		return nil, domain.ErrForbidden
	}
	return o, nil
}

func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.GatewayTimeout)
}

// supersede cancels an open payment before a new one is created for the same
// order. Processing payments and paid orders cannot be superseded.
func (s *Service) supersede(ctx context.Context, tx Tx, open *Payment, replacement rail.ID) error {
	if open.Status == StatusProcessing {
		return domain.Conflict("A payment for this order is already being processed")
	}
	if open.GatewayIntentID != "" {
		gctx, cancel := s.gatewayContext(ctx)
		err := s.gateway.CancelIntent(gctx, open.GatewayIntentID)
		cancel()
		if err != nil {
			return errors.Wrap(err, "cancel superseded intent")
		}
	}
	now := s.now().UTC()
	ok, err := tx.TransitionPayment(ctx, open.ID, Update{
		From: open.Status,
		To:   StatusCancelled,
		Metadata: Metadata{
			CancelledAt:  &now,
			SupersededBy: string(replacement),
		},
	})
	if err != nil {
		return errors.Wrap(err, "cancel superseded payment")
	}
	if !ok {
		return domain.Conflict("A payment for this order changed concurrently")
	}
	return appendStatusChanged(ctx, tx, open, StatusCancelled)
}

func (s *Service) countInitiated(ctx context.Context, r rail.ID) {
	s.initiated.Add(ctx, 1, metric.WithAttributes(attribute.String("rail", string(r))))
}

func (s *Service) countWebhook(ctx context.Context, eventType, result string) {
	s.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("result", result),
	))
}

func checkPayable(o *order.Order) error {
	if o.Status != order.StatusPending {
		return domain.Conflict("Order is not awaiting payment")
	}
	return nil
}
