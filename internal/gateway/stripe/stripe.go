// Package stripe adapts the Stripe PaymentIntents API and its webhook
// signatures to the payment core's Gateway interface.
package stripe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain"
	"github.com/xenking/paygate/internal/domain/payment"
)

// Webhook event types acted upon.
const (
	EventSucceeded  = "payment_intent.succeeded"
	EventFailed     = "payment_intent.payment_failed"
	EventCanceled   = "payment_intent.canceled"
	EventProcessing = "payment_intent.processing"
)

// Config configures the Stripe gateway.
type Config struct {
	APIKey        string
	WebhookSecret string
	// WebhookTolerance bounds the age of a signed webhook timestamp.
	WebhookTolerance time.Duration
	Breaker          BreakerConfig
}

// BreakerConfig tunes the circuit breaker around API calls.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts are cleared.
	Interval time.Duration
	// Timeout spent open before probing again.
	Timeout time.Duration
	// ConsecutiveFailures that trip the breaker.
	ConsecutiveFailures uint32
}

func (c *Config) setDefaults() {
	if c.WebhookTolerance == 0 {
		c.WebhookTolerance = webhook.DefaultTolerance
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 1
	}
	if c.Breaker.Interval == 0 {
		c.Breaker.Interval = time.Minute
	}
	if c.Breaker.Timeout == 0 {
		c.Breaker.Timeout = 30 * time.Second
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 5
	}
}

// intentAPI is the subset of the PaymentIntents client in use.
type intentAPI interface {
	New(params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	Get(id string, params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	Cancel(id string, params *stripego.PaymentIntentCancelParams) (*stripego.PaymentIntent, error)
}

var _ payment.Gateway = (*Gateway)(nil)

// Gateway implements payment.Gateway on Stripe.
type Gateway struct {
	intents intentAPI
	cfg     Config
	cb      *gobreaker.CircuitBreaker[*stripego.PaymentIntent]
	lg      *zap.Logger
}

// New creates a Gateway talking to the Stripe API with cfg.APIKey.
func New(cfg Config, lg *zap.Logger) *Gateway {
	sc := client.New(cfg.APIKey, nil)
	return newGateway(sc.PaymentIntents, cfg, lg)
}

func newGateway(intents intentAPI, cfg Config, lg *zap.Logger) *Gateway {
	cfg.setDefaults()
	g := &Gateway{
		intents: intents,
		cfg:     cfg,
		lg:      lg,
	}
	g.cb = gobreaker.NewCircuitBreaker[*stripego.PaymentIntent](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
		// Declines and validation errors are answers, not outages.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *stripego.Error
			return errors.As(err, &se) && se.HTTPStatusCode > 0 && se.HTTPStatusCode < 500
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return g
}

// CreateIntent creates a PaymentIntent with automatic payment methods.
func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(req.Amount),
		Currency: stripego.String(req.Currency),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripego.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := g.cb.Execute(func() (*stripego.PaymentIntent, error) {
		return g.intents.New(params)
	})
	if err != nil {
		return nil, g.translate(err, "create payment intent")
	}
	return toIntent(pi), nil
}

// GetIntent fetches a PaymentIntent.
func (g *Gateway) GetIntent(ctx context.Context, id string) (*payment.Intent, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.cb.Execute(func() (*stripego.PaymentIntent, error) {
		return g.intents.Get(id, params)
	})
	if err != nil {
		return nil, g.translate(err, "get payment intent")
	}
	return toIntent(pi), nil
}

// CancelIntent cancels a PaymentIntent. Cancelling an intent that already
// left the cancellable states is not an error.
func (g *Gateway) CancelIntent(ctx context.Context, id string) error {
	params := &stripego.PaymentIntentCancelParams{
		CancellationReason: stripego.String(string(stripego.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	_, err := g.cb.Execute(func() (*stripego.PaymentIntent, error) {
		return g.intents.Cancel(id, params)
	})
	var se *stripego.Error
	if errors.As(err, &se) && se.Code == stripego.ErrorCodePaymentIntentUnexpectedState {
		return g.checkUncancellable(ctx, id, err)
	}
	if err != nil {
		return g.translate(err, "cancel payment intent")
	}
	return nil
}

// checkUncancellable decides what a refused cancel means. An intent that is
// already canceled needs nothing more; one the customer has paid or is paying
// must keep its payment open, so the caller gets a conflict.
func (g *Gateway) checkUncancellable(ctx context.Context, id string, cause error) error {
	in, err := g.GetIntent(ctx, id)
	if err != nil {
		return errors.Wrap(err, "check uncancellable intent")
	}
	switch stripego.PaymentIntentStatus(in.Status) {
	case stripego.PaymentIntentStatusCanceled:
		g.lg.Info("Payment intent already canceled", zap.String("intent_id", id))
		return nil
	case stripego.PaymentIntentStatusSucceeded,
		stripego.PaymentIntentStatusProcessing,
		stripego.PaymentIntentStatusRequiresCapture:
		g.lg.Warn("Payment intent already paid, refusing cancel",
			zap.String("intent_id", id),
			zap.String("status", in.Status),
		)
		return domain.Conflict(MsgCardInFlight)
	default:
		return g.translate(cause, "cancel payment intent")
	}
}

// ParseEvent verifies the Stripe-Signature header and decodes the event.
func (g *Gateway) ParseEvent(payload []byte, signature string) (*payment.GatewayEvent, error) {
	if signature == "" {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, "missing signature")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                g.cfg.WebhookTolerance,
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		return nil, errors.Wrap(domain.ErrSignatureInvalid, err.Error())
	}

	ev := &payment.GatewayEvent{ID: event.ID, Type: string(event.Type)}
	switch ev.Type {
	case EventSucceeded:
		ev.Outcome = payment.StatusSucceeded
	case EventFailed:
		ev.Outcome = payment.StatusFailed
	case EventCanceled:
		ev.Outcome = payment.StatusCancelled
	case EventProcessing:
		ev.Outcome = payment.StatusProcessing
	default:
		return ev, nil
	}

	if event.Data == nil {
		return nil, domain.InvalidInput("data", "Event has no data")
	}
	var pi stripego.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, domain.InvalidInput("data", "Event data is not a payment intent")
	}
	ev.IntentID = pi.ID
	if pi.PaymentMethod != nil {
		ev.PaymentMethod = pi.PaymentMethod.ID
	}
	if pi.LastPaymentError != nil {
		ev.FailureCode = string(pi.LastPaymentError.Code)
		if pi.LastPaymentError.DeclineCode != "" {
			ev.FailureCode = string(pi.LastPaymentError.DeclineCode)
		}
		ev.FailureMessage = pi.LastPaymentError.Msg
	}
	return ev, nil
}

// Check reports an error while the circuit breaker is open.
func (g *Gateway) Check(context.Context) error {
	if g.cb.State() == gobreaker.StateOpen {
		return errors.New("stripe circuit breaker open")
	}
	return nil
}

func toIntent(pi *stripego.PaymentIntent) *payment.Intent {
	return &payment.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}
}
