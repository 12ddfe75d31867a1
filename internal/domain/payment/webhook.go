package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Failure defaults used when the gateway omits the decline details.
const (
	defaultFailureCode    = "unknown"
	defaultFailureMessage = "Payment failed"
)

// Webhook results, reported in logs and metrics.
const (
	webhookApplied   = "applied"
	webhookDuplicate = "duplicate"
	webhookUnmatched = "unmatched"
	webhookIgnored   = "ignored"
)

// HandleWebhook verifies and applies a gateway notification.
//
// Delivery may happen zero, one or many times and in any order. Event ids are
// recorded with the state change, terminal payments absorb later events and
// out-of-order transitions are dropped, so applying the same event again
// never changes state. Events for unknown intents succeed without effect.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		s.countWebhook(ctx, "", "invalid_signature")
		return err
	}

	ctx, span := s.tracer.Start(ctx, "payment.HandleWebhook", trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.Type),
	))
	defer span.End()

	lg := zctx.From(ctx).With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.String("intent_id", ev.IntentID),
	)
	if ev.Outcome == "" || ev.IntentID == "" {
		lg.Debug("Ignoring webhook event")
		s.countWebhook(ctx, ev.Type, webhookIgnored)
		return nil
	}

	result := webhookApplied
	if err := s.repo.Transact(ctx, func(ctx context.Context, tx Tx) error {
		payments, err := tx.PaymentsByIntent(ctx, ev.IntentID)
		if err != nil {
			return errors.Wrap(err, "find payments by intent")
		}
		if len(payments) == 0 {
			// Not recorded: the payment row may be committed later and a
			// redelivery must still be able to update it.
			result = webhookUnmatched
			return nil
		}
		fresh, err := tx.RecordWebhookEvent(ctx, ev.ID, ev.Type)
		if err != nil {
			return errors.Wrap(err, "record webhook event")
		}
		if !fresh {
			result = webhookDuplicate
			return nil
		}
		for i := range payments {
			if err := s.applyEvent(ctx, tx, &payments[i], ev); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		s.countWebhook(ctx, ev.Type, "error")
		return errors.Wrap(err, "apply webhook event")
	}

	s.countWebhook(ctx, ev.Type, result)
	switch result {
	case webhookUnmatched:
		lg.Warn("No payment found for webhook event")
	case webhookDuplicate:
		lg.Info("Webhook event already processed")
	default:
		lg.Info("Webhook event applied", zap.String("outcome", string(ev.Outcome)))
	}
	return nil
}

func (s *Service) applyEvent(ctx context.Context, tx Tx, p *Payment, ev *GatewayEvent) error {
	lg := zctx.From(ctx).With(
		zap.String("payment_id", p.ID),
		zap.String("status", string(p.Status)),
		zap.String("outcome", string(ev.Outcome)),
	)
	if p.Status == ev.Outcome {
		return nil
	}
	if !p.Status.CanTransitionTo(ev.Outcome) {
		lg.Info("Dropping out-of-order payment transition")
		return nil
	}

	now := s.now().UTC()
	u := Update{From: p.Status, To: ev.Outcome}
	switch ev.Outcome {
	case StatusSucceeded:
		u.Metadata = Metadata{GatewayPaymentMethod: ev.PaymentMethod, CompletedAt: &now}
	case StatusFailed:
		u.FailureCode = ev.FailureCode
		if u.FailureCode == "" {
			u.FailureCode = defaultFailureCode
		}
		u.FailureMessage = ev.FailureMessage
		if u.FailureMessage == "" {
			u.FailureMessage = defaultFailureMessage
		}
		u.Metadata = Metadata{FailedAt: &now}
	case StatusCancelled:
		u.Metadata = Metadata{CancelledAt: &now}
	case StatusProcessing:
		u.Metadata = Metadata{ProcessingStartedAt: &now}
	}

	ok, err := tx.TransitionPayment(ctx, p.ID, u)
	if err != nil {
		return errors.Wrap(err, "transition payment")
	}
	if !ok {
		lg.Info("Payment changed concurrently, skipping")
		return nil
	}
	if err := appendStatusChanged(ctx, tx, p, ev.Outcome); err != nil {
		return err
	}

	p.Status = ev.Outcome
	p.Metadata = p.Metadata.Merge(u.Metadata)
	if ev.Outcome == StatusSucceeded {
		return s.reconciler.PaymentSucceeded(ctx, tx, p)
	}
	return nil
}
