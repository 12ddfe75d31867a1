package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain"
	"github.com/xenking/paygate/internal/domain/auth"
	"github.com/xenking/paygate/internal/domain/rail"
)

// CardResult is what the storefront needs to confirm a card payment client side.
type CardResult struct {
	Payment      *Payment
	ClientSecret string
}

// CreateCardIntent creates a gateway payment intent for the order total plus
// the card fee and records a pending card payment bound to it.
func (s *Service) CreateCardIntent(ctx context.Context, id auth.Identity, orderID string) (*CardResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.CreateCardIntent", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer span.End()

	if orderID == "" {
		return nil, domain.InvalidInput("orderId", "Order ID is required")
	}

	var (
		result  *CardResult
		created bool
	)
	if err := s.repo.Transact(ctx, func(ctx context.Context, tx Tx) error {
		o, err := lockOwnedOrder(ctx, tx, id, orderID)
		if err != nil {
			return err
		}
		d, err := s.rails.Describe(rail.StripeCard)
		if err != nil || !d.Available {
			return domain.InvalidInput("paymentMethod", rail.MsgRailNotAvailable)
		}
		if err := checkPayable(o); err != nil {
			return err
		}

		open, err := tx.OpenPayment(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "find open payment")
		}
		if open != nil {
			if open.Rail == d.ID && open.GatewayIntentID != "" {
				gctx, cancel := s.gatewayContext(ctx)
				intent, err := s.gateway.GetIntent(gctx, open.GatewayIntentID)
				cancel()
				if err != nil {
					return errors.Wrap(err, "get open intent")
				}
				result = &CardResult{Payment: open, ClientSecret: intent.ClientSecret}
				return nil
			}
			if err := s.supersede(ctx, tx, open, d.ID); err != nil {
				return err
			}
		}

		attempt, err := tx.CountPayments(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "count payments")
		}

		base := o.FeeBase()
		fee := d.Fee(base)
		total := base.Add(fee)
		minor := total.Mul(decimal.NewFromInt(s.cfg.GatewayMultiplier)).IntPart()

		gctx, cancel := s.gatewayContext(ctx)
		defer cancel()
		intent, err := s.gateway.CreateIntent(gctx, IntentRequest{
			Amount:      minor,
			Currency:    s.cfg.GatewayCurrency,
			Description: fmt.Sprintf("%s %s", s.cfg.IntentDescription, shortID(o.ID)),
			Metadata: map[string]string{
				"orderId":        o.ID,
				"userId":         o.UserID,
				"originalAmount": base.String(),
				"currency":       s.cfg.Currency,
				"processingFee":  fee.String(),
			},
			IdempotencyKey: fmt.Sprintf("order:%s:attempt:%d", o.ID, attempt+1),
		})
		if err != nil {
			return errors.Wrap(err, "create intent")
		}

		now := s.now().UTC()
		p := &Payment{
			ID:              uuid.NewString(),
			OrderID:         o.ID,
			Amount:          total,
			Currency:        s.cfg.Currency,
			Rail:            d.ID,
			ProcessingFee:   fee,
			Status:          StatusPending,
			GatewayIntentID: intent.ID,
			Details:         rail.CardDetails{IntentID: intent.ID},
			Metadata: Metadata{
				Version:         MetadataVersion,
				OriginalAmount:  &base,
				GatewayAmount:   minor,
				GatewayCurrency: s.cfg.GatewayCurrency,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return errors.Wrap(err, "create payment")
		}
		if err := tx.SetOrderPayment(ctx, o.ID, d, fee, total); err != nil {
			return errors.Wrap(err, "update order payment")
		}
		if err := appendInitiated(ctx, tx, p); err != nil {
			return err
		}
		result, created = &CardResult{Payment: p, ClientSecret: intent.ClientSecret}, true
		return nil
	}); err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(
		zap.String("payment_id", result.Payment.ID),
		zap.String("order_id", result.Payment.OrderID),
		zap.String("intent_id", result.Payment.GatewayIntentID),
	)
	if !created {
		lg.Info("Returning open card intent for repeated initiation")
		return result, nil
	}
	s.countInitiated(ctx, rail.StripeCard)
	lg.Info("Card intent created",
		zap.String("amount", result.Payment.Amount.String()),
		zap.Int64("gateway_amount", result.Payment.Metadata.GatewayAmount),
	)
	return result, nil
}

// shortID returns the last eight characters of an id for display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}
