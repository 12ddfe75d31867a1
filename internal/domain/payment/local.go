package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain"
	"github.com/xenking/paygate/internal/domain/auth"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/rail"
)

// Customer instructions per local rail.
const (
	bankTransferInstructions   = "Payment pending manual verification. You will receive confirmation once the transfer is verified."
	cashOnDeliveryInstructions = "Payment will be collected upon delivery of your order."
)

// LocalRequest asks to pay an order on a rail settled outside the card gateway.
type LocalRequest struct {
	OrderID  string
	Rail     rail.ID
	Fields   rail.Fields
	Identity auth.Identity
}

// InitiateLocal creates a pending payment on a mobile-money, bank-transfer or
// cash-on-delivery rail and stamps the rail, fee and total on the order.
//
// Repeating the call for the same order and rail returns the open payment
// unchanged. Switching to another rail cancels the pending payment first.
func (s *Service) InitiateLocal(ctx context.Context, req LocalRequest) (*Payment, error) {
	ctx, span := s.tracer.Start(ctx, "payment.InitiateLocal", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("payment.rail", string(req.Rail)),
	))
	defer span.End()

	if req.OrderID == "" || req.Rail == "" {
		return nil, domain.InvalidInput("orderId", "Order ID and payment method are required")
	}

	var (
		result  *Payment
		created bool
	)
	if err := s.repo.Transact(ctx, func(ctx context.Context, tx Tx) error {
		o, err := lockOwnedOrder(ctx, tx, req.Identity, req.OrderID)
		if err != nil {
			return err
		}
		d, err := s.localRail(req.Rail)
		if err != nil {
			return err
		}
		details, err := s.rails.Validate(d, req.Fields)
		if err != nil {
			return err
		}
		if err := checkPayable(o); err != nil {
			return err
		}

		open, err := tx.OpenPayment(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "find open payment")
		}
		if open != nil {
			if open.Rail == d.ID {
				result = open
				return nil
			}
			if err := s.supersede(ctx, tx, open, d.ID); err != nil {
				return err
			}
		}

		p := s.newLocalPayment(o, d, details)
		if err := tx.CreatePayment(ctx, p); err != nil {
			return errors.Wrap(err, "create payment")
		}
		if err := tx.SetOrderPayment(ctx, o.ID, d, p.ProcessingFee, p.Amount); err != nil {
			return errors.Wrap(err, "update order payment")
		}
		if err := appendInitiated(ctx, tx, p); err != nil {
			return err
		}
		result, created = p, true
		return nil
	}); err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(
		zap.String("payment_id", result.ID),
		zap.String("order_id", result.OrderID),
		zap.String("rail", string(result.Rail)),
	)
	if !created {
		lg.Info("Returning open payment for repeated initiation")
		return result, nil
	}
	s.countInitiated(ctx, result.Rail)
	lg.Info("Local payment initiated",
		zap.String("amount", result.Amount.String()),
		zap.String("fee", result.ProcessingFee.String()),
	)
	return result, nil
}

func (s *Service) localRail(id rail.ID) (rail.Descriptor, error) {
	d, err := s.rails.Describe(id)
	if err != nil || !d.Available || !d.Local() {
		return rail.Descriptor{}, domain.InvalidInput("paymentMethod", rail.MsgInvalidRail)
	}
	return d, nil
}

func (s *Service) newLocalPayment(o *order.Order, d rail.Descriptor, details rail.Details) *Payment {
	base := o.FeeBase()
	fee := d.Fee(base)
	total := base.Add(fee)
	now := s.now().UTC()

	p := &Payment{
		ID:            uuid.NewString(),
		OrderID:       o.ID,
		Amount:        total,
		Currency:      s.cfg.Currency,
		Rail:          d.ID,
		ProcessingFee: fee,
		Status:        StatusPending,
		Metadata: Metadata{
			Version:        MetadataVersion,
			OriginalAmount: &base,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch v := details.(type) {
	case rail.MobileMoneyDetails:
		v.Reference = s.refs.Next()
		p.Details = v
		p.Metadata.Reference = v.Reference
		p.Metadata.Instructions = fmt.Sprintf(
			"Send %s %s to the merchant account using reference: %s",
			s.cfg.Currency, formatAmount(total), v.Reference,
		)
	case rail.BankTransferDetails:
		p.Details = v
		p.Metadata.Reference = v.Reference
		p.Metadata.Instructions = bankTransferInstructions
	case rail.CashOnDeliveryDetails:
		p.Details = v
		p.Metadata.Instructions = cashOnDeliveryInstructions
	default:
		p.Details = details
	}
	return p
}

// formatAmount renders a whole amount with thousands separators: 50750 -> "50,750".
func formatAmount(d decimal.Decimal) string {
	s := d.StringFixed(0)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}
