package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/paygate/internal/outbox"
)

func appendInitiated(ctx context.Context, tx Tx, p *Payment) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("paymentId")
	e.Str(p.ID)
	e.FieldStart("orderId")
	e.Str(p.OrderID)
	e.FieldStart("paymentMethod")
	e.Str(string(p.Rail))
	e.FieldStart("status")
	e.Str(string(p.Status))
	e.FieldStart("amount")
	e.Str(p.Amount.String())
	e.FieldStart("processingFee")
	e.Str(p.ProcessingFee.String())
	e.FieldStart("currency")
	e.Str(p.Currency)
	e.ObjEnd()

	return appendEvent(ctx, tx, p.OrderID, outbox.TypePaymentInitiated, e.Bytes())
}

func appendStatusChanged(ctx context.Context, tx Tx, p *Payment, to Status) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("paymentId")
	e.Str(p.ID)
	e.FieldStart("orderId")
	e.Str(p.OrderID)
	e.FieldStart("paymentMethod")
	e.Str(string(p.Rail))
	e.FieldStart("from")
	e.Str(string(p.Status))
	e.FieldStart("to")
	e.Str(string(to))
	e.ObjEnd()

	return appendEvent(ctx, tx, p.OrderID, outbox.TypePaymentStatusChanged, e.Bytes())
}

func appendOrderPaid(ctx context.Context, tx Tx, p *Payment) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(p.OrderID)
	e.FieldStart("paymentId")
	e.Str(p.ID)
	e.FieldStart("paymentMethod")
	e.Str(string(p.Rail))
	e.FieldStart("amount")
	e.Str(p.Amount.String())
	e.ObjEnd()

	return appendEvent(ctx, tx, p.OrderID, outbox.TypeOrderPaid, e.Bytes())
}

func appendEvent(ctx context.Context, tx Tx, aggregateID, eventType string, payload []byte) error {
	// The encoder buffer goes back to the pool, the event keeps its own copy.
	body := append([]byte(nil), payload...)
	if err := tx.AppendEvent(ctx, outbox.NewEvent(aggregateID, eventType, body)); err != nil {
		return errors.Wrapf(err, "append %s event", eventType)
	}
	return nil
}
