package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Reconciler keeps the order status in step with its payments.
type Reconciler struct{}

// NewReconciler creates a Reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// PaymentSucceeded marks the payment's order paid when it is still pending.
// Orders that already moved on (paid, shipped, delivered, cancelled) are left
// untouched, which makes the call safe to repeat.
func (r *Reconciler) PaymentSucceeded(ctx context.Context, tx Tx, p *Payment) error {
	updated, err := tx.MarkOrderPaid(ctx, p.OrderID)
	if err != nil {
		return errors.Wrap(err, "mark order paid")
	}
	if !updated {
		zctx.From(ctx).Info("Order not pending, status left unchanged",
			zap.String("order_id", p.OrderID),
			zap.String("payment_id", p.ID),
		)
		return nil
	}
	zctx.From(ctx).Info("Order paid",
		zap.String("order_id", p.OrderID),
		zap.String("payment_id", p.ID),
	)
	return appendOrderPaid(ctx, tx, p)
}
