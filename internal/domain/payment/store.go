package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/rail"
	"github.com/xenking/paygate/internal/outbox"
)

// Repository is the payment store. Multi-step state changes run inside
// Transact so that the payment, the order and the outbox move together.
type Repository interface {
	// Transact runs fn in a single database transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, id string) (*Payment, error)
	// OpenReferences lists the generated references of open mobile-money
	// payments.
	OpenReferences(ctx context.Context) ([]string, error)
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// LockOrder loads the order and holds its row lock until the transaction
	// ends. It returns a *domain.NotFoundError for unknown orders.
	LockOrder(ctx context.Context, orderID string) (*order.Order, error)
	// OpenPayment returns the order's pending or processing payment, or nil.
	OpenPayment(ctx context.Context, orderID string) (*Payment, error)
	// CountPayments returns how many payments were ever created for the order.
	CountPayments(ctx context.Context, orderID string) (int, error)
	CreatePayment(ctx context.Context, p *Payment) error
	// TransitionPayment applies u when the payment is still in u.From. It
	// reports whether a row changed.
	TransitionPayment(ctx context.Context, paymentID string, u Update) (bool, error)
	// SetOrderPayment records the chosen rail, its fee and the new total.
	SetOrderPayment(ctx context.Context, orderID string, r rail.Descriptor, fee, total decimal.Decimal) error
	// MarkOrderPaid moves a pending order to paid and reports whether it did.
	MarkOrderPaid(ctx context.Context, orderID string) (bool, error)
	// PaymentsByIntent locks and returns the payments bound to a gateway intent.
	PaymentsByIntent(ctx context.Context, intentID string) ([]Payment, error)
	// PaymentByReference locks and returns the payment carrying a generated
	// mobile-money reference. Bank transfer references never match.
	PaymentByReference(ctx context.Context, reference string) (*Payment, error)
	// RecordWebhookEvent stores a gateway event id. It returns false when the
	// id was already recorded.
	RecordWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error)
	AppendEvent(ctx context.Context, e outbox.Event) error
}
