package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/paygate/internal/domain"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/domain/rail"
	"github.com/xenking/paygate/internal/outbox"
)

const paymentColumns = `id, order_id, amount, currency, rail, processing_fee, status,
	gateway_intent_id, mobile_money_phone, mobile_money_ref, bank_name, bank_reference,
	metadata, failure_code, failure_message, created_at, updated_at`

const (
	getPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	openPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE order_id = $1 AND status IN ('pending', 'processing') FOR UPDATE`

	countPaymentsSQL = `SELECT count(*) FROM payments WHERE order_id = $1`

	createPaymentSQL = `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	transitionPaymentSQL = `UPDATE payments SET
			status = $3,
			metadata = metadata || $4::jsonb,
			failure_code = COALESCE(NULLIF($5::text, ''), failure_code),
			failure_message = COALESCE(NULLIF($6::text, ''), failure_message),
			updated_at = now()
		WHERE id = $1 AND status = $2`

	paymentsByIntentSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE gateway_intent_id = $1 ORDER BY created_at FOR UPDATE`

	paymentByReferenceSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE mobile_money_ref = upper($1)
		FOR UPDATE`

	openReferencesSQL = `SELECT mobile_money_ref FROM payments
		WHERE status IN ('pending', 'processing') AND mobile_money_ref IS NOT NULL`

	setOrderPaymentSQL = `UPDATE orders SET
			payment_method_id = $2, payment_method_name = $3, payment_fee = $4, total = $5, updated_at = now()
		WHERE id = $1`

	markOrderPaidSQL = `UPDATE orders SET status = 'paid', updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	recordWebhookEventSQL = `INSERT INTO webhook_events (id, type) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`

	appendOutboxEventSQL = `INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`
)

const (
	oneOpenPaymentConstraint = "payments_one_open_per_order"
	mobileMoneyRefConstraint = "payments_mobile_money_ref_key"
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Transact runs fn inside a read-committed transaction.
func (r *PaymentRepository) Transact(ctx context.Context, fn func(ctx context.Context, tx payment.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &paymentTx{q: tx})
	})
}

// Get returns a single payment by id.
func (r *PaymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	rows, err := r.pool.Query(ctx, getPaymentSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting payment %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("Payment", id)
		}
		return nil, fmt.Errorf("getting payment %q: %w", id, err)
	}
	return &p, nil
}

// OpenReferences lists the references of open mobile-money and bank-transfer payments.
func (r *PaymentRepository) OpenReferences(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, openReferencesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing open references: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

var _ payment.Tx = (*paymentTx)(nil)

type paymentTx struct {
	q querier
}

func (t *paymentTx) LockOrder(ctx context.Context, orderID string) (*order.Order, error) {
	return getOrder(ctx, t.q, lockOrderSQL, orderID)
}

func (t *paymentTx) OpenPayment(ctx context.Context, orderID string) (*payment.Payment, error) {
	rows, err := t.q.Query(ctx, openPaymentSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("finding open payment of %q: %w", orderID, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding open payment of %q: %w", orderID, err)
	}
	return &p, nil
}

func (t *paymentTx) CountPayments(ctx context.Context, orderID string) (int, error) {
	var n int
	if err := t.q.QueryRow(ctx, countPaymentsSQL, orderID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting payments of %q: %w", orderID, err)
	}
	return n, nil
}

func (t *paymentTx) CreatePayment(ctx context.Context, p *payment.Payment) error {
	var intent, phone, mobileRef, bank, bankRef *string
	switch d := p.Details.(type) {
	case rail.MobileMoneyDetails:
		phone, mobileRef = nullString(d.Phone), nullString(d.Reference)
	case rail.BankTransferDetails:
		bank, bankRef = nullString(d.Bank), nullString(d.Reference)
	case rail.CardDetails:
		intent = nullString(d.IntentID)
	}
	if intent == nil {
		intent = nullString(p.GatewayIntentID)
	}

	_, err := t.q.Exec(ctx, createPaymentSQL,
		p.ID, p.OrderID, p.Amount, p.Currency, string(p.Rail), p.ProcessingFee, string(p.Status),
		intent, phone, mobileRef, bank, bankRef,
		p.Metadata, nullString(p.FailureCode), nullString(p.FailureMessage), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, oneOpenPaymentConstraint) {
			return domain.Conflict("A payment for this order is already in progress")
		}
		if isUniqueViolation(err, mobileMoneyRefConstraint) {
			return domain.Conflict("Payment reference already issued, please try again")
		}
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

func (t *paymentTx) TransitionPayment(ctx context.Context, id string, u payment.Update) (bool, error) {
	tag, err := t.q.Exec(ctx, transitionPaymentSQL,
		id, string(u.From), string(u.To), u.Metadata, u.FailureCode, u.FailureMessage,
	)
	if err != nil {
		if isUniqueViolation(err, oneOpenPaymentConstraint) {
			return false, domain.Conflict("A payment for this order is already in progress")
		}
		return false, fmt.Errorf("transitioning payment %q to %s: %w", id, u.To, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *paymentTx) SetOrderPayment(ctx context.Context, orderID string, r rail.Descriptor, fee, total decimal.Decimal) error {
	if _, err := t.q.Exec(ctx, setOrderPaymentSQL, orderID, string(r.ID), r.Name, fee, total); err != nil {
		return fmt.Errorf("setting payment of order %q: %w", orderID, err)
	}
	return nil
}

func (t *paymentTx) MarkOrderPaid(ctx context.Context, orderID string) (bool, error) {
	tag, err := t.q.Exec(ctx, markOrderPaidSQL, orderID)
	if err != nil {
		return false, fmt.Errorf("marking order %q paid: %w", orderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *paymentTx) PaymentsByIntent(ctx context.Context, intentID string) ([]payment.Payment, error) {
	rows, err := t.q.Query(ctx, paymentsByIntentSQL, intentID)
	if err != nil {
		return nil, fmt.Errorf("finding payments of intent %q: %w", intentID, err)
	}
	return pgx.CollectRows(rows, scanPayment)
}

func (t *paymentTx) PaymentByReference(ctx context.Context, reference string) (*payment.Payment, error) {
	rows, err := t.q.Query(ctx, paymentByReferenceSQL, reference)
	if err != nil {
		return nil, fmt.Errorf("finding payment by reference %q: %w", reference, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("Payment", reference)
		}
		return nil, fmt.Errorf("finding payment by reference %q: %w", reference, err)
	}
	return &p, nil
}

func (t *paymentTx) RecordWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := t.q.Exec(ctx, recordWebhookEventSQL, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("recording webhook event %q: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *paymentTx) AppendEvent(ctx context.Context, e outbox.Event) error {
	if _, err := t.q.Exec(ctx, appendOutboxEventSQL, e.ID, e.AggregateID, e.Type, e.Payload, e.CreatedAt); err != nil {
		return fmt.Errorf("appending outbox event %s: %w", e.Type, err)
	}
	return nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p              payment.Payment
		railID, status string
	)
	var intent, phone, mobileRef, bank, bankRef, failureCode, failureMessage *string
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Currency, &railID, &p.ProcessingFee, &status,
		&intent, &phone, &mobileRef, &bank, &bankRef,
		&p.Metadata, &failureCode, &failureMessage, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}

	p.Rail = rail.ID(railID)
	p.Status = payment.Status(status)
	p.GatewayIntentID = deref(intent)
	p.FailureCode = deref(failureCode)
	p.FailureMessage = deref(failureMessage)

	switch {
	case intent != nil:
		p.Details = rail.CardDetails{IntentID: *intent}
	case phone != nil:
		p.Details = rail.MobileMoneyDetails{Phone: *phone, Reference: deref(mobileRef)}
	case bank != nil:
		p.Details = rail.BankTransferDetails{Bank: *bank, Reference: deref(bankRef)}
	default:
		p.Details = rail.CashOnDeliveryDetails{}
	}
	return p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
