package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/paygate/internal/domain"
	"github.com/xenking/paygate/internal/domain/order"
)

const orderColumns = `id, user_id, status, items,
	shipping_name, shipping_street, shipping_city, shipping_state, shipping_zip_code, shipping_country,
	billing_name, billing_street, billing_city, billing_state, billing_zip_code, billing_country,
	shipping_method_id, shipping_method_name, shipping_cost,
	payment_method_id, payment_method_name, payment_fee,
	subtotal, total, notes, created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The item snapshot is stored as a JSONB array.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, string(o.Status), items,
		o.Shipping.Name, o.Shipping.Street, o.Shipping.City, o.Shipping.State, o.Shipping.ZipCode, o.Shipping.Country,
		o.Billing.Name, o.Billing.Street, o.Billing.City, o.Billing.State, o.Billing.ZipCode, o.Billing.Country,
		o.ShippingMethodID, o.ShippingMethodName, o.ShippingCost,
		o.PaymentMethodID, o.PaymentMethodName, o.PaymentFee,
		o.Subtotal, o.Total, nullString(o.Notes), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns a single order by id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, r.pool, getOrderSQL, id)
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func getOrder(ctx context.Context, q querier, sql, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("Order", id)
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
		notes  *string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &status, &o.Items,
		&o.Shipping.Name, &o.Shipping.Street, &o.Shipping.City, &o.Shipping.State, &o.Shipping.ZipCode, &o.Shipping.Country,
		&o.Billing.Name, &o.Billing.Street, &o.Billing.City, &o.Billing.State, &o.Billing.ZipCode, &o.Billing.Country,
		&o.ShippingMethodID, &o.ShippingMethodName, &o.ShippingCost,
		&o.PaymentMethodID, &o.PaymentMethodName, &o.PaymentFee,
		&o.Subtotal, &o.Total, &notes, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	if notes != nil {
		o.Notes = *notes
	}
	return o, err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
