package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
)

// Address is a postal address as captured at checkout.
type Address struct {
	Name    string `validate:"required"`
	Street  string `validate:"required"`
	City    string `validate:"required"`
	State   string
	ZipCode string
	Country string
}

// Order is a customer order. Items is an opaque snapshot of the cart taken by
// the storefront; the payment core never interprets it.
type Order struct {
	ID                 string
	UserID             string
	Status             Status
	Items              []json.RawMessage
	Shipping           Address
	Billing            Address
	ShippingMethodID   string
	ShippingMethodName string
	ShippingCost       decimal.Decimal
	PaymentMethodID    string
	PaymentMethodName  string
	PaymentFee         decimal.Decimal
	Subtotal           decimal.Decimal
	Total              decimal.Decimal
	Notes              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FeeBase is the pre-fee amount payment fees are computed on. It never
// includes a previously applied fee.
func (o *Order) FeeBase() decimal.Decimal {
	return o.Subtotal.Add(o.ShippingCost)
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
}

// UserRepository answers whether a user account exists.
type UserRepository interface {
	Exists(ctx context.Context, userID string) (bool, error)
}
