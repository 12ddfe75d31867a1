package order

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain"
	"github.com/xenking/paygate/internal/domain/auth"
)

// Validation messages returned to the storefront.
const (
	MsgNoItems        = "No items in order"
	MsgMissingInfo    = "Missing required order information"
	MsgInvalidAmounts = "Order amounts must not be negative"
	MsgWholeAmounts   = "Order amounts must be whole MWK"
)

// CreateRequest is the checkout payload used to open an order.
type CreateRequest struct {
	Items              []json.RawMessage
	Shipping           Address
	Billing            Address `validate:"-"`
	ShippingMethodID   string  `validate:"required"`
	ShippingMethodName string
	ShippingCost       decimal.Decimal `validate:"gte=0,whole"`
	// PaymentMethodID is the rail the customer picked at checkout. The
	// payment endpoints may later replace it.
	PaymentMethodID   string `validate:"required"`
	PaymentMethodName string
	Subtotal          decimal.Decimal `validate:"gte=0,whole"`
	Notes             string
}

// Service encapsulates order creation and lookup.
type Service struct {
	orders   Repository
	users    UserRepository
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates an order Service.
func NewService(orders Repository, users UserRepository) *Service {
	return &Service{
		orders:   orders,
		users:    users,
		validate: newValidator(),
		now:      time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	// MWK has no minor unit; amounts are stored as NUMERIC(14,0).
	_ = v.RegisterValidation("whole", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return f == math.Trunc(f)
	})
	return v
}

// Create opens a pending order for the identity. The payment fee starts at
// zero and the total equals subtotal plus shipping until a payment is initiated.
func (s *Service) Create(ctx context.Context, id auth.Identity, req CreateRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, domain.InvalidInput("items", MsgNoItems)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, translateValidation(err)
	}

	ok, err := s.users.Exists(ctx, id.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "check user")
	}
	if !ok {
		return nil, domain.NotFound("User", id.UserID)
	}

	now := s.now().UTC()
	o := &Order{
		ID:                 uuid.NewString(),
		UserID:             id.UserID,
		Status:             StatusPending,
		Items:              req.Items,
		Shipping:           req.Shipping,
		Billing:            req.Billing,
		ShippingMethodID:   req.ShippingMethodID,
		ShippingMethodName: req.ShippingMethodName,
		ShippingCost:       req.ShippingCost,
		PaymentMethodID:    req.PaymentMethodID,
		PaymentMethodName:  req.PaymentMethodName,
		PaymentFee:         decimal.Zero,
		Subtotal:           req.Subtotal,
		Notes:              req.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	o.Total = o.FeeBase()

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Int("items", len(o.Items)),
		zap.String("total", o.Total.String()),
	)
	return o, nil
}

// ListForUser returns the identity's orders, newest first.
func (s *Service) ListForUser(ctx context.Context, id auth.Identity) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, id.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

func translateValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.Wrap(err, "validate order")
	}
	first := verrs[0]
	switch first.Tag() {
	case "gte":
		return domain.InvalidInput(first.Field(), MsgInvalidAmounts)
	case "whole":
		return domain.InvalidInput(first.Field(), MsgWholeAmounts)
	}
	return domain.InvalidInput(first.Field(), MsgMissingInfo)
}
