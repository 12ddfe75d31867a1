// Package handler exposes the order and payment services over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/paygate/internal/domain/auth"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/domain/rail"
)

// OrderService is the subset of *order.Service used by the handlers.
type OrderService interface {
	Create(ctx context.Context, id auth.Identity, req order.CreateRequest) (*order.Order, error)
	ListForUser(ctx context.Context, id auth.Identity) ([]order.Order, error)
}

// PaymentService is the subset of *payment.Service used by the handlers.
type PaymentService interface {
	Methods() []rail.Descriptor
	InitiateLocal(ctx context.Context, req payment.LocalRequest) (*payment.Payment, error)
	GetPayment(ctx context.Context, id auth.Identity, paymentID string) (*payment.Payment, error)
	CreateCardIntent(ctx context.Context, id auth.Identity, orderID string) (*payment.CardResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

var (
	_ OrderService   = (*order.Service)(nil)
	_ PaymentService = (*payment.Service)(nil)
	_ TokenVerifier  = (*auth.TokenVerifier)(nil)
)

// Config holds non-dependency settings of the Handler.
type Config struct {
	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the storefront API.
type Handler struct {
	orders   OrderService
	payments PaymentService
	verifier TokenVerifier
	maxBody  int64
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, orders OrderService, payments PaymentService, verifier TokenVerifier) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		orders:   orders,
		payments: payments,
		verifier: verifier,
		maxBody:  cfg.MaxBodyBytes,
	}
}

// Mount registers the API routes on r. The limit middlewares wrap the
// authenticated routes only; the method catalog and the gateway webhook stay
// unthrottled.
func (h *Handler) Mount(r chi.Router, limit ...func(http.Handler) http.Handler) {
	r.Get("/payments/methods", h.ListMethods)
	r.Post("/payments/card/webhook", h.CardWebhook)

	r.Group(func(r chi.Router) {
		r.Use(limit...)
		r.Use(h.Authenticate)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders", h.ListOrders)
		r.Post("/payments/local", h.InitiateLocal)
		r.Get("/payments/local", h.GetLocalPayment)
		r.Post("/payments/card/create-intent", h.CreateCardIntent)
	})
}
