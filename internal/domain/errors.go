// Package domain holds the error taxonomy shared by the bounded contexts below
// it. The HTTP layer maps these onto status codes.
package domain

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors. Typed errors below unwrap to one of them so callers can
// classify with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrGateway          = errors.New("gateway error")
	ErrSignatureInvalid = errors.New("invalid webhook signature")
)

// InvalidInputError carries a user-facing message about a rejected field.
type InvalidInputError struct {
	Field   string
	Message string
}

// InvalidInput returns an *InvalidInputError for field.
func InvalidInput(field, message string) error {
	return &InvalidInputError{Field: field, Message: message}
}

func (e *InvalidInputError) Error() string { return e.Message }

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// NotFoundError reports a missing resource by kind, e.g. "Order".
type NotFoundError struct {
	Resource string
	ID       string
}

// NotFound returns a *NotFoundError.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError reports a request that cannot be applied in the current state.
type ConflictError struct {
	Message string
}

// Conflict returns a *ConflictError.
func Conflict(message string) error {
	return &ConflictError{Message: message}
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// GatewayError is a card gateway failure translated to a fixed code and a
// user-facing message.
type GatewayError struct {
	Code    string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Code, e.Message)
}

// Is makes GatewayError match ErrGateway.
func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

func (e *GatewayError) Unwrap() error { return e.Err }
