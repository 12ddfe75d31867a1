package payment

import "context"

// IntentRequest describes a card payment intent to create at the gateway.
type IntentRequest struct {
	// Amount in the gateway currency's minor units.
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is the gateway's view of a payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
}

// GatewayEvent is a verified, normalized gateway notification. Outcome is
// empty for event types the core does not act on.
type GatewayEvent struct {
	ID             string
	Type           string
	IntentID       string
	Outcome        Status
	PaymentMethod  string
	FailureCode    string
	FailureMessage string
}

// Gateway is the card payment provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
	CancelIntent(ctx context.Context, id string) error
	// ParseEvent verifies the signature of a webhook payload and decodes it.
	// Verification failures wrap domain.ErrSignatureInvalid.
	ParseEvent(payload []byte, signature string) (*GatewayEvent, error)
}
