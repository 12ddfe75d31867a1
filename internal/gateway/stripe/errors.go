package stripe

import (
	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	stripego "github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain"
)

// Error codes surfaced to the storefront.
const (
	CodeCardDeclined       = "card_declined"
	CodeExpiredCard        = "expired_card"
	CodeIncorrectCVC       = "incorrect_cvc"
	CodeInsufficientFunds  = "insufficient_funds"
	CodeProcessingError    = "processing_error"
	CodeGenericDecline     = "generic_decline"
	CodeGatewayUnavailable = "gateway_unavailable"
)

// MsgCardInFlight is returned when an intent can no longer be cancelled
// because the customer has already paid or is paying it.
const MsgCardInFlight = "The card payment for this order is already being processed"

var messages = map[string]string{
	CodeCardDeclined:       "Your card was declined. Please try a different payment method.",
	CodeExpiredCard:        "Your card has expired. Please use a different card.",
	CodeIncorrectCVC:       "Your card's security code is incorrect.",
	CodeInsufficientFunds:  "Your card has insufficient funds.",
	CodeProcessingError:    "An error occurred while processing your card. Please try again.",
	CodeGenericDecline:     "Your card was declined. Please try a different payment method.",
	CodeGatewayUnavailable: "Card payments are temporarily unavailable. Please try again later.",
}

// Message returns the user-facing message for a gateway error code.
func Message(code string) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return messages[CodeProcessingError]
}

// translate maps an API or breaker failure onto a *domain.GatewayError.
func (g *Gateway) translate(err error, op string) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.GatewayError{Code: CodeGatewayUnavailable, Message: Message(CodeGatewayUnavailable), Err: err}
	}

	code := CodeProcessingError
	var se *stripego.Error
	if errors.As(err, &se) {
		code = classify(se)
		g.lg.Warn("Stripe request failed",
			zap.String("op", op),
			zap.String("type", string(se.Type)),
			zap.String("code", string(se.Code)),
			zap.String("decline_code", string(se.DeclineCode)),
			zap.Int("status", se.HTTPStatusCode),
			zap.String("request_id", se.RequestID),
		)
	}
	return &domain.GatewayError{Code: code, Message: Message(code), Err: errors.Wrap(err, op)}
}

func classify(se *stripego.Error) string {
	for _, c := range []string{string(se.DeclineCode), string(se.Code)} {
		if _, ok := messages[c]; ok && c != CodeGatewayUnavailable {
			return c
		}
	}
	if se.Type == stripego.ErrorTypeCard {
		return CodeGenericDecline
	}
	return CodeProcessingError
}
