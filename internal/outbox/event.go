// Package outbox stores domain events next to the state change that produced
// them and relays them to the message broker.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Event types produced by the payment core.
const (
	TypePaymentInitiated     = "payment.initiated"
	TypePaymentStatusChanged = "payment.status_changed"
	TypeOrderPaid            = "order.paid"
)

// Event is a pending domain notification. AggregateID is the order id and
// doubles as the partition key so per-order ordering is kept downstream.
type Event struct {
	ID          string
	AggregateID string
	Type        string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// NewEvent creates an unpublished event.
func NewEvent(aggregateID, eventType string, payload []byte) Event {
	return Event{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		Type:        eventType,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
}
