// Package payment implements the payment lifecycle: initiation on local and
// card rails, gateway event ingestion and reconciliation with orders.
package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/paygate/internal/domain/rail"
)

// Status is the lifecycle state of a payment.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the payment still awaits an outcome.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusProcessing
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Self-transitions are not transitions; callers treat them as no-ops.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next.IsTerminal()
	case StatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}

// MetadataVersion is the current layout of Metadata.
const MetadataVersion = 1

// Metadata is the free-form audit record attached to a payment. Every field
// is optional; updates merge field by field into the stored record.
type Metadata struct {
	Version              int              `json:"version,omitempty"`
	OriginalAmount       *decimal.Decimal `json:"originalAmount,omitempty"`
	Reference            string           `json:"reference,omitempty"`
	Instructions         string           `json:"instructions,omitempty"`
	GatewayAmount        int64            `json:"gatewayAmount,omitempty"`
	GatewayCurrency      string           `json:"gatewayCurrency,omitempty"`
	GatewayPaymentMethod string           `json:"gatewayPaymentMethod,omitempty"`
	ProcessingStartedAt  *time.Time       `json:"processingStartedAt,omitempty"`
	CompletedAt          *time.Time       `json:"completedAt,omitempty"`
	FailedAt             *time.Time       `json:"failedAt,omitempty"`
	CancelledAt          *time.Time       `json:"cancelledAt,omitempty"`
	SettledAt            *time.Time       `json:"settledAt,omitempty"`
	StatementTxnID       string           `json:"statementTxnId,omitempty"`
	SupersededBy         string           `json:"supersededBy,omitempty"`
}

// Merge returns m with every field set in patch applied on top.
func (m Metadata) Merge(patch Metadata) Metadata {
	if patch.Version != 0 {
		m.Version = patch.Version
	}
	if patch.OriginalAmount != nil {
		m.OriginalAmount = patch.OriginalAmount
	}
	if patch.Reference != "" {
		m.Reference = patch.Reference
	}
	if patch.Instructions != "" {
		m.Instructions = patch.Instructions
	}
	if patch.GatewayAmount != 0 {
		m.GatewayAmount = patch.GatewayAmount
	}
	if patch.GatewayCurrency != "" {
		m.GatewayCurrency = patch.GatewayCurrency
	}
	if patch.GatewayPaymentMethod != "" {
		m.GatewayPaymentMethod = patch.GatewayPaymentMethod
	}
	if patch.ProcessingStartedAt != nil {
		m.ProcessingStartedAt = patch.ProcessingStartedAt
	}
	if patch.CompletedAt != nil {
		m.CompletedAt = patch.CompletedAt
	}
	if patch.FailedAt != nil {
		m.FailedAt = patch.FailedAt
	}
	if patch.CancelledAt != nil {
		m.CancelledAt = patch.CancelledAt
	}
	if patch.SettledAt != nil {
		m.SettledAt = patch.SettledAt
	}
	if patch.StatementTxnID != "" {
		m.StatementTxnID = patch.StatementTxnID
	}
	if patch.SupersededBy != "" {
		m.SupersededBy = patch.SupersededBy
	}
	return m
}

// Payment is one attempt to settle an order on a rail.
type Payment struct {
	ID              string
	OrderID         string
	Amount          decimal.Decimal
	Currency        string
	Rail            rail.ID
	ProcessingFee   decimal.Decimal
	Status          Status
	GatewayIntentID string
	Details         rail.Details
	Metadata        Metadata
	FailureCode     string
	FailureMessage  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Reference returns the customer-facing payment reference, if the rail has one.
func (p *Payment) Reference() string {
	switch d := p.Details.(type) {
	case rail.MobileMoneyDetails:
		return d.Reference
	case rail.BankTransferDetails:
		return d.Reference
	default:
		return ""
	}
}

// SettlementReference returns the reference a statement line must quote to
// settle the payment. Only generated mobile-money references qualify; bank
// transfer references are typed by the customer and are not unique.
func (p *Payment) SettlementReference() string {
	if d, ok := p.Details.(rail.MobileMoneyDetails); ok {
		return d.Reference
	}
	return ""
}

// Phone returns the wallet number for mobile-money payments.
func (p *Payment) Phone() string {
	if d, ok := p.Details.(rail.MobileMoneyDetails); ok {
		return d.Phone
	}
	return ""
}

// Update is a status transition applied by the store.
type Update struct {
	From     Status
	To       Status
	Metadata Metadata
	// FailureCode and FailureMessage are written only when non-empty.
	FailureCode    string
	FailureMessage string
}
