// Package rail describes the payment rails the storefront accepts: their fees,
// availability and the customer-supplied fields each one requires.
package rail

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ID identifies a payment rail.
type ID string

// Supported rails.
const (
	StripeCard     ID = "stripe_card"
	AirtelMoney    ID = "airtel_money"
	TNMMpamba      ID = "tnm_mpamba"
	CashOnDelivery ID = "cash_on_delivery"
	BankTransfer   ID = "bank_transfer"
)

// Kind groups rails that share a settlement mechanism and field contract.
type Kind int

const (
	KindCard Kind = iota + 1
	KindMobileMoney
	KindBankTransfer
	KindCashOnDelivery
)

func (k Kind) String() string {
	switch k {
	case KindCard:
		return "card"
	case KindMobileMoney:
		return "mobile_money"
	case KindBankTransfer:
		return "bank_transfer"
	case KindCashOnDelivery:
		return "cash_on_delivery"
	default:
		return "unknown"
	}
}

// Field names used in the required-field contract. They match the request
// body keys of the local payment endpoint.
const (
	FieldMobileMoneyPhone      = "mobileMoneyPhone"
	FieldBankTransferBank      = "bankTransferBank"
	FieldBankTransferReference = "bankTransferReference"
)

// ErrUnknownRail is returned for rail identifiers not present in the registry.
var ErrUnknownRail = errors.New("unknown payment method")

// Descriptor is the read-only description of a rail.
type Descriptor struct {
	ID          ID
	Name        string
	Description string
	Kind        Kind
	// FeePercent is the processing surcharge in percent. Zero means no fee.
	FeePercent decimal.Decimal
	Available  bool
}

// Local reports whether the rail is settled outside the card gateway.
func (d Descriptor) Local() bool {
	return d.Kind != KindCard
}

// RequiredFields lists the request fields the rail needs beyond the order id.
func (d Descriptor) RequiredFields() []string {
	switch d.Kind {
	case KindMobileMoney:
		return []string{FieldMobileMoneyPhone}
	case KindBankTransfer:
		return []string{FieldBankTransferBank, FieldBankTransferReference}
	default:
		return nil
	}
}

// Registry is the fixed catalog of rails. It is safe for concurrent use since
// it is never mutated after construction.
type Registry struct {
	ordered []Descriptor
	byID    map[ID]Descriptor
	phones  PhonePlan
}

// NewRegistry builds a registry from the given descriptors. Phone numbers for
// mobile-money rails are validated against plan.
func NewRegistry(plan PhonePlan, descriptors ...Descriptor) *Registry {
	r := &Registry{
		ordered: make([]Descriptor, 0, len(descriptors)),
		byID:    make(map[ID]Descriptor, len(descriptors)),
		phones:  plan,
	}
	for _, d := range descriptors {
		r.ordered = append(r.ordered, d)
		r.byID[d.ID] = d
	}
	return r
}

// DefaultDescriptors returns the rails offered to Malawian customers.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID:          StripeCard,
			Name:        "Credit/Debit Card",
			Description: "Visa, Mastercard, American Express",
			Kind:        KindCard,
			FeePercent:  decimal.RequireFromString("2.9"),
			Available:   true,
		},
		{
			ID:          AirtelMoney,
			Name:        "Airtel Money",
			Description: "Pay with your Airtel Money wallet",
			Kind:        KindMobileMoney,
			FeePercent:  decimal.RequireFromString("1.5"),
			Available:   true,
		},
		{
			ID:          TNMMpamba,
			Name:        "TNM Mpamba",
			Description: "Pay with your TNM Mpamba wallet",
			Kind:        KindMobileMoney,
			FeePercent:  decimal.RequireFromString("1.5"),
			Available:   true,
		},
		{
			ID:          CashOnDelivery,
			Name:        "Cash on Delivery",
			Description: "Pay when your order arrives",
			Kind:        KindCashOnDelivery,
			Available:   true,
		},
		{
			ID:          BankTransfer,
			Name:        "Bank Transfer",
			Description: "Direct bank transfer (Manual verification)",
			Kind:        KindBankTransfer,
			Available:   true,
		},
	}
}

// ListAvailable returns the rails currently accepting payments, in catalog order.
func (r *Registry) ListAvailable() []Descriptor {
	out := make([]Descriptor, 0, len(r.ordered))
	for _, d := range r.ordered {
		if d.Available {
			out = append(out, d)
		}
	}
	return out
}

// Describe returns the descriptor for id or ErrUnknownRail.
func (r *Registry) Describe(id ID) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, ErrUnknownRail
	}
	return d, nil
}

// RequiredFields returns the field contract for id.
func (r *Registry) RequiredFields(id ID) ([]string, error) {
	d, err := r.Describe(id)
	if err != nil {
		return nil, err
	}
	return d.RequiredFields(), nil
}

// Phones returns the numbering plan used for mobile-money validation.
func (r *Registry) Phones() PhonePlan {
	return r.phones
}
