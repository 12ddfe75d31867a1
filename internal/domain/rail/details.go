package rail

import (
	"strings"

	"github.com/xenking/paygate/internal/domain"
)

// Details is the rail-specific part of a payment. The concrete type is one of
// MobileMoneyDetails, BankTransferDetails, CashOnDeliveryDetails or CardDetails.
type Details interface {
	kind() Kind
}

// MobileMoneyDetails holds the wallet number (canonical form) and the payment
// reference the customer quotes when sending money.
type MobileMoneyDetails struct {
	Phone     string
	Reference string
}

// BankTransferDetails holds the customer's bank and transfer reference.
type BankTransferDetails struct {
	Bank      string
	Reference string
}

// CashOnDeliveryDetails carries nothing; payment is collected on delivery.
type CashOnDeliveryDetails struct{}

// CardDetails references the gateway intent.
type CardDetails struct {
	IntentID string
}

func (MobileMoneyDetails) kind() Kind    { return KindMobileMoney }
func (BankTransferDetails) kind() Kind   { return KindBankTransfer }
func (CashOnDeliveryDetails) kind() Kind { return KindCashOnDelivery }
func (CardDetails) kind() Kind           { return KindCard }

// Fields is the raw, customer-supplied input for the local rails.
type Fields struct {
	MobileMoneyPhone      string
	BankTransferBank      string
	BankTransferReference string
}

// Error messages returned for rejected rail fields.
const (
	MsgPhoneRequired    = "Mobile money phone number is required"
	MsgPhoneInvalid     = "Invalid Malawi phone number format"
	MsgBankRequired     = "Bank name and reference number are required for bank transfer"
	MsgInvalidRail      = "Invalid payment method"
	MsgRailNotAvailable = "Payment method is not available"
)

// Validate checks fields against the contract of rail d and returns the
// normalized details variant for it.
func (r *Registry) Validate(d Descriptor, f Fields) (Details, error) {
	switch d.Kind {
	case KindMobileMoney:
		phone := strings.TrimSpace(f.MobileMoneyPhone)
		if phone == "" {
			return nil, domain.InvalidInput(FieldMobileMoneyPhone, MsgPhoneRequired)
		}
		if !r.phones.Valid(phone) {
			return nil, domain.InvalidInput(FieldMobileMoneyPhone, MsgPhoneInvalid)
		}
		return MobileMoneyDetails{Phone: r.phones.Normalize(phone)}, nil
	case KindBankTransfer:
		bank := strings.TrimSpace(f.BankTransferBank)
		ref := strings.TrimSpace(f.BankTransferReference)
		if bank == "" {
			return nil, domain.InvalidInput(FieldBankTransferBank, MsgBankRequired)
		}
		if ref == "" {
			return nil, domain.InvalidInput(FieldBankTransferReference, MsgBankRequired)
		}
		return BankTransferDetails{Bank: bank, Reference: ref}, nil
	case KindCashOnDelivery:
		return CashOnDeliveryDetails{}, nil
	case KindCard:
		return CardDetails{}, nil
	default:
		return nil, domain.InvalidInput("paymentMethod", MsgInvalidRail)
	}
}
