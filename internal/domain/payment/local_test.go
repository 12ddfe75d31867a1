package payment

import (
	"context"
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/paygate/internal/domain"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/domain/rail"
	"github.com/xenking/paygate/internal/outbox"
)

func TestInitiateLocal_MobileMoney(t *testing.T) {
	env := newTestEnv(t)
	env.addOrder("o1")

	p := env.initiate(t, "o1", rail.AirtelMoney, rail.Fields{MobileMoneyPhone: "+265 88 123 4567"})

	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, rail.AirtelMoney, p.Rail)
	assert.True(t, dec("750").Equal(p.ProcessingFee))
	assert.True(t, dec("50750").Equal(p.Amount))
	assert.Equal(t, "MWK", p.Currency)
	assert.Equal(t, "+265881234567", p.Phone())
	assert.Regexp(t, regexp.MustCompile(`^TH\d{6}[0-9A-Z]{3}$`), p.Reference())
	assert.Equal(t, "Send MWK 50,750 to the merchant account using reference: "+p.Reference(), p.Metadata.Instructions)
	assert.Equal(t, MetadataVersion, p.Metadata.Version)
	require.NotNil(t, p.Metadata.OriginalAmount)
	assert.True(t, dec("50000").Equal(*p.Metadata.OriginalAmount))

	o := env.store.order("o1")
	assert.Equal(t, "airtel_money", o.PaymentMethodID)
	assert.Equal(t, "Airtel Money", o.PaymentMethodName)
	assert.True(t, dec("750").Equal(o.PaymentFee))
	assert.True(t, dec("50750").Equal(o.Total))
	assert.True(t, o.Total.Equal(o.Subtotal.Add(o.ShippingCost).Add(o.PaymentFee)))
	assert.Equal(t, order.StatusPending, o.Status)

	assert.Equal(t, []string{outbox.TypePaymentInitiated}, env.store.eventTypes())
}

func TestInitiateLocal_BankTransferAndCOD(t *testing.T) {
	tests := []struct {
		name         string
		rail         rail.ID
		fields       rail.Fields
		instructions string
		reference    string
	}{
		{
			name:         "bank transfer",
			rail:         rail.BankTransfer,
			fields:       rail.Fields{BankTransferBank: "National Bank", BankTransferReference: "FT2403"},
			instructions: bankTransferInstructions,
			reference:    "FT2403",
		},
		{
			name:         "cash on delivery",
			rail:         rail.CashOnDelivery,
			instructions: cashOnDeliveryInstructions,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.addOrder("o1")

			p := env.initiate(t, "o1", tt.rail, tt.fields)

			assert.True(t, decimal.Zero.Equal(p.ProcessingFee))
			assert.True(t, dec("50000").Equal(p.Amount))
			assert.Equal(t, tt.instructions, p.Metadata.Instructions)
			assert.Equal(t, tt.reference, p.Reference())
			assert.Empty(t, p.Phone())
		})
	}
}

func TestInitiateLocal_Errors(t *testing.T) {
	tests := []struct {
		name   string
		req    LocalRequest
		target error
		msg    string
	}{
		{
			name:   "missing order id",
			req:    LocalRequest{Rail: rail.CashOnDelivery, Identity: owner},
			target: domain.ErrInvalidInput,
			msg:    "Order ID and payment method are required",
		},
		{
			name:   "unknown order",
			req:    LocalRequest{OrderID: "nope", Rail: rail.CashOnDelivery, Identity: owner},
			target: domain.ErrNotFound,
		},
		{
			name:   "not the owner",
			req:    LocalRequest{OrderID: "o1", Rail: rail.CashOnDelivery, Identity: stranger},
			target: domain.ErrForbidden,
		},
		{
			name:   "unknown rail",
			req:    LocalRequest{OrderID: "o1", Rail: "paypal", Identity: owner},
			target: domain.ErrInvalidInput,
			msg:    rail.MsgInvalidRail,
		},
		{
			name:   "card is not a local rail",
			req:    LocalRequest{OrderID: "o1", Rail: rail.StripeCard, Identity: owner},
			target: domain.ErrInvalidInput,
			msg:    rail.MsgInvalidRail,
		},
		{
			name:   "missing phone",
			req:    LocalRequest{OrderID: "o1", Rail: rail.TNMMpamba, Identity: owner},
			target: domain.ErrInvalidInput,
			msg:    rail.MsgPhoneRequired,
		},
		{
			name: "invalid phone",
			req: LocalRequest{
				OrderID: "o1", Rail: rail.AirtelMoney, Identity: owner,
				Fields: rail.Fields{MobileMoneyPhone: "0991234567"},
			},
			target: domain.ErrInvalidInput,
			msg:    rail.MsgPhoneInvalid,
		},
		{
			name: "bank without reference",
			req: LocalRequest{
				OrderID: "o1", Rail: rail.BankTransfer, Identity: owner,
				Fields: rail.Fields{BankTransferBank: "NBM"},
			},
			target: domain.ErrInvalidInput,
			msg:    rail.MsgBankRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			before := env.addOrder("o1")

			_, err := env.svc.InitiateLocal(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.target)
			if tt.msg != "" {
				var inErr *domain.InvalidInputError
				require.ErrorAs(t, err, &inErr)
				assert.Equal(t, tt.msg, inErr.Message)
			}

			assert.Empty(t, env.store.payments)
			assert.Empty(t, env.store.events)
			assert.Equal(t, before, env.store.order("o1"))
		})
	}
}

func TestInitiateLocal_RepeatSameRailIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.addOrder("o1")

	first := env.initiate(t, "o1", rail.AirtelMoney, airtelFields)
	second := env.initiate(t, "o1", rail.AirtelMoney, airtelFields)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Reference(), second.Reference())
	assert.Len(t, env.store.payments, 1)
	assert.True(t, dec("50750").Equal(env.store.order("o1").Total))
	assert.Equal(t, []string{outbox.TypePaymentInitiated}, env.store.eventTypes())
}

func TestInitiateLocal_SwitchRailSupersedesPending(t *testing.T) {
	env := newTestEnv(t)
	env.addOrder("o1")

	first := env.initiate(t, "o1", rail.AirtelMoney, airtelFields)
	second := env.initiate(t, "o1", rail.CashOnDelivery, rail.Fields{})

	require.NotEqual(t, first.ID, second.ID)

	old := env.store.payment(first.ID)
	assert.Equal(t, StatusCancelled, old.Status)
	assert.Equal(t, string(rail.CashOnDelivery), old.Metadata.SupersededBy)
	require.NotNil(t, old.Metadata.CancelledAt)

	// The fee is computed on the pre-fee base, never on the previous total.
	o := env.store.order("o1")
	assert.True(t, decimal.Zero.Equal(o.PaymentFee))
	assert.True(t, dec("50000").Equal(o.Total))
	assert.Equal(t, "cash_on_delivery", o.PaymentMethodID)

	assert.Equal(t, []string{
		outbox.TypePaymentInitiated,
		outbox.TypePaymentStatusChanged,
		outbox.TypePaymentInitiated,
	}, env.store.eventTypes())
	assert.Empty(t, env.gateway.cancelled)
}

func TestInitiateLocal_SwitchFromCardCancelsIntent(t *testing.T) {
	env := newTestEnv(t)
	env.addOrder("o1")

	card, err := env.svc.CreateCardIntent(context.Background(), owner, "o1")
	require.NoError(t, err)

	p := env.initiate(t, "o1", rail.AirtelMoney, airtelFields)

	assert.Equal(t, []string{card.Payment.GatewayIntentID}, env.gateway.cancelled)
	assert.Equal(t, StatusCancelled, env.store.payment(card.Payment.ID).Status)
	assert.True(t, dec("50750").Equal(p.Amount))
}

func TestInitiateLocal_SwitchRefusedWhileCardInFlight(t *testing.T) {
	env := newTestEnv(t)
	env.addOrder("o1")

	card, err := env.svc.CreateCardIntent(context.Background(), owner, "o1")
	require.NoError(t, err)
	env.gateway.cancelErr = domain.Conflict("The card payment for this order is already being processed")

	_, err = env.svc.InitiateLocal(context.Background(), LocalRequest{
		OrderID:  "o1",
		Rail:     rail.AirtelMoney,
		Fields:   airtelFields,
		Identity: owner,
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	assert.Equal(t, StatusPending, env.store.payment(card.Payment.ID).Status)
	assert.Len(t, env.store.payments, 1)
	assert.Equal(t, "stripe_card", env.store.order("o1").PaymentMethodID)

	// The late card success still lands on the open payment.
	env.deliver(t, succeeded("evt_1", card.Payment.GatewayIntentID))
	assert.Equal(t, StatusSucceeded, env.store.payment(card.Payment.ID).Status)
	assert.Equal(t, order.StatusPaid, env.store.order("o1").Status)
}

func TestInitiateLocal_Conflicts(t *testing.T) {
	t.Run("processing payment", func(t *testing.T) {
		env := newTestEnv(t)
		env.addOrder("o1")
		p := env.initiate(t, "o1", rail.AirtelMoney, airtelFields)
		env.store.payments[0].Status = StatusProcessing

		_, err := env.svc.InitiateLocal(context.Background(), LocalRequest{
			OrderID: "o1", Rail: rail.CashOnDelivery, Identity: owner,
		})
		require.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, StatusProcessing, env.store.payment(p.ID).Status)
	})

	t.Run("paid order", func(t *testing.T) {
		env := newTestEnv(t)
		env.addOrder("o1", func(o *order.Order) { o.Status = order.StatusPaid })

		_, err := env.svc.InitiateLocal(context.Background(), LocalRequest{
			OrderID: "o1", Rail: rail.CashOnDelivery, Identity: owner,
		})
		require.ErrorIs(t, err, domain.ErrConflict)
		assert.Empty(t, env.store.payments)
	})
}

func TestInitiateLocal_RollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	before := env.addOrder("o1")
	env.store.failOn = "AppendEvent"

	_, err := env.svc.InitiateLocal(context.Background(), LocalRequest{
		OrderID: "o1", Rail: rail.AirtelMoney, Fields: airtelFields, Identity: owner,
	})
	require.Error(t, err)

	assert.Empty(t, env.store.payments)
	assert.Equal(t, before, env.store.order("o1"))
}

func TestGetPayment(t *testing.T) {
	env := newTestEnv(t)
	env.addOrder("o1")
	p := env.initiate(t, "o1", rail.CashOnDelivery, rail.Fields{})

	got, err := env.svc.GetPayment(context.Background(), owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = env.svc.GetPayment(context.Background(), stranger, p.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = env.svc.GetPayment(context.Background(), owner, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.svc.GetPayment(context.Background(), owner, "")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFormatAmount(t *testing.T) {
	tests := map[string]string{
		"0":        "0",
		"750":      "750",
		"1000":     "1,000",
		"50750":    "50,750",
		"123456":   "123,456",
		"1234567":  "1,234,567",
		"-1234":    "-1,234",
		"50750.40": "50,750",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatAmount(dec(in)), in)
	}
}
