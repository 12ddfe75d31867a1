package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/payment"
	"github.com/xenking/paygate/internal/domain/rail"
)

// SignatureHeader carries the gateway's webhook signature.
const SignatureHeader = "Stripe-Signature"

// ListMethods handles GET /payments/methods.
func (h *Handler) ListMethods(w http.ResponseWriter, _ *http.Request) {
	methods := h.payments.Methods()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, m := range methods {
			e.ObjStart()
			field(e, "id", func(e *jx.Encoder) { e.Str(string(m.ID)) })
			field(e, "name", func(e *jx.Encoder) { e.Str(m.Name) })
			field(e, "description", func(e *jx.Encoder) { e.Str(m.Description) })
			field(e, "type", func(e *jx.Encoder) { e.Str(m.Kind.String()) })
			field(e, "processingFee", func(e *jx.Encoder) { encodeDecimal(e, m.FeePercent) })
			field(e, "requiredFields", func(e *jx.Encoder) {
				e.ArrStart()
				for _, f := range m.RequiredFields() {
					e.Str(f)
				}
				e.ArrEnd()
			})
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

func decodeLocalRequest(body []byte) (orderID string, id rail.ID, f rail.Fields, err error) {
	err = decodeObject(body, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderId":
			orderID, err = decodeString(d)
		case "paymentMethod":
			var s string
			s, err = decodeString(d)
			id = rail.ID(s)
		case rail.FieldMobileMoneyPhone:
			f.MobileMoneyPhone, err = decodeString(d)
		case rail.FieldBankTransferBank:
			f.BankTransferBank, err = decodeString(d)
		case rail.FieldBankTransferReference:
			f.BankTransferReference, err = decodeString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return orderID, id, f, err
}

// InitiateLocal handles POST /payments/local.
func (h *Handler) InitiateLocal(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	orderID, railID, fields, err := decodeLocalRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	p, err := h.payments.InitiateLocal(r.Context(), payment.LocalRequest{
		OrderID:  orderID,
		Rail:     railID,
		Fields:   fields,
		Identity: identity(r),
	})
	if err != nil {
		fail(w, r, err, "Failed to process payment")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		field(e, "paymentId", func(e *jx.Encoder) { e.Str(p.ID) })
		field(e, "status", func(e *jx.Encoder) { e.Str(string(p.Status)) })
		field(e, "amount", func(e *jx.Encoder) { encodeDecimal(e, p.Amount) })
		field(e, "processingFee", func(e *jx.Encoder) { encodeDecimal(e, p.ProcessingFee) })
		field(e, "paymentMethod", func(e *jx.Encoder) { e.Str(string(p.Rail)) })
		field(e, "instructions", func(e *jx.Encoder) { e.Str(p.Metadata.Instructions) })
		if d, ok := p.Details.(rail.MobileMoneyDetails); ok {
			field(e, "reference", func(e *jx.Encoder) { e.Str(d.Reference) })
			field(e, "phone", func(e *jx.Encoder) { e.Str(d.Phone) })
		}
		e.ObjEnd()
	})
}

// GetLocalPayment handles GET /payments/local?paymentId=.
func (h *Handler) GetLocalPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.GetPayment(r.Context(), identity(r), r.URL.Query().Get("paymentId"))
	if err != nil {
		fail(w, r, err, "Failed to get payment status")
		return
	}
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		fail(w, r, err, "Failed to get payment status")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		field(e, "id", func(e *jx.Encoder) { e.Str(p.ID) })
		field(e, "status", func(e *jx.Encoder) { e.Str(string(p.Status)) })
		field(e, "amount", func(e *jx.Encoder) { encodeDecimal(e, p.Amount) })
		field(e, "paymentMethod", func(e *jx.Encoder) { e.Str(string(p.Rail)) })
		field(e, "processingFee", func(e *jx.Encoder) { encodeDecimal(e, p.ProcessingFee) })
		field(e, "createdAt", func(e *jx.Encoder) { encodeTime(e, p.CreatedAt) })
		field(e, "metadata", func(e *jx.Encoder) { e.Raw(meta) })
		if p.FailureCode != "" {
			field(e, "failureCode", func(e *jx.Encoder) { e.Str(p.FailureCode) })
			field(e, "failureMessage", func(e *jx.Encoder) { e.Str(p.FailureMessage) })
		}
		e.ObjEnd()
	})
}

// CreateCardIntent handles POST /payments/card/create-intent.
func (h *Handler) CreateCardIntent(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	var orderID string
	if err := decodeObject(body, func(d *jx.Decoder, key string) error {
		if key == "orderId" {
			var err error
			orderID, err = decodeString(d)
			return err
		}
		return d.Skip()
	}); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	res, err := h.payments.CreateCardIntent(r.Context(), identity(r), orderID)
	if err != nil {
		fail(w, r, err, "Failed to create payment intent")
		return
	}

	p := res.Payment
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		field(e, "clientSecret", func(e *jx.Encoder) { e.Str(res.ClientSecret) })
		field(e, "paymentIntentId", func(e *jx.Encoder) { e.Str(p.GatewayIntentID) })
		field(e, "paymentId", func(e *jx.Encoder) { e.Str(p.ID) })
		field(e, "amount", func(e *jx.Encoder) { encodeDecimal(e, p.Amount) })
		field(e, "processingFee", func(e *jx.Encoder) { encodeDecimal(e, p.ProcessingFee) })
		e.ObjEnd()
	})
}

// CardWebhook handles POST /payments/card/webhook. The raw body is passed
// through untouched because the signature covers its exact bytes.
func (h *Handler) CardWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		zctx.From(r.Context()).Warn("Webhook body unreadable", zap.Error(err))
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	if err := h.payments.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader)); err != nil {
		fail(w, r, err, "Webhook handler failed")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		field(e, "received", func(e *jx.Encoder) { e.Bool(true) })
		e.ObjEnd()
	})
}
