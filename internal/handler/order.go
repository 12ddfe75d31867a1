package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/paygate/internal/domain/order"
)

// decodeCreateOrder reads the flat checkout payload. Client-sent fee and
// total values are ignored; the service derives them.
func decodeCreateOrder(body []byte) (order.CreateRequest, error) {
	var req order.CreateRequest
	err := decodeObject(body, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = decodeRawArray(d)
		case "shippingName":
			req.Shipping.Name, err = decodeString(d)
		case "shippingStreet":
			req.Shipping.Street, err = decodeString(d)
		case "shippingCity":
			req.Shipping.City, err = decodeString(d)
		case "shippingState":
			req.Shipping.State, err = decodeString(d)
		case "shippingZipCode":
			req.Shipping.ZipCode, err = decodeString(d)
		case "shippingCountry":
			req.Shipping.Country, err = decodeString(d)
		case "billingName":
			req.Billing.Name, err = decodeString(d)
		case "billingStreet":
			req.Billing.Street, err = decodeString(d)
		case "billingCity":
			req.Billing.City, err = decodeString(d)
		case "billingState":
			req.Billing.State, err = decodeString(d)
		case "billingZipCode":
			req.Billing.ZipCode, err = decodeString(d)
		case "billingCountry":
			req.Billing.Country, err = decodeString(d)
		case "shippingMethodId":
			req.ShippingMethodID, err = decodeString(d)
		case "shippingMethodName":
			req.ShippingMethodName, err = decodeString(d)
		case "shippingCost":
			req.ShippingCost, err = decodeDecimal(d)
		case "paymentMethodId":
			req.PaymentMethodID, err = decodeString(d)
		case "paymentMethodName":
			req.PaymentMethodName, err = decodeString(d)
		case "subtotal":
			req.Subtotal, err = decodeDecimal(d)
		case "notes":
			req.Notes, err = decodeString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	req, err := decodeCreateOrder(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	o, err := h.orders.Create(r.Context(), identity(r), req)
	if err != nil {
		fail(w, r, err, "Failed to create order")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		field(e, "id", func(e *jx.Encoder) { e.Str(o.ID) })
		field(e, "status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		field(e, "total", func(e *jx.Encoder) { encodeDecimal(e, o.Total) })
		field(e, "createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.ObjEnd()
	})
}

// ListOrders handles GET /orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListForUser(r.Context(), identity(r))
	if err != nil {
		fail(w, r, err, "Failed to fetch orders")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			o := &orders[i]
			e.ObjStart()
			field(e, "id", func(e *jx.Encoder) { e.Str(o.ID) })
			field(e, "status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
			field(e, "total", func(e *jx.Encoder) { encodeDecimal(e, o.Total) })
			field(e, "createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
			field(e, "items", func(e *jx.Encoder) {
				e.ArrStart()
				for _, item := range o.Items {
					e.Raw(item)
				}
				e.ArrEnd()
			})
			field(e, "shippingMethodName", func(e *jx.Encoder) { e.Str(o.ShippingMethodName) })
			field(e, "paymentMethodName", func(e *jx.Encoder) { e.Str(o.PaymentMethodName) })
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}
