package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// readBody reads at most h.maxBody bytes of the request body.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

// decodeObject walks the top-level JSON object of body.
func decodeObject(body []byte, field func(d *jx.Decoder, key string) error) error {
	if len(body) == 0 {
		return errors.New("empty body")
	}
	return jx.DecodeBytes(body).Obj(field)
}

// decodeString accepts a string or null.
func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decodeDecimal accepts a JSON number, a numeric string or null.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	}
}

// decodeRawArray returns a copy of every element of a JSON array.
func decodeRawArray(d *jx.Decoder) ([]json.RawMessage, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var out []json.RawMessage
	err := d.Arr(func(d *jx.Decoder) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		out = append(out, append([]byte(nil), raw...))
		return nil
	})
	return out, err
}

func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

// field writes key and then its value.
func field(e *jx.Encoder, key string, value func(e *jx.Encoder)) {
	e.FieldStart(key)
	value(e)
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
