package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain"
)

const (
	msgUnauthorized     = "Unauthorized"
	msgInvalidBody      = "Invalid request body"
	msgInvalidSignature = "Invalid signature"
)

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		field(e, "error", func(e *jx.Encoder) { e.Str(msg) })
		e.ObjEnd()
	})
}

// fail maps a service error onto a status code. Unclassified errors are
// logged and answered with fallback so internals never reach the client.
func fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		invalid  *domain.InvalidInputError
		notFound *domain.NotFoundError
		conflict *domain.ConflictError
		gateway  *domain.GatewayError
	)
	lg := zctx.From(r.Context())

	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Message)
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, msgUnauthorized)
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Message)
	case errors.Is(err, domain.ErrSignatureInvalid):
		lg.Warn("Webhook signature rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, msgInvalidSignature)
	case errors.As(err, &gateway):
		lg.Warn("Gateway request failed", zap.String("code", gateway.Code), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, func(e *jx.Encoder) {
			e.ObjStart()
			field(e, "error", func(e *jx.Encoder) { e.Str(gateway.Message) })
			field(e, "code", func(e *jx.Encoder) { e.Str(gateway.Code) })
			e.ObjEnd()
		})
	default:
		lg.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
