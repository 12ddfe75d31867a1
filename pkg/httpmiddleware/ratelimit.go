package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit lookup.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key. Implementations must be safe for
// concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the rate limit middleware.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window. It is only used for
	// the X-RateLimit-Limit header; the Limiter enforces it.
	Max int
	// KeyFunc extracts the rate limit key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Now is used in tests.
	Now func() time.Time
}

// slidingCount weights the previous window by how much of it still overlaps
// the sliding window ending at now.
func slidingCount(prev, curr float64, currStart, now time.Time, window time.Duration) float64 {
	overlap := 1 - now.Sub(currStart).Seconds()/window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	return prev*overlap + curr
}

func decide(count float64, limit int, resetAt time.Time) Decision {
	remaining := int(float64(limit) - count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= float64(limit),
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// RateLimit rejects requests over the limit with 429 and sets the
// X-RateLimit-* headers on every response. Limiter errors fail open.
func RateLimit(l Limiter, cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := cfg.Now()
			d, err := l.Allow(r.Context(), cfg.KeyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			wait := d.ResetAt.Sub(now)
			if wait < 0 {
				wait = 0
			}
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			var e jx.Encoder
			e.ObjStart()
			e.FieldStart("error")
			e.Str("Too many requests. Please try again later.")
			e.FieldStart("resetTime")
			e.Str(d.ResetAt.UTC().Format(time.RFC3339))
			e.ObjEnd()
			_, _ = w.Write(e.Bytes())
		})
	}
}

// ClientIP keys requests by X-Forwarded-For, then X-Real-IP, then the peer
// address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
