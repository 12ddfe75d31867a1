package httpmiddleware

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares sliding window counters between instances. Each key
// keeps one counter per fixed window; the previous window's counter is
// weighted the same way MemoryLimiter does it.
type RedisLimiter struct {
	rdb    redis.Cmdable
	prefix string
	max    int
	window time.Duration
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter stores counters under prefix.
func NewRedisLimiter(rdb redis.Cmdable, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, max: limit, window: window}
}

func (l *RedisLimiter) counterKey(key string, start time.Time) string {
	return l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)
}

// Allow counts one request for key. Rejected requests are counted too, so a
// client hammering the endpoint stays limited.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.window)

	var (
		curr *redis.IntCmd
		prev *redis.StringCmd
	)
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		curr = p.Incr(ctx, l.counterKey(key, start))
		p.Expire(ctx, l.counterKey(key, start), 2*l.window)
		prev = p.Get(ctx, l.counterKey(key, start.Add(-l.window)))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, errors.Wrap(err, "rate limit counters")
	}

	var prevCount int64
	if err := prev.Err(); err == nil {
		if prevCount, err = prev.Int64(); err != nil {
			return Decision{}, errors.Wrap(err, "parse previous counter")
		}
	}

	count := slidingCount(float64(prevCount), float64(curr.Val()), start, now, l.window)
	return decide(count, l.max, start.Add(l.window)), nil
}
