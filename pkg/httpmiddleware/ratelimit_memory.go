package httpmiddleware

import (
	"context"
	"sync"
	"time"
)

type slot struct {
	prev, curr float64
	start      time.Time
}

// MemoryLimiter is a per-process sliding window limiter. Idle keys are
// evicted by Run.
type MemoryLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	entries map[string]*slot
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter allows max requests per key in any sliding window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:     limit,
		window:  window,
		entries: make(map[string]*slot),
	}
}

// Allow counts one request for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.window)
	w, ok := l.entries[key]
	switch {
	case !ok:
		w = &slot{start: start}
		l.entries[key] = w
	case start.Sub(w.start) >= 2*l.window:
		*w = slot{start: start}
	case start.After(w.start):
		*w = slot{prev: w.curr, start: start}
	}

	count := slidingCount(w.prev, w.curr, w.start, now, l.window) + 1
	d := decide(count, l.max, w.start.Add(l.window))
	if d.Allowed {
		w.curr++
	}
	return d, nil
}

// Sweep drops keys with no requests in the last two windows.
func (l *MemoryLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int
	for key, w := range l.entries {
		if now.Sub(w.start) >= 2*l.window {
			delete(l.entries, key)
			n++
		}
	}
	return n
}

// Run sweeps idle keys every two windows until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
