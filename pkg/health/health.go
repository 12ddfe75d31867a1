// Package health serves liveness and readiness probes backed by periodic
// dependency checks.
//
// Every registered check is polled by a single background loop. A check flips
// to failing only after FailureThreshold consecutive errors and back to
// passing after SuccessThreshold consecutive successes, so a single slow ping
// does not take the instance out of rotation. Checks registered with
// NonCritical are reported but only degrade the probe instead of failing it.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// Probe selects which endpoint a check contributes to.
type Probe uint8

const (
	Liveness Probe = iota
	Readiness
)

func (p Probe) String() string {
	if p == Liveness {
		return "liveness"
	}
	return "readiness"
}

// Report statuses.
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusNotReady  = "not_ready"
)

// CheckFunc reports nil when the dependency is usable.
type CheckFunc func(ctx context.Context) error

// Option configures a registered check.
type Option func(*check)

// WithTimeout bounds a single execution of the check.
func WithTimeout(d time.Duration) Option {
	return func(c *check) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithThresholds sets how many consecutive failures mark the check failing
// and how many consecutive successes mark it passing again.
func WithThresholds(failures, successes int) Option {
	return func(c *check) {
		if failures > 0 {
			c.failureThreshold = failures
		}
		if successes > 0 {
			c.successThreshold = successes
		}
	}
}

// NonCritical makes a failing check degrade the probe instead of failing it.
func NonCritical() Option {
	return func(c *check) { c.critical = false }
}

type check struct {
	name             string
	probe            Probe
	fn               CheckFunc
	timeout          time.Duration
	failureThreshold int
	successThreshold int
	critical         bool

	passing atomic.Bool
	lastErr atomic.Pointer[string]

	// Only touched by the polling loop.
	fails, oks int
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.fn(ctx); err != nil {
		msg := err.Error()
		c.lastErr.Store(&msg)
		c.oks = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.passing.Store(false)
		}
		return
	}
	c.lastErr.Store(nil)
	c.fails = 0
	c.oks++
	if c.oks >= c.successThreshold {
		c.passing.Store(true)
	}
}

// CheckResult is the reported state of one check.
type CheckResult struct {
	Name     string
	Passing  bool
	Critical bool
	Error    string
}

// Report is the aggregated state of one probe.
type Report struct {
	Status string
	Checks []CheckResult
}

// Code returns the HTTP status for the report.
func (r Report) Code() int {
	switch r.Status {
	case StatusOK, StatusDegraded:
		return http.StatusOK
	default:
		return http.StatusServiceUnavailable
	}
}

// Encode writes the report as {"status": ..., "checks": {name: {...}}}.
func (r Report) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("status")
	e.Str(r.Status)
	if len(r.Checks) > 0 {
		e.FieldStart("checks")
		e.ObjStart()
		for _, c := range r.Checks {
			e.FieldStart(c.Name)
			e.ObjStart()
			e.FieldStart("passing")
			e.Bool(c.Passing)
			if !c.Critical {
				e.FieldStart("critical")
				e.Bool(false)
			}
			if c.Error != "" {
				e.FieldStart("error")
				e.Str(c.Error)
			}
			e.ObjEnd()
		}
		e.ObjEnd()
	}
	e.ObjEnd()
}

// Checker owns the registered checks and the polling loop.
type Checker struct {
	mu     sync.RWMutex
	checks []*check
	ready  atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Checker that is live and not yet ready.
func New() *Checker {
	return &Checker{}
}

// Register adds a check to the given probe. Checks start passing so a fresh
// instance is not reported down before the first poll.
func (h *Checker) Register(probe Probe, name string, fn CheckFunc, opts ...Option) {
	c := &check{
		name:             name,
		probe:            probe,
		fn:               fn,
		timeout:          2 * time.Second,
		failureThreshold: 3,
		successThreshold: 1,
		critical:         true,
	}
	for _, o := range opts {
		o(c)
	}
	c.passing.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// SetReady toggles the readiness gate independently of the checks, e.g. to
// drain traffic before shutdown.
func (h *Checker) SetReady(ready bool) { h.ready.Store(ready) }

// Ready reports the readiness gate.
func (h *Checker) Ready() bool { return h.ready.Load() }

// Start polls every check once immediately and then every interval until
// Stop is called or ctx is done.
func (h *Checker) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			h.poll(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the polling loop and waits for the in-flight round.
func (h *Checker) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

func (h *Checker) poll(ctx context.Context) {
	h.mu.RLock()
	checks := append([]*check(nil), h.checks...)
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.run(ctx)
		}()
	}
	wg.Wait()
}

// Report aggregates the state of every check registered for probe.
func (h *Checker) Report(probe Probe) Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := Report{Status: StatusOK}
	if probe == Readiness && !h.ready.Load() {
		r.Status = StatusNotReady
	}
	for _, c := range h.checks {
		if c.probe != probe {
			continue
		}
		res := CheckResult{Name: c.name, Passing: c.passing.Load(), Critical: c.critical}
		if msg := c.lastErr.Load(); msg != nil {
			res.Error = *msg
		}
		r.Checks = append(r.Checks, res)
		if res.Passing || r.Status == StatusNotReady {
			continue
		}
		if c.critical {
			r.Status = StatusUnhealthy
		} else if r.Status == StatusOK {
			r.Status = StatusDegraded
		}
	}
	sort.Slice(r.Checks, func(i, j int) bool { return r.Checks[i].Name < r.Checks[j].Name })
	return r
}

// Handler serves the report for probe.
func (h *Checker) Handler(probe Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		r := h.Report(probe)
		var e jx.Encoder
		r.Encode(&e)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(r.Code())
		_, _ = w.Write(e.Bytes())
	}
}
