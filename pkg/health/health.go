// Package health serves Kubernetes-style liveness and readiness probes.
//
// Every check runs on its own ticker. A check flips to unhealthy only after
// failing a configured number of times in a row and flips back after a
// configured number of consecutive successes, so a single slow ping does not
// take the instance out of rotation.
package health

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// Probe selects the endpoint a check reports to.
type Probe int

const (
	// Liveness checks decide whether the process should be restarted.
	Liveness Probe = iota
	// Readiness checks decide whether the instance receives traffic.
	Readiness
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// check is driven by a single goroutine; the streak counters are owned by it
// and only healthy and lastErr are shared with HTTP handlers.
type check struct {
	name     string
	timeout  time.Duration
	fn       CheckFunc
	failures int
	passes   int

	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)
	if err != nil {
		c.passes = 0
		c.failures++
		if c.failures >= c.failureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.failures = 0
	c.passes++
	if c.passes >= c.successThreshold {
		c.healthy.Store(true)
	}
}

func (c *check) failure() (string, bool) {
	if c.healthy.Load() {
		return "", false
	}
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error(), true
	}
	return "check is unhealthy", true
}

// Option configures Health.
type Option func(*Health)

// WithThresholds overrides the consecutive failure and success counts needed
// to change a check's state. Defaults are 3 and 1.
func WithThresholds(failure, success int) Option {
	return func(h *Health) {
		if failure > 0 {
			h.failureThreshold = failure
		}
		if success > 0 {
			h.successThreshold = success
		}
	}
}

// Health tracks probe state for one service instance.
type Health struct {
	ready atomic.Bool

	failureThreshold int
	successThreshold int

	mu     sync.RWMutex
	checks map[Probe][]*check
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true) is called.
func New(opts ...Option) *Health {
	h := &Health{
		failureThreshold: 3,
		successThreshold: 1,
		checks:           make(map[Probe][]*check),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Add registers a check for probe p. Checks start out healthy.
func (h *Health) Add(p Probe, name string, timeout time.Duration, fn CheckFunc) {
	c := &check{
		name:             name,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: h.failureThreshold,
		successThreshold: h.successThreshold,
	}
	c.healthy.Store(true)

	h.mu.Lock()
	h.checks[p] = append(h.checks[p], c)
	h.mu.Unlock()
}

func (h *Health) snapshot(p Probe) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.checks[p])
}

// Start runs every registered check immediately and then every interval
// until ctx is done or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	var all []*check
	for _, cs := range h.checks {
		all = append(all, cs...)
	}
	h.mu.Unlock()

	for _, c := range all {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			c.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.run(ctx)
				}
			}
		}()
	}
}

// Stop halts the background checks. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady toggles the manual readiness flag, typically false during drain.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports whether the instance is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(Readiness) {
		if !c.healthy.Load() {
			return false
		}
	}
	return true
}

func (h *Health) failures(p Probe) map[string]string {
	out := make(map[string]string)
	for _, c := range h.snapshot(p) {
		if msg, failed := c.failure(); failed {
			out[c.name] = msg
		}
	}
	if p == Readiness && !h.ready.Load() {
		out["_readiness"] = "service is not ready"
	}
	return out
}

// Handler serves probe p: 200 {"status":"ok"} or 503 with the failing checks.
func (h *Health) Handler(p Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		failures := h.failures(p)

		var e jx.Encoder
		e.ObjStart()
		e.FieldStart("status")
		status := http.StatusOK
		if len(failures) == 0 {
			e.Str("ok")
		} else {
			status = http.StatusServiceUnavailable
			e.Str("unhealthy")
			e.FieldStart("checks")
			e.ObjStart()
			for _, name := range slices.Sorted(maps.Keys(failures)) {
				e.FieldStart(name)
				e.Str(failures[name])
			}
			e.ObjEnd()
		}
		e.ObjEnd()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(e.Bytes())
	}
}
