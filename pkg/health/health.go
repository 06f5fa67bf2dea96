// Package health serves the /livez and /readyz endpoints.
//
// Every check runs on its own ticker. A check turns unhealthy after three
// consecutive failures and healthy again after one success. Optional checks
// (the product cache) are reported but never fail readiness.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	failureThreshold = 3
	successThreshold = 1
)

// CheckFunc reports nil when the dependency is usable.
type CheckFunc func(ctx context.Context) error

type healthCheck struct {
	name     string
	timeout  time.Duration
	fn       CheckFunc
	optional bool

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// Owned by the single goroutine calling run.
	fails int
	oks   int
}

func newHealthCheck(name string, timeout time.Duration, fn CheckFunc, optional bool) *healthCheck {
	p := &healthCheck{name: name, timeout: timeout, fn: fn, optional: optional}
	p.healthy.Store(true)
	return p
}

func (p *healthCheck) run(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.fn(checkCtx)
	p.lastErr.Store(&err)

	was := p.healthy.Load()
	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= failureThreshold {
			p.healthy.Store(false)
		}
	} else {
		p.fails = 0
		p.oks++
		if p.oks >= successThreshold {
			p.healthy.Store(true)
		}
	}
	if now := p.healthy.Load(); now != was {
		lg := zctx.From(ctx).With(zap.String("check", p.name), zap.Bool("optional", p.optional))
		if now {
			lg.Info("Health check recovered")
		} else {
			lg.Warn("Health check failing", zap.Error(err))
		}
	}
}

func (p *healthCheck) failure() string {
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error()
	}
	return "check is unhealthy"
}

// Health holds the registered checks and the manual readiness flag.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	live      []*healthCheck
	readiness []*healthCheck
	cancel    context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check for /livez.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, newHealthCheck(name, timeout, fn, false))
}

// AddReadinessCheck registers a dependency that must be healthy for /readyz.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newHealthCheck(name, timeout, fn, false))
}

// AddOptionalCheck registers a dependency whose failure shows up in /readyz
// as degraded while the endpoint still answers 200.
func (h *Health) AddOptionalCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newHealthCheck(name, timeout, fn, true))
}

// Start runs every check immediately and then every interval until Stop or
// ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := append(append([]*healthCheck(nil), h.live...), h.readiness...)
	h.mu.Unlock()

	for _, p := range checks {
		go func() {
			t := time.NewTicker(interval)
			defer t.Stop()
			p.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					p.run(ctx)
				}
			}
		}()
	}
}

// Stop cancels the check goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness flag, false during shutdown drain.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the manual flag and all required readiness checks.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	failed, _ := evaluate(h.snapshot(false))
	return len(failed) == 0
}

func (h *Health) snapshot(live bool) []*healthCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if live {
		return append([]*healthCheck(nil), h.live...)
	}
	return append([]*healthCheck(nil), h.readiness...)
}

// evaluate splits unhealthy checks into required failures and degraded
// optional ones.
func evaluate(checks []*healthCheck) (failed, degraded map[string]string) {
	failed = map[string]string{}
	degraded = map[string]string{}
	for _, p := range checks {
		if p.healthy.Load() {
			continue
		}
		if p.optional {
			degraded[p.name] = p.failure()
		} else {
			failed[p.name] = p.failure()
		}
	}
	return failed, degraded
}

type statusResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks,omitempty"`
	Degraded map[string]string `json:"degraded,omitempty"`
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed, _ := evaluate(h.snapshot(true))
	respond(w, failed, nil)
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed, degraded := evaluate(h.snapshot(false))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	respond(w, failed, degraded)
}

func respond(w http.ResponseWriter, failed, degraded map[string]string) {
	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(degraded) > 0 {
		resp.Status = "degraded"
		resp.Degraded = degraded
	}
	if len(failed) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failed
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
