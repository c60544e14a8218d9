// Package health serves Kubernetes-style liveness and readiness probes.
// Checks run in one background loop; a check must fail a few times in a row
// before its probe flips, so a single slow poll does not bounce the pod.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// failureThreshold is how many consecutive failures mark a check unhealthy.
const failureThreshold = 3

// CheckFunc probes one component; nil means healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	fails   int
	lastErr error
}

// Health tracks liveness and readiness checks for the service.
type Health struct {
	ready  atomic.Bool
	cancel context.CancelFunc

	mu        sync.Mutex
	liveness  []*check
	readiness []*check
}

// New creates a Health in the not-ready state; call SetReady(true) once
// startup finishes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a process-level check (goroutine leaks etc.).
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, &check{name: name, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a dependency check (database connectivity etc.).
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, &check{name: name, timeout: timeout, fn: fn})
}

// Start runs all registered checks every interval until Stop or context
// cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		h.runAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.runAll(ctx)
			}
		}
	}()
}

// Stop cancels the check loop. Safe to call more than once.
func (h *Health) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

// SetReady flips the manual readiness gate: true after startup, false during
// graceful shutdown to drain traffic.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.readiness {
		if c.fails >= failureThreshold {
			return false
		}
	}
	return true
}

func (h *Health) runAll(ctx context.Context) {
	h.mu.Lock()
	checks := make([]*check, 0, len(h.liveness)+len(h.readiness))
	checks = append(checks, h.liveness...)
	checks = append(checks, h.readiness...)
	h.mu.Unlock()

	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.fn(checkCtx)
		cancel()

		h.mu.Lock()
		if err != nil {
			c.fails++
			c.lastErr = err
		} else {
			c.fails = 0
			c.lastErr = nil
		}
		h.mu.Unlock()
	}
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while liveness checks pass, 503 with the
// failing checks otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.writeStatus(w, h.failures(func() []*check { return h.liveness }), true)
}

// ReadyEndpoint serves /readyz: 200 once SetReady(true) was called and all
// readiness checks pass.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(func() []*check { return h.readiness })
	h.writeStatus(w, failures, h.ready.Load())
}

func (h *Health) failures(pick func() []*check) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]string)
	for _, c := range pick() {
		if c.fails >= failureThreshold {
			msg := "check is unhealthy"
			if c.lastErr != nil {
				msg = c.lastErr.Error()
			}
			out[c.name] = msg
		}
	}
	return out
}

func (h *Health) writeStatus(w http.ResponseWriter, failures map[string]string, gate bool) {
	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if !gate {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
		if resp.Checks == nil {
			resp.Checks = map[string]string{"_readiness": "service is not ready"}
		}
	}
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
