package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports whether a dependency of the keeper is usable.
type CheckFunc func(ctx context.Context) error

// HealthChecker backs /healthz and /readyz. The keeper is ready once replay
// has finished and every registered dependency check passes.
type HealthChecker struct {
	ready        atomic.Bool
	startTime    time.Time
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime:    time.Now(),
		checkTimeout: 2 * time.Second,
		checks:       make(map[string]CheckFunc),
	}
}

// AddCheck registers a dependency probe run on every readiness request.
func (h *HealthChecker) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
}

func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// Check runs every registered probe and returns the failures by name.
func (h *HealthChecker) Check(ctx context.Context) map[string]string {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]CheckFunc, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	failed := make(map[string]string)
	for i, fn := range checks {
		cctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
		if err := fn(cctx); err != nil {
			failed[names[i]] = err.Error()
		}
		cancel()
	}
	return failed
}

// LivenessHandler returns 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}

// ReadinessHandler returns 503 until replay is done, and while any
// dependency check fails.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeHealth(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "replaying"})
		return
	}
	if failed := h.Check(r.Context()); len(failed) > 0 {
		writeHealth(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"failed": failed,
		})
		return
	}
	writeHealth(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

func writeHealth(w http.ResponseWriter, code int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
