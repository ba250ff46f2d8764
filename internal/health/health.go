// Package health serves the liveness and readiness probes on the telemetry
// listener.
//
//   - /healthz — liveness; always 200 while the process serves HTTP.
//   - /readyz  — readiness; 200 only while every registered check passes.
//
// Responses are JSON objects with a top-level "status" ("ok" or "fail") and a
// "checks" map with one entry per registered check.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Check probes one dependency. It must respect context cancellation and
// return nil while the dependency is healthy.
type Check func(ctx context.Context) error

// Handler serves the probe endpoints. Checks may be registered at any time,
// also after the handler started serving.
type Handler struct {
	mu     sync.Mutex
	names  []string
	checks map[string]Check
}

// New creates a Handler with no checks registered. Without checks /readyz
// always reports ready.
func New() *Handler {
	return &Handler{checks: make(map[string]Check)}
}

// AddCheck registers a named readiness check. Re-registering a name replaces
// the previous check.
func (h *Handler) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.checks[name]; !exists {
		h.names = append(h.names, name)
	}
	h.checks[name] = check
}

// Healthz always returns 200: a process able to serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResult{Status: "ok"})
}

// Readyz evaluates every registered check in registration order. Any failure
// turns the response into a 503 listing each check's outcome.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	names := append([]string(nil), h.names...)
	checks := make(map[string]Check, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.Unlock()

	res := probeResult{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := checks[name](ctx)
		cancel()

		if err != nil {
			res.Checks[name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[name] = "ok"
		}
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

type probeResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
