// Package health serves the liveness and readiness probes of the fleet
// process.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when every [Checker] passes.
//
// Both respond with {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe.
type Checker struct {
	// Name keys the result in the JSON response, e.g. "bus" or "workers".
	Name string

	// Check returns nil when the dependency is usable. It must respect
	// context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] for the given checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each under a [checkTimeout]
// deadline derived from the request, and answers 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(errs))}
	code := http.StatusOK
	for i, err := range errs {
		name := h.checkers[i].Name
		if err == nil {
			res.Checks[name] = "ok"
			continue
		}
		res.Checks[name] = "fail: " + err.Error()
		res.Status, code = "fail", http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Pinger is satisfied by the message bus.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BusChecker reports whether the message bus answers a ping.
func BusChecker(p Pinger) Checker {
	return Checker{Name: "bus", Check: p.Ping}
}

// Counter is satisfied by the worker registry.
type Counter interface {
	Count() int
}

// WorkersChecker fails while workers are configured but none is registered.
// configured is evaluated on every probe so reloads are reflected.
func WorkersChecker(c Counter, configured func() int) Checker {
	return Checker{Name: "workers", Check: func(context.Context) error {
		want := configured()
		if want > 0 && c.Count() == 0 {
			return fmt.Errorf("0 of %d configured workers running", want)
		}
		return nil
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
