// Package registry tracks the worker processes of a fleet by worker id.
//
// The registry is a plain map behind a mutex. It never probes processes on
// its own; liveness is evaluated on demand through [Handle.Alive].
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/starcommander/internal/observe"
)

// Handle is a running worker process.
type Handle interface {
	// ID returns the worker id the process was started for.
	ID() string

	// Pid returns the operating-system process id, or 0 for in-process
	// workers.
	Pid() int

	// Alive reports whether the process has not exited yet.
	Alive() bool

	// Kill terminates the process immediately.
	Kill() error

	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// Registry maps worker ids to process handles.
type Registry struct {
	mu      sync.Mutex
	handles map[string]Handle
	metrics *observe.Metrics
}

// New returns an empty registry. A nil m uses [observe.DefaultMetrics].
func New(m *observe.Metrics) *Registry {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Registry{handles: make(map[string]Handle), metrics: m}
}

// Register stores h under id, replacing any previous handle.
func (r *Registry) Register(id string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[id]; !ok {
		r.metrics.WorkersRegistered.Add(context.Background(), 1)
	}
	r.handles[id] = h
}

// Unregister removes id. It reports whether id was registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[id]; !ok {
		return false
	}
	delete(r.handles, id)
	r.metrics.WorkersRegistered.Add(context.Background(), -1)
	return true
}

// Get returns the handle of id.
func (r *Registry) Get(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// ListIDs returns the registered ids, sorted.
func (r *Registry) ListIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IsRunning reports whether id is registered and its process is alive.
func (r *Registry) IsRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return ok && h.Alive()
}

// Count returns the number of registered handles, alive or not.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// CountAlive returns the number of registered handles whose process is
// alive.
func (r *Registry) CountAlive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, h := range r.handles {
		if h.Alive() {
			n++
		}
	}
	return n
}

// StopAll kills every live process and empties the registry. Kill errors
// are joined; one failure does not stop the sweep.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, h := range r.handles {
		if !h.Alive() {
			continue
		}
		if err := h.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("registry: kill %s: %w", id, err))
			continue
		}
		slog.Info("registry: worker killed", "worker_id", id, "pid", h.Pid())
	}
	if n := len(r.handles); n > 0 {
		r.metrics.WorkersRegistered.Add(context.Background(), -int64(n))
	}
	clear(r.handles)
	return errors.Join(errs...)
}
