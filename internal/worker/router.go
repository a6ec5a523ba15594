package worker

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/starcommander/internal/bus"
)

// Handler executes one command. A returned error becomes an error event.
type Handler func(ctx context.Context, cmd bus.Command) error

// Router dispatches commands to handlers by exact name match.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Handle registers h for the command name. Registering a name twice
// replaces the earlier handler.
func (r *Router) Handle(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the handler registered for name.
func (r *Router) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered command names, sorted.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Dispatch runs the handler for cmd. Unknown names yield
// [ErrUnknownCommand]; a panicking handler is recovered into an error.
func (r *Router) Dispatch(ctx context.Context, cmd bus.Command) (err error) {
	h, ok := r.Lookup(cmd.Name)
	if !ok {
		if cmd.Name == "" {
			return fmt.Errorf("%w: missing command field", ErrUnknownCommand)
		}
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker: command %q panicked: %v", cmd.Name, p)
		}
	}()
	return h(ctx, cmd)
}
