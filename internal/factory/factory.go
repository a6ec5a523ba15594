// Package factory builds workers by kind name.
package factory

import (
	"errors"
	"fmt"

	"github.com/MrWong99/starcommander/internal/config"
	"github.com/MrWong99/starcommander/internal/worker"
	"github.com/MrWong99/starcommander/internal/worker/admin"
	"github.com/MrWong99/starcommander/internal/worker/relay"
)

// ErrUnknownKind is returned for a kind no worker implements.
var ErrUnknownKind = errors.New("factory: unknown worker kind")

// New returns a worker of kind with id. Kind aliases accepted by
// [config.ParseKind] are resolved.
func New(kind, id string, deps worker.Deps) (*worker.Worker, error) {
	k, ok := config.ParseKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	switch k {
	case config.KindAdministrative:
		return admin.New(id, deps), nil
	case config.KindRelay:
		return relay.New(id, deps), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Kinds returns the kind names New accepts without aliases.
func Kinds() []string {
	return []string{admin.Kind, relay.Kind}
}
