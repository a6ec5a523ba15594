// Package supervisor starts worker processes and hands back handles for the
// registry.
//
// There is no restart policy and no readiness handshake: [Spawner.Spawn]
// returns as soon as the worker has started, and a worker that dies stays
// dead until the fleet manager starts it again.
package supervisor

import (
	"context"
	"sync"

	"github.com/MrWong99/starcommander/internal/registry"
)

// Environment variables passed to worker processes.
const (
	// EnvWorkerToken carries the Discord bot token. Tokens never appear in
	// argv.
	EnvWorkerToken = "STARCOMMANDER_WORKER_TOKEN"

	// EnvRunID carries a unique id per spawn for log correlation.
	EnvRunID = "STARCOMMANDER_RUN_ID"
)

// Spec describes one worker to start.
type Spec struct {
	WorkerID   string
	Kind       string
	Credential string
}

// Spawner starts workers.
type Spawner interface {
	// Spawn starts the worker described by spec. ctx governs the start
	// only; the worker outlives it.
	Spawn(ctx context.Context, spec Spec) (*Process, error)
}

// Process is a started worker. It implements [registry.Handle].
type Process struct {
	id    string
	runID string
	pid   int
	kill  func() error
	done  chan struct{}

	mu  sync.Mutex
	err error
}

var _ registry.Handle = (*Process)(nil)

func newProcess(id, runID string, pid int, kill func() error) *Process {
	return &Process{id: id, runID: runID, pid: pid, kill: kill, done: make(chan struct{})}
}

// exited records the exit error and closes Done.
func (p *Process) exited(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

// ID returns the worker id.
func (p *Process) ID() string { return p.id }

// RunID returns the id of this spawn.
func (p *Process) RunID() string { return p.runID }

// Pid returns the process id, or 0 for an in-process worker.
func (p *Process) Pid() int { return p.pid }

// Done is closed once the worker has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Alive reports whether the worker has not exited yet.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Kill terminates the worker without draining. Killing an exited worker
// is a no-op.
func (p *Process) Kill() error {
	if !p.Alive() {
		return nil
	}
	return p.kill()
}

// Err returns the exit error once the worker has exited.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Terminate kills h.
func Terminate(h registry.Handle) error { return h.Kill() }
