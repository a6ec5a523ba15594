// Package fleet is the control-plane side of the worker fleet: it starts,
// stops and lists worker processes and keeps them in line with the
// configured credentials.
//
// The manager holds no worker state of its own. Running processes live in
// the [registry.Registry]; credentials are read from a [credential.Source]
// whenever a worker is started by id.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/starcommander/internal/config"
	"github.com/MrWong99/starcommander/internal/credential"
	"github.com/MrWong99/starcommander/internal/registry"
	"github.com/MrWong99/starcommander/internal/resilience"
	"github.com/MrWong99/starcommander/internal/supervisor"
)

var (
	// ErrUnknownWorker is returned for an id without credentials or without
	// a registered process.
	ErrUnknownWorker = errors.New("fleet: unknown worker")

	// ErrCrashLoop is returned when a worker is not started because it kept
	// exiting shortly after its previous starts.
	ErrCrashLoop = errors.New("fleet: worker is crash looping")
)

// stopWait bounds how long Stop waits for a killed process to be reaped.
const stopWait = 5 * time.Second

// Crash-loop defaults.
const (
	defaultMinUptime  = 30 * time.Second
	defaultMaxCrashes = 3
	defaultCrashPause = 5 * time.Minute
)

// Status describes one registered worker.
type Status struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Running bool   `json:"running"`
	Pid     int    `json:"pid,omitempty"`
	RunID   string `json:"run_id,omitempty"`

	// CrashLoop is set while restarts of the worker are suspended.
	CrashLoop bool `json:"crash_loop,omitempty"`
}

// Option configures a [Manager].
type Option func(*Manager)

// WithCrashPolicy sets when a worker counts as crash looping: after
// maxCrashes consecutive exits within minUptime of their start, restarts
// are refused for pause. Zero values keep the defaults.
func WithCrashPolicy(maxCrashes int, minUptime, pause time.Duration) Option {
	return func(m *Manager) {
		if maxCrashes > 0 {
			m.maxCrashes = maxCrashes
		}
		if minUptime > 0 {
			m.minUptime = minUptime
		}
		if pause > 0 {
			m.crashPause = pause
		}
	}
}

// Manager starts and stops workers.
// All exported methods are safe for concurrent use.
type Manager struct {
	srcMu  sync.RWMutex
	source credential.Source

	spawner  supervisor.Spawner
	registry *registry.Registry

	maxCrashes int
	minUptime  time.Duration
	crashPause time.Duration

	// mu serialises start and stop so one id is never spawned twice.
	mu    sync.Mutex
	kinds map[string]config.WorkerKind
	creds map[string]credential.Credential

	bmu      sync.Mutex
	breakers map[string]*resilience.Breaker

	// stopping holds processes killed on purpose; their exit is not a crash.
	stopping sync.Map
}

// New creates a manager.
func New(src credential.Source, sp supervisor.Spawner, reg *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		source:     src,
		spawner:    sp,
		registry:   reg,
		maxCrashes: defaultMaxCrashes,
		minUptime:  defaultMinUptime,
		crashPause: defaultCrashPause,
		kinds:      make(map[string]config.WorkerKind),
		creds:      make(map[string]credential.Credential),
		breakers:   make(map[string]*resilience.Breaker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetSource replaces the credential source used by later starts and
// refreshes. Running workers are not touched.
func (m *Manager) SetSource(src credential.Source) {
	m.srcMu.Lock()
	m.source = src
	m.srcMu.Unlock()
}

func (m *Manager) credentials(ctx context.Context) ([]credential.Credential, error) {
	m.srcMu.RLock()
	src := m.source
	m.srcMu.RUnlock()
	return src.Credentials(ctx)
}

// Registry returns the process registry.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Start starts worker id with its current credentials. Starting a worker
// that is already running is a no-op.
func (m *Manager) Start(ctx context.Context, id string) error {
	creds, err := m.credentials(ctx)
	c, ok := credential.Lookup(creds, id)
	if !ok {
		if err != nil {
			return fmt.Errorf("fleet: start %s: %w", id, err)
		}
		return fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start(ctx, c)
}

// start spawns c unless it is running. m.mu must be held.
func (m *Manager) start(ctx context.Context, c credential.Credential) error {
	if m.registry.IsRunning(c.WorkerID) {
		slog.Debug("fleet: worker already running", "worker_id", c.WorkerID)
		return nil
	}
	p, err := m.spawn(ctx, c)
	if err != nil {
		return err
	}
	m.registry.Register(c.WorkerID, p)
	m.kinds[c.WorkerID] = c.Kind
	m.creds[c.WorkerID] = c
	return nil
}

// spawn starts c if its breaker allows it and watches the process exit.
func (m *Manager) spawn(ctx context.Context, c credential.Credential) (*supervisor.Process, error) {
	br := m.breaker(c.WorkerID)
	if !br.Allow() {
		return nil, fmt.Errorf("%w: %s", ErrCrashLoop, c.WorkerID)
	}
	p, err := m.spawner.Spawn(ctx, supervisor.Spec{
		WorkerID:   c.WorkerID,
		Kind:       string(c.Kind),
		Credential: c.Token,
	})
	if err != nil {
		br.Failure()
		return nil, fmt.Errorf("fleet: start %s: %w", c.WorkerID, err)
	}
	go m.watch(c.WorkerID, p, br, time.Now())
	return p, nil
}

// watch waits for p to exit and reports the outcome to br. Exits of
// processes killed by the manager are not counted.
func (m *Manager) watch(id string, p *supervisor.Process, br *resilience.Breaker, started time.Time) {
	<-p.Done()
	if _, ok := m.stopping.LoadAndDelete(p); ok {
		return
	}
	up := time.Since(started)
	if up < m.minUptime {
		slog.Warn("fleet: worker exited shortly after start", "worker_id", id, "uptime", up, "err", p.Err())
		br.Failure()
		return
	}
	slog.Warn("fleet: worker exited", "worker_id", id, "uptime", up, "err", p.Err())
	br.Success()
}

func (m *Manager) breaker(id string) *resilience.Breaker {
	m.bmu.Lock()
	defer m.bmu.Unlock()
	br, ok := m.breakers[id]
	if !ok {
		br = resilience.New(resilience.Config{
			Name:        "worker " + id,
			MaxFailures: m.maxCrashes,
			Cooldown:    m.crashPause,
		})
		m.breakers[id] = br
	}
	return br
}

// markStopping records that h is being killed on purpose.
func (m *Manager) markStopping(h registry.Handle) {
	if h.Alive() {
		m.stopping.Store(h, struct{}{})
	}
}

// Stop kills worker id and removes it from the registry.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop(id)
}

// stop kills id. m.mu must be held.
func (m *Manager) stop(id string) error {
	h, ok := m.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}
	m.markStopping(h)
	if err := h.Kill(); err != nil {
		m.stopping.Delete(h)
		return fmt.Errorf("fleet: stop %s: %w", id, err)
	}
	select {
	case <-h.Done():
	case <-time.After(stopWait):
		slog.Warn("fleet: worker not reaped after kill", "worker_id", id, "pid", h.Pid())
	}
	m.registry.Unregister(id)
	delete(m.creds, id)
	slog.Info("fleet: worker stopped", "worker_id", id)
	return nil
}

// StartAll starts every worker the credential source lists. Credential
// errors and start failures are joined; the other workers still start.
func (m *Manager) StartAll(ctx context.Context) error {
	creds, credErr := m.credentials(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := []error{credErr}
	errs = append(errs, m.startEach(ctx, creds)...)
	return errors.Join(errs...)
}

// startEach starts creds concurrently. m.mu must be held.
func (m *Manager) startEach(ctx context.Context, creds []credential.Credential) []error {
	var (
		g    errgroup.Group
		smu  sync.Mutex
		errs []error
	)
	for _, c := range creds {
		if m.registry.IsRunning(c.WorkerID) {
			continue
		}
		g.Go(func() error {
			p, err := m.spawn(ctx, c)
			smu.Lock()
			defer smu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			m.registry.Register(c.WorkerID, p)
			m.kinds[c.WorkerID] = c.Kind
			m.creds[c.WorkerID] = c
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// StopAll kills every registered worker.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.creds)
	for _, id := range m.registry.ListIDs() {
		if h, ok := m.registry.Get(id); ok {
			m.markStopping(h)
		}
	}
	return m.registry.StopAll()
}

// Status returns the status of worker id.
func (m *Manager) Status(id string) (Status, error) {
	h, ok := m.registry.Get(id)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}
	m.mu.Lock()
	kind := m.kinds[id]
	m.mu.Unlock()
	st := Status{
		ID:        id,
		Kind:      string(kind),
		Running:   h.Alive(),
		Pid:       h.Pid(),
		CrashLoop: m.breaker(id).State() == resilience.StateOpen,
	}
	if p, ok := h.(*supervisor.Process); ok {
		st.RunID = p.RunID()
	}
	return st, nil
}

// List returns the status of every registered worker, sorted by id.
func (m *Manager) List() []Status {
	ids := m.registry.ListIDs()
	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		if st, err := m.Status(id); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// Reconcile makes the running set match creds: workers missing from creds
// are stopped, new ones are started, and workers whose kind or token
// changed are restarted. Dead workers that are still listed are started
// again.
func (m *Manager) Reconcile(ctx context.Context, creds []credential.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]credential.Credential, len(creds))
	for _, c := range creds {
		want[c.WorkerID] = c
	}

	var errs []error
	for _, id := range m.registry.ListIDs() {
		c, keep := want[id]
		prev, known := m.creds[id]
		if keep && (!known || prev == c) {
			continue
		}
		if keep {
			slog.Info("fleet: credentials changed, restarting worker", "worker_id", id)
		} else {
			slog.Info("fleet: worker removed from credentials", "worker_id", id)
		}
		if err := m.stop(id); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, m.startEach(ctx, creds)...)
	return errors.Join(errs...)
}

// Refresh reads the credential source and reconciles against it.
func (m *Manager) Refresh(ctx context.Context) error {
	creds, err := m.credentials(ctx)
	if err != nil && len(creds) == 0 {
		return fmt.Errorf("fleet: refresh: %w", err)
	}
	return errors.Join(err, m.Reconcile(ctx, creds))
}
