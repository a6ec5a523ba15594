// Package worker implements the lifecycle every worker kind shares: the
// Discord session, the command dispatch loop, guild selection, permission
// checks and event emission.
//
// A worker reads its command queue on a dedicated receive goroutine and
// executes handlers one at a time on a single dispatch goroutine. A failing
// or panicking handler never ends the loop; the failure is reported as one
// error event and the next command is processed. Worker kinds add their
// commands and lifecycle hooks with [Worker.Handle], [Worker.OnReady] and
// [Worker.OnShutdown].
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/discord"
	"github.com/MrWong99/starcommander/internal/observe"
)

// Sentinel errors reported by the base worker.
var (
	ErrUnknownCommand  = errors.New("worker: unknown command")
	ErrNoGuildSelected = errors.New("worker: no guild selected")
	ErrGuildNotFound   = errors.New("worker: guild not found")
	ErrNotReady        = errors.New("worker: not connected")
)

// errStopped ends the dispatch loop after a shutdown command.
var errStopped = errors.New("worker: stopped")

// receiveBackoff is the pause after a failed dequeue.
const receiveBackoff = time.Second

// State is the lifecycle state of a worker.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateShuttingDown
	StateClosed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Deps are the collaborators a worker needs.
type Deps struct {
	// Bus carries commands, events and audio. Required.
	Bus bus.Bus

	// Dial opens the Discord session. Required.
	Dial discord.Dialer

	// Metrics records command and event counters. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// AudioWait bounds playback reads of relay workers. Zero means one
	// second.
	AudioWait time.Duration
}

// Worker is one Discord bot account driven by commands from the bus.
type Worker struct {
	id      string
	kind    string
	deps    Deps
	metrics *observe.Metrics
	log     *slog.Logger
	router  *Router
	events  bus.Queue[bus.Event]

	requirements  []discord.Requirement
	readyHooks    []func(context.Context) error
	shutdownHooks []func(context.Context) error

	state atomic.Int32

	mu       sync.RWMutex
	session  discord.Session
	guilds   []discord.GuildSummary
	selected *discord.GuildSummary

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a worker of kind with the base commands registered.
func New(id, kind string, deps Deps) *Worker {
	m := deps.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if deps.AudioWait <= 0 {
		deps.AudioWait = time.Second
	}
	w := &Worker{
		id:      id,
		kind:    kind,
		deps:    deps,
		metrics: m,
		log:     slog.With("worker_id", id, "kind", kind),
		router:  NewRouter(),
		events:  deps.Bus.Events(),
		stop:    make(chan struct{}),
	}
	w.Handle(CommandSelectGuild, w.cmdSelectGuild)
	w.Handle(CommandShutdown, w.cmdShutdown)
	return w
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// Kind returns the worker kind.
func (w *Worker) Kind() string { return w.kind }

// Bus returns the message bus.
func (w *Worker) Bus() bus.Bus { return w.deps.Bus }

// Metrics returns the metric instruments.
func (w *Worker) Metrics() *observe.Metrics { return w.metrics }

// AudioWait returns the bounded wait for playback reads.
func (w *Worker) AudioWait() time.Duration { return w.deps.AudioWait }

// Logger returns the worker's logger.
func (w *Worker) Logger() *slog.Logger { return w.log }

// Router returns the dispatch table.
func (w *Worker) Router() *Router { return w.router }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.log.Debug("worker: state changed", "state", s)
}

// Handle registers a command handler. Call before [Worker.Run].
func (w *Worker) Handle(name string, h Handler) { w.router.Handle(name, h) }

// Require adds permissions checked for every guild on ready.
func (w *Worker) Require(reqs ...discord.Requirement) {
	w.requirements = append(w.requirements, reqs...)
}

// Requirements returns the permissions checked on ready.
func (w *Worker) Requirements() []discord.Requirement { return w.requirements }

// OnReady adds a hook run after the ready event, before commands are
// processed. A hook error ends [Worker.Run].
func (w *Worker) OnReady(fn func(context.Context) error) {
	w.readyHooks = append(w.readyHooks, fn)
}

// OnShutdown adds a hook run while shutting down, before the session is
// closed. Hook errors are logged.
func (w *Worker) OnShutdown(fn func(context.Context) error) {
	w.shutdownHooks = append(w.shutdownHooks, fn)
}

// Session returns the Discord session, or nil before it is open.
func (w *Worker) Session() discord.Session {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.session
}

// Guilds returns the guilds cached on ready.
func (w *Worker) Guilds() []discord.GuildSummary {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]discord.GuildSummary(nil), w.guilds...)
}

// Emit pushes an event to the shared event queue. Failures are logged.
func (w *Worker) Emit(ctx context.Context, typ string, payload map[string]any) {
	if err := w.events.Push(ctx, bus.NewEvent(w.id, typ, payload)); err != nil {
		w.log.Warn("worker: failed to emit event", "type", typ, "err", err)
		return
	}
	w.metrics.RecordEvent(ctx, typ)
}

// Run connects with credential and processes commands until a shutdown
// command completes or ctx is cancelled. Both end with a nil error. Errors
// opening the session or the command queue, a failing ready hook or a
// closed bus are returned.
func (w *Worker) Run(ctx context.Context, credential string) error {
	w.setState(StateConnecting)

	cmds, err := w.deps.Bus.Commands(ctx, w.id)
	if err != nil {
		w.setState(StateClosed)
		return fmt.Errorf("worker %s: open command queue: %w", w.id, err)
	}

	sess, err := w.deps.Dial(ctx, credential)
	if err != nil {
		w.setState(StateClosed)
		return fmt.Errorf("worker %s: connect to discord: %w", w.id, err)
	}
	w.mu.Lock()
	w.session = sess
	w.mu.Unlock()

	if err := w.ready(ctx); err != nil {
		w.close(context.WithoutCancel(ctx))
		return err
	}

	inbox := make(chan bus.Command)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.receive(gctx, cmds, inbox) })
	g.Go(func() error { return w.dispatch(gctx, inbox) })
	err = g.Wait()

	if errors.Is(err, errStopped) {
		return nil
	}
	w.close(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("worker %s: %w", w.id, err)
	}
	return nil
}

func (w *Worker) ready(ctx context.Context) error {
	sess := w.Session()
	guilds := sess.Guilds()
	w.mu.Lock()
	w.guilds = guilds
	w.mu.Unlock()

	w.setState(StateReady)
	me := sess.Me()
	w.log.Info("worker: connected to discord", "user", me.Username, "guilds", len(guilds))

	list := make([]any, 0, len(guilds))
	for _, g := range guilds {
		list = append(list, map[string]any{"id": g.ID, "name": g.Name})
	}
	w.Emit(ctx, EventReady, map[string]any{
		"username": me.Username,
		"user_id":  me.ID,
		"guilds":   list,
	})

	if len(w.requirements) > 0 {
		for _, g := range guilds {
			w.CheckPermissions(ctx, g.ID, w.requirements)
		}
	}
	for _, hook := range w.readyHooks {
		if err := hook(ctx); err != nil {
			return fmt.Errorf("worker %s: ready: %w", w.id, err)
		}
	}
	return nil
}

// receive performs the blocking dequeue and hands commands to the dispatch
// goroutine.
func (w *Worker) receive(ctx context.Context, q bus.Queue[bus.Command], inbox chan<- bus.Command) error {
	for {
		cmd, err := q.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, bus.ErrClosed) {
				return err
			}
			w.log.Warn("worker: failed to receive command", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveBackoff):
			}
			continue
		}
		select {
		case inbox <- cmd:
		case <-ctx.Done():
			w.log.Warn("worker: dropping command received during stop", "command", cmd.Name)
			return nil
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, inbox <-chan bus.Command) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-inbox:
			w.handle(ctx, cmd)
			select {
			case <-w.stop:
				return errStopped
			default:
			}
		}
	}
}

// handle executes one command and converts any failure into an error event.
func (w *Worker) handle(ctx context.Context, cmd bus.Command) {
	start := time.Now()
	ctx, span := observe.StartCommandSpan(ctx, w.id, w.kind, cmd.Name)
	defer span.End()

	label := cmd.Name
	if _, ok := w.router.Lookup(cmd.Name); !ok {
		label = "unknown"
	}

	err := w.router.Dispatch(ctx, cmd)
	status := observe.StatusOK
	if err != nil {
		status = observe.StatusError
		observe.FailSpan(span, err)
		observe.Logger(ctx).Warn("worker: command failed",
			"worker_id", w.id, "command", cmd.Name, "err", err)
		w.Emit(ctx, EventError, map[string]any{"error": err.Error(), "command": cmd.Name})
	} else {
		observe.Logger(ctx).Debug("worker: command handled",
			"worker_id", w.id, "command", cmd.Name, "duration", time.Since(start))
	}
	w.metrics.RecordCommand(ctx, w.kind, label, status, time.Since(start).Seconds())
}

func (w *Worker) cmdShutdown(ctx context.Context, _ bus.Command) error {
	w.close(ctx)
	w.stopOnce.Do(func() { close(w.stop) })
	return nil
}

// close runs the shutdown sequence once.
func (w *Worker) close(ctx context.Context) {
	if !w.state.CompareAndSwap(int32(StateReady), int32(StateShuttingDown)) {
		return
	}
	w.log.Info("worker: shutting down")
	w.Emit(ctx, EventShuttingDown, map[string]any{})

	for _, hook := range w.shutdownHooks {
		if err := hook(ctx); err != nil {
			w.log.Warn("worker: shutdown hook failed", "err", err)
		}
	}
	if sess := w.Session(); sess != nil {
		if err := sess.Close(); err != nil {
			w.log.Warn("worker: failed to close discord session", "err", err)
		}
	}
	w.setState(StateClosed)
}
