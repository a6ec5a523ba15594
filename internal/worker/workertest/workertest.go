// Package workertest runs workers against an in-memory bus and a fake
// Discord session, for tests of the worker kinds.
package workertest

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/discord"
	"github.com/MrWong99/starcommander/internal/discord/mock"
	"github.com/MrWong99/starcommander/internal/observe"
	"github.com/MrWong99/starcommander/internal/worker"
)

// Timeout bounds every wait of the harness.
const Timeout = 2 * time.Second

// BotUser is the account every fake session is logged in as.
var BotUser = discord.User{ID: "900", Username: "starbot"}

// Env is a bus, a metric reader and a fake session shared by the workers
// of one test.
type Env struct {
	T       testing.TB
	Bus     *bus.MemoryBus
	Session *mock.Session
	Metrics *observe.Metrics
	Reader  *sdkmetric.ManualReader
}

// New creates an environment and closes it when the test ends.
func New(t testing.TB) *Env {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	e := &Env{
		T:       t,
		Bus:     bus.NewMemoryBus(),
		Session: mock.New(BotUser),
		Metrics: m,
		Reader:  reader,
	}
	t.Cleanup(func() {
		_ = e.Bus.Close()
		_ = mp.Shutdown(context.Background())
	})
	return e
}

// Deps returns worker dependencies bound to the environment.
func (e *Env) Deps() worker.Deps {
	return worker.Deps{
		Bus:       e.Bus,
		Dial:      e.Session.Dialer(),
		Metrics:   e.Metrics,
		AudioWait: 50 * time.Millisecond,
	}
}

// Running is a worker started by [Env.Start].
type Running struct {
	env    *Env
	W      *worker.Worker
	cancel context.CancelFunc
	done   chan error
}

// Start runs w and waits until its ready hooks have run. Every event of
// the ready phase (ready, permissions_check) is queued by then. The worker
// is stopped when the test ends.
func (e *Env) Start(w *worker.Worker) *Running {
	e.T.Helper()
	readied := make(chan struct{})
	w.OnReady(func(context.Context) error {
		close(readied)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	r := &Running{env: e, W: w, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- w.Run(ctx, "test-token") }()
	e.T.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(Timeout):
			e.T.Errorf("worker %s did not stop", w.ID())
		}
	})

	select {
	case <-readied:
	case err := <-r.done:
		r.done <- err
		e.T.Fatalf("worker %s ended before ready: %v", w.ID(), err)
	case <-time.After(Timeout):
		e.T.Fatalf("worker %s not ready, state %s", w.ID(), w.State())
	}
	return r
}

// Send pushes a command to the worker.
func (r *Running) Send(name string, params map[string]any) {
	r.env.T.Helper()
	q, err := r.env.Bus.Commands(context.Background(), r.W.ID())
	if err != nil {
		r.env.T.Fatalf("Commands(%s): %v", r.W.ID(), err)
	}
	if err := q.Push(context.Background(), bus.NewCommand(name, params)); err != nil {
		r.env.T.Fatalf("push %s: %v", name, err)
	}
}

// Cancel cancels the context Run was started with.
func (r *Running) Cancel() { r.cancel() }

// Wait blocks until Run returns and yields its error.
func (r *Running) Wait() error {
	r.env.T.Helper()
	select {
	case err := <-r.done:
		r.done <- err
		return err
	case <-time.After(Timeout):
		r.env.T.Fatalf("worker %s did not return", r.W.ID())
		return nil
	}
}

// Next pops the next event of any worker.
func (e *Env) Next() bus.Event {
	e.T.Helper()
	ev, ok, err := e.Bus.Events().PopWait(context.Background(), Timeout)
	if err != nil {
		e.T.Fatalf("pop event: %v", err)
	}
	if !ok {
		e.T.Fatal("no event within timeout")
	}
	return ev
}

// Await discards events until one of typ from workerID arrives.
func (e *Env) Await(workerID, typ string) bus.Event {
	e.T.Helper()
	deadline := time.Now().Add(Timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			e.T.Fatalf("no %s event from %s within timeout", typ, workerID)
		}
		ev, ok, err := e.Bus.Events().PopWait(context.Background(), left)
		if err != nil {
			e.T.Fatalf("pop event: %v", err)
		}
		if !ok {
			e.T.Fatalf("no %s event from %s within timeout", typ, workerID)
		}
		if ev.WorkerID == workerID && ev.Type == typ {
			return ev
		}
	}
}

// Drain discards every queued event.
func (e *Env) Drain() {
	e.T.Helper()
	if _, err := e.Bus.Events().Drain(context.Background()); err != nil {
		e.T.Fatalf("drain events: %v", err)
	}
}

// Quiet fails the test if an event arrives within d.
func (e *Env) Quiet(d time.Duration) {
	e.T.Helper()
	ev, ok, err := e.Bus.Events().PopWait(context.Background(), d)
	if err != nil {
		e.T.Fatalf("pop event: %v", err)
	}
	if ok {
		e.T.Fatalf("unexpected event %s %v", ev.Type, ev.Payload)
	}
}
