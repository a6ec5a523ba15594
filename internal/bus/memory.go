package bus

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface assertions.
var (
	_ Bus               = (*MemoryBus)(nil)
	_ Queue[Command]    = (*memQueue[Command])(nil)
	_ Queue[AudioFrame] = (*memQueue[AudioFrame])(nil)
)

// MemoryBus is a process-local [Bus]. Queues are unbounded slices guarded by
// a mutex; waiters park on a notification channel that is replaced on every
// push.
//
// MemoryBus is safe for concurrent use.
type MemoryBus struct {
	mu       sync.Mutex
	commands map[string]*memQueue[Command]
	audio    map[string]*memQueue[AudioFrame]
	events   *memQueue[Event]

	closed    chan struct{}
	closeOnce sync.Once
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	closed := make(chan struct{})
	return &MemoryBus{
		commands: make(map[string]*memQueue[Command]),
		audio:    make(map[string]*memQueue[AudioFrame]),
		events:   newMemQueue[Event](closed),
		closed:   closed,
	}
}

// Commands implements [Bus].
func (b *MemoryBus) Commands(_ context.Context, workerID string) (Queue[Command], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return nil, ErrClosed
	}
	q, ok := b.commands[workerID]
	if !ok {
		q = newMemQueue[Command](b.closed)
		b.commands[workerID] = q
	}
	return q, nil
}

// Events implements [Bus].
func (b *MemoryBus) Events() Queue[Event] { return b.events }

// Audio implements [Bus].
func (b *MemoryBus) Audio(_ context.Context, workerID string) (Queue[AudioFrame], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return nil, ErrClosed
	}
	q, ok := b.audio[workerID]
	if !ok {
		q = newMemQueue[AudioFrame](b.closed)
		b.audio[workerID] = q
	}
	return q, nil
}

// LookupAudio implements [Bus].
func (b *MemoryBus) LookupAudio(_ context.Context, workerID string) (Queue[AudioFrame], bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.audio[workerID]
	if !ok {
		return nil, false, nil
	}
	return q, true, nil
}

// RemoveAudio implements [Bus].
func (b *MemoryBus) RemoveAudio(ctx context.Context, workerID string) error {
	b.mu.Lock()
	q, ok := b.audio[workerID]
	delete(b.audio, workerID)
	b.mu.Unlock()
	if ok {
		q.remove()
	}
	return nil
}

// Ping implements [Bus].
func (b *MemoryBus) Ping(context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}
	return nil
}

// Close implements [Bus]. It wakes every blocked Pop.
func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

func (b *MemoryBus) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// memQueue is an unbounded FIFO.
type memQueue[T any] struct {
	mu      sync.Mutex
	items   []T
	notify  chan struct{}
	closed  <-chan struct{}
	removed bool
}

func newMemQueue[T any](closed <-chan struct{}) *memQueue[T] {
	return &memQueue[T]{notify: make(chan struct{}), closed: closed}
}

func (q *memQueue[T]) Push(_ context.Context, v T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	q.mu.Lock()
	if q.removed {
		q.mu.Unlock()
		return ErrRemoved
	}
	q.items = append(q.items, v)
	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()
	return nil
}

// remove discards the queued items and rejects later pushes.
func (q *memQueue[T]) remove() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = true
	q.items = nil
}

// take pops the head if there is one, otherwise returns the channel that
// will be closed by the next push.
func (q *memQueue[T]) take() (v T, ok bool, wait <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		v = q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		return v, true, nil
	}
	return v, false, q.notify
}

func (q *memQueue[T]) Pop(ctx context.Context) (T, error) {
	for {
		v, ok, wait := q.take()
		if ok {
			return v, nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return v, ctx.Err()
		case <-q.closed:
			return v, ErrClosed
		}
	}
}

func (q *memQueue[T]) PopWait(ctx context.Context, d time.Duration) (T, bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		v, ok, wait := q.take()
		if ok {
			return v, true, nil
		}
		select {
		case <-wait:
		case <-timer.C:
			return v, false, nil
		case <-ctx.Done():
			return v, false, ctx.Err()
		case <-q.closed:
			return v, false, ErrClosed
		}
	}
}

func (q *memQueue[T]) Drain(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n, nil
}

func (q *memQueue[T]) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}
