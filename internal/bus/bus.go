// Package bus carries the three message flows between the control plane and
// the worker fleet:
//
//   - one command queue per worker (control plane → worker),
//   - one shared event queue (workers → control plane),
//   - one audio queue per relay worker (worker → worker).
//
// Queues are FIFO, at-most-once and non-persistent across restarts of the
// backing store. Two backends implement [Bus]: [MemoryBus] for a single
// process and [RedisBus] for a fleet of worker processes.
package bus

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by queue operations after the owning [Bus] has been
// closed.
var ErrClosed = errors.New("bus: closed")

// ErrRemoved is returned by Push on an audio queue whose channel was removed
// with [Bus.RemoveAudio]. The frame is not stored. A channel created again
// under the same id can be resolved with [Bus.LookupAudio].
var ErrRemoved = errors.New("bus: audio channel removed")

// Queue is a FIFO channel of messages of type T.
//
// Implementations must be safe for concurrent use.
type Queue[T any] interface {
	// Push appends v to the tail of the queue.
	Push(ctx context.Context, v T) error

	// Pop removes and returns the head of the queue, blocking until an item
	// is available, ctx is done or the bus is closed.
	Pop(ctx context.Context) (T, error)

	// PopWait is like Pop but gives up after d. ok is false when the wait
	// expired without an item.
	PopWait(ctx context.Context, d time.Duration) (v T, ok bool, err error)

	// Drain discards every queued item and returns how many were dropped.
	Drain(ctx context.Context) (int, error)

	// Len returns the number of queued items.
	Len(ctx context.Context) (int, error)
}

// Bus resolves the queues of the fleet by worker id.
//
// Commands and Audio are create-if-absent: the first call for an id creates
// the channel, later calls (from any process sharing the backend) attach to
// the same one. Within one process repeated calls return the same [Queue]
// value.
type Bus interface {
	// Commands returns the command queue of workerID.
	Commands(ctx context.Context, workerID string) (Queue[Command], error)

	// Events returns the shared event queue.
	Events() Queue[Event]

	// Audio returns the audio queue of workerID, creating it if needed.
	Audio(ctx context.Context, workerID string) (Queue[AudioFrame], error)

	// LookupAudio returns the audio queue of workerID only if it has already
	// been created.
	LookupAudio(ctx context.Context, workerID string) (Queue[AudioFrame], bool, error)

	// RemoveAudio deletes the audio queue of workerID and any frames in it.
	// Pushes through queue values resolved earlier fail with [ErrRemoved]
	// instead of recreating the channel.
	RemoveAudio(ctx context.Context, workerID string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources. Blocked Pop calls return [ErrClosed].
	Close() error
}
