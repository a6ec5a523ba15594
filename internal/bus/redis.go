package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface assertions.
var (
	_ Bus               = (*RedisBus)(nil)
	_ Queue[Command]    = (*redisQueue[Command])(nil)
	_ Queue[AudioFrame] = (*redisQueue[AudioFrame])(nil)
)

// DefaultKeyPrefix namespaces every key the Redis backend touches.
const DefaultKeyPrefix = "starcommander"

// popSlice bounds a single BLPOP so that context cancellation and Close are
// observed between slices.
const popSlice = time.Second

// RedisOptions configures [DialRedis].
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisBus is a [Bus] backed by Redis lists.
//
// Key layout, with P the key prefix:
//
//	P:cmd:<worker-id>     command list of a worker
//	P:events              shared event list
//	P:audio:<worker-id>   audio list of a relay worker
//	P:channels:cmd        set of worker ids with a command list
//	P:channels:audio      set of worker ids with an audio list
//
// The registration sets make create-if-absent atomic across processes and
// let LookupAudio tell "no frames yet" apart from "no channel". Values are
// CBOR encoded.
//
// RedisBus is safe for concurrent use.
type RedisBus struct {
	client redis.UniversalClient
	prefix string
	owned  bool

	mu       sync.Mutex
	commands map[string]*redisQueue[Command]
	audio    map[string]*redisQueue[AudioFrame]
	events   *redisQueue[Event]

	closed    chan struct{}
	closeOnce sync.Once
}

// DialRedis connects to Redis and verifies the connection with PING. The
// returned bus owns the client and closes it on Close.
func DialRedis(ctx context.Context, opts RedisOptions) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("bus: connect to redis at %s: %w", opts.Addr, err)
	}

	b := NewRedisBus(client, opts.KeyPrefix)
	b.owned = true
	slog.Info("bus: connected to redis", "addr", opts.Addr, "db", opts.DB, "key_prefix", b.prefix)
	return b, nil
}

// NewRedisBus wraps an existing client. An empty prefix selects
// [DefaultKeyPrefix]. The caller keeps ownership of client.
func NewRedisBus(client redis.UniversalClient, prefix string) *RedisBus {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	closed := make(chan struct{})
	b := &RedisBus{
		client:   client,
		prefix:   prefix,
		commands: make(map[string]*redisQueue[Command]),
		audio:    make(map[string]*redisQueue[AudioFrame]),
		closed:   closed,
	}
	b.events = newRedisQueue[Event](client, prefix+":events", closed)
	return b
}

func (b *RedisBus) commandKey(id string) string { return b.prefix + ":cmd:" + id }
func (b *RedisBus) audioKey(id string) string   { return b.prefix + ":audio:" + id }
func (b *RedisBus) commandSet() string          { return b.prefix + ":channels:cmd" }
func (b *RedisBus) audioSet() string            { return b.prefix + ":channels:audio" }

// Commands implements [Bus].
func (b *RedisBus) Commands(ctx context.Context, workerID string) (Queue[Command], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.commands[workerID]; ok {
		return q, nil
	}
	if err := b.client.SAdd(ctx, b.commandSet(), workerID).Err(); err != nil {
		return nil, fmt.Errorf("bus: register command channel %q: %w", workerID, err)
	}
	q := newRedisQueue[Command](b.client, b.commandKey(workerID), b.closed)
	b.commands[workerID] = q
	return q, nil
}

// Events implements [Bus].
func (b *RedisBus) Events() Queue[Event] { return b.events }

// Audio implements [Bus].
func (b *RedisBus) Audio(ctx context.Context, workerID string) (Queue[AudioFrame], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.audio[workerID]; ok {
		return q, nil
	}
	if err := b.client.SAdd(ctx, b.audioSet(), workerID).Err(); err != nil {
		return nil, fmt.Errorf("bus: register audio channel %q: %w", workerID, err)
	}
	q := b.newAudioQueue(workerID)
	b.audio[workerID] = q
	return q, nil
}

// LookupAudio implements [Bus]. The registration set is consulted so that
// channels created by other processes are found.
func (b *RedisBus) LookupAudio(ctx context.Context, workerID string) (Queue[AudioFrame], bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.audio[workerID]; ok {
		return q, true, nil
	}
	ok, err := b.client.SIsMember(ctx, b.audioSet(), workerID).Result()
	if err != nil {
		return nil, false, fmt.Errorf("bus: look up audio channel %q: %w", workerID, err)
	}
	if !ok {
		return nil, false, nil
	}
	q := b.newAudioQueue(workerID)
	b.audio[workerID] = q
	return q, true, nil
}

// newAudioQueue returns a queue whose pushes only land while workerID is a
// member of the audio registration set.
func (b *RedisBus) newAudioQueue(workerID string) *redisQueue[AudioFrame] {
	q := newRedisQueue[AudioFrame](b.client, b.audioKey(workerID), b.closed)
	q.registry, q.member = b.audioSet(), workerID
	return q
}

// RemoveAudio implements [Bus].
func (b *RedisBus) RemoveAudio(ctx context.Context, workerID string) error {
	b.mu.Lock()
	delete(b.audio, workerID)
	b.mu.Unlock()
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, b.audioSet(), workerID)
		pipe.Del(ctx, b.audioKey(workerID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("bus: remove audio channel %q: %w", workerID, err)
	}
	return nil
}

// Ping implements [Bus].
func (b *RedisBus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("bus: ping redis: %w", err)
	}
	return nil
}

// Close implements [Bus]. The client is closed only if the bus created it.
func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		if b.owned {
			err = b.client.Close()
		}
	})
	return err
}

// pushRegistered appends ARGV[2] to the list KEYS[2] if ARGV[1] is a member
// of the set KEYS[1], and returns -1 otherwise. A plain RPUSH would recreate
// the list of a removed channel.
var pushRegistered = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
  return -1
end
return redis.call('RPUSH', KEYS[2], ARGV[2])
`)

// redisQueue is a Redis list holding CBOR-encoded values. Queues with a
// registry only accept pushes while member is in that set.
type redisQueue[T any] struct {
	client redis.UniversalClient
	key    string
	closed <-chan struct{}

	registry string
	member   string
}

func newRedisQueue[T any](client redis.UniversalClient, key string, closed <-chan struct{}) *redisQueue[T] {
	return &redisQueue[T]{client: client, key: key, closed: closed}
}

func (q *redisQueue[T]) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

func (q *redisQueue[T]) Push(ctx context.Context, v T) error {
	if q.isClosed() {
		return ErrClosed
	}
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: encode for %s: %w", q.key, err)
	}
	if q.registry == "" {
		if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
			return fmt.Errorf("bus: push %s: %w", q.key, err)
		}
		return nil
	}
	n, err := pushRegistered.Run(ctx, q.client, []string{q.registry, q.key}, q.member, data).Int64()
	if err != nil {
		return fmt.Errorf("bus: push %s: %w", q.key, err)
	}
	if n < 0 {
		return ErrRemoved
	}
	return nil
}

func (q *redisQueue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		if q.isClosed() {
			return zero, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, ok, err := q.blpop(ctx, popSlice)
		if err != nil {
			return zero, err
		}
		if ok {
			return v, nil
		}
	}
}

// PopWait implements [Queue]. BLPOP counts in whole seconds, so waits below
// one second are rounded up to one second.
func (q *redisQueue[T]) PopWait(ctx context.Context, d time.Duration) (T, bool, error) {
	var zero T
	if q.isClosed() {
		return zero, false, ErrClosed
	}
	return q.blpop(ctx, d)
}

func (q *redisQueue[T]) blpop(ctx context.Context, d time.Duration) (T, bool, error) {
	var v T
	res, err := q.client.BLPop(ctx, d, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return v, false, ctxErr
		}
		if q.isClosed() {
			return v, false, ErrClosed
		}
		return v, false, fmt.Errorf("bus: pop %s: %w", q.key, err)
	}
	// res is [key, value].
	if len(res) != 2 {
		return v, false, fmt.Errorf("bus: pop %s: unexpected reply of length %d", q.key, len(res))
	}
	if err := Unmarshal([]byte(res[1]), &v); err != nil {
		return v, false, fmt.Errorf("bus: decode from %s: %w", q.key, err)
	}
	return v, true, nil
}

func (q *redisQueue[T]) Drain(ctx context.Context) (int, error) {
	var llen *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		llen = pipe.LLen(ctx, q.key)
		pipe.Del(ctx, q.key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bus: drain %s: %w", q.key, err)
	}
	return int(llen.Val()), nil
}

func (q *redisQueue[T]) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("bus: len %s: %w", q.key, err)
	}
	return int(n), nil
}
