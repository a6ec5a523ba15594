package relay

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/observe"
	"github.com/MrWong99/starcommander/pkg/audio"
)

// captureBacklog bounds the packets waiting for the filter. Packets beyond
// it are dropped so the voice receive goroutine never blocks.
const captureBacklog = 64

// RoleLookup returns the role ids of a member of the connected guild.
type RoleLookup func(ctx context.Context, userID string) ([]string, error)

// TargetResolver returns the current audio channel of workerID, if any.
type TargetResolver func(ctx context.Context, workerID string) (bus.Queue[bus.AudioFrame], bool, error)

// ListenFilter decides whose voice is relayed: a speaker passes when their
// user id is listed or when they hold one of the listed roles.
type ListenFilter struct {
	mu    sync.RWMutex
	users map[string]struct{}
	roles map[string]struct{}
}

// NewListenFilter returns a filter that lets nobody through.
func NewListenFilter() *ListenFilter {
	return &ListenFilter{
		users: make(map[string]struct{}),
		roles: make(map[string]struct{}),
	}
}

// AddUser allows userID.
func (f *ListenFilter) AddUser(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = struct{}{}
}

// RemoveUser reports whether userID was listed.
func (f *ListenFilter) RemoveUser(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[userID]
	delete(f.users, userID)
	return ok
}

// AddRole allows every member holding roleID.
func (f *ListenFilter) AddRole(roleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[roleID] = struct{}{}
}

// RemoveRole reports whether roleID was listed.
func (f *ListenFilter) RemoveRole(roleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.roles[roleID]
	delete(f.roles, roleID)
	return ok
}

// Users returns the listed user ids, sorted.
func (f *ListenFilter) Users() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.users)
}

// Roles returns the listed role ids, sorted.
func (f *ListenFilter) Roles() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.roles)
}

// Allows reports whether userID passes. Roles are resolved through lookup
// only when the user is not listed and at least one role is; a failed
// lookup rejects the speaker.
func (f *ListenFilter) Allows(ctx context.Context, userID string, lookup RoleLookup) bool {
	f.mu.RLock()
	_, listed := f.users[userID]
	anyRoles := len(f.roles) > 0
	f.mu.RUnlock()
	if listed {
		return true
	}
	if !anyRoles || lookup == nil {
		return false
	}

	held, err := lookup(ctx, userID)
	if err != nil {
		slog.Debug("relay: resolve speaker roles", "user_id", userID, "err", err)
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, r := range held {
		if _, ok := f.roles[r]; ok {
			return true
		}
	}
	return false
}

// roleCacheTTL is how long a speaker's resolved roles, or a failed lookup,
// are reused. Role changes take up to this long to affect the filter.
const roleCacheTTL = 10 * time.Second

// roleCache memoizes a [RoleLookup] per user id, errors included, so that a
// speaker who is not a member does not cost a REST call per packet.
type roleCache struct {
	lookup RoleLookup
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]roleEntry
}

type roleEntry struct {
	roles   []string
	err     error
	expires time.Time
}

func newRoleCache(lookup RoleLookup, ttl time.Duration) *roleCache {
	return &roleCache{lookup: lookup, ttl: ttl, now: time.Now, entries: make(map[string]roleEntry)}
}

// Lookup is a [RoleLookup].
func (c *roleCache) Lookup(ctx context.Context, userID string) ([]string, error) {
	now := c.now()
	c.mu.Lock()
	e, ok := c.entries[userID]
	c.mu.Unlock()
	if ok && now.Before(e.expires) {
		return e.roles, e.err
	}

	roles, err := c.lookup(ctx, userID)
	if ctx.Err() != nil {
		return roles, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	maps.DeleteFunc(c.entries, func(_ string, e roleEntry) bool { return !now.Before(e.expires) })
	c.entries[userID] = roleEntry{roles: roles, err: err, expires: now.Add(c.ttl)}
	return roles, err
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Targets maps target worker ids to their audio channels.
type Targets struct {
	mu sync.RWMutex
	m  map[string]bus.Queue[bus.AudioFrame]
}

// NewTargets returns an empty target map.
func NewTargets() *Targets {
	return &Targets{m: make(map[string]bus.Queue[bus.AudioFrame])}
}

// Add sets the audio channel of workerID.
func (t *Targets) Add(workerID string, q bus.Queue[bus.AudioFrame]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[workerID] = q
}

// Remove reports whether workerID was a target.
func (t *Targets) Remove(workerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.m[workerID]
	delete(t.m, workerID)
	return ok
}

// Clear removes every target and returns how many there were.
func (t *Targets) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.m)
	clear(t.m)
	return n
}

// IDs returns the target worker ids, sorted.
func (t *Targets) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.m))
	for id := range t.m {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// replace swaps the channel of workerID from old to q. It is a no-op when
// the target was removed or changed in the meantime.
func (t *Targets) replace(workerID string, old, q bus.Queue[bus.AudioFrame]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.m[workerID]; ok && cur == old {
		t.m[workerID] = q
	}
}

type target struct {
	id string
	q  bus.Queue[bus.AudioFrame]
}

func (t *Targets) snapshot() []target {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]target, 0, len(t.m))
	for id, q := range t.m {
		out = append(out, target{id: id, q: q})
	}
	return out
}

type captured struct {
	pkt   audio.Packet
	roles RoleLookup
}

// Capture filters inbound voice packets and broadcasts the passing ones to
// every target. Packets are handed over with [Capture.Submit] and processed
// on a single goroutine started with [Capture.Start].
type Capture struct {
	filter  *ListenFilter
	targets *Targets
	metrics *observe.Metrics
	log     *slog.Logger
	resolve TargetResolver

	in chan captured
	wg sync.WaitGroup
}

// NewCapture creates a capture stage. A nil log uses [slog.Default].
func NewCapture(filter *ListenFilter, targets *Targets, m *observe.Metrics, log *slog.Logger) *Capture {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Capture{
		filter:  filter,
		targets: targets,
		metrics: m,
		log:     log,
		in:      make(chan captured, captureBacklog),
	}
}

// SetResolver sets how targets whose channel was removed are resolved
// again. It must be called before [Capture.Start].
func (c *Capture) SetResolver(fn TargetResolver) { c.resolve = fn }

// Start runs the capture goroutine until ctx is done.
func (c *Capture) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case cp := <-c.in:
				if !c.filter.Allows(ctx, cp.pkt.UserID, cp.roles) {
					continue
				}
				c.Forward(ctx, bus.AudioFrame{UserID: cp.pkt.UserID, PCM: cp.pkt.PCM})
			}
		}
	}()
}

// Wait blocks until the capture goroutine has returned.
func (c *Capture) Wait() { c.wg.Wait() }

// Submit queues a packet for filtering. It never blocks.
func (c *Capture) Submit(p audio.Packet, roles RoleLookup) {
	select {
	case c.in <- captured{pkt: p, roles: roles}:
	default:
		c.metrics.RecordFrameDropped(context.Background(), observe.DropBacklog)
	}
}

// Forward validates frame and pushes it to every target. It returns the
// number of targets that accepted the frame. Frames that are not exactly
// [audio.FrameSize] bytes are dropped before any push.
//
// A target whose channel was removed stays listed. Its channel is resolved
// again on each frame, so a restarted target worker receives audio as soon
// as it has created its channel.
func (c *Capture) Forward(ctx context.Context, frame bus.AudioFrame) int {
	if !audio.ValidFrame(frame.PCM) {
		c.metrics.RecordFrameDropped(ctx, observe.DropBadLength)
		return 0
	}
	n := 0
	for _, t := range c.targets.snapshot() {
		err := t.q.Push(ctx, frame)
		if errors.Is(err, bus.ErrRemoved) {
			err = c.retarget(ctx, t, frame)
		}
		if err != nil {
			reason := observe.DropPush
			if errors.Is(err, bus.ErrRemoved) {
				reason = observe.DropNoChannel
			}
			c.metrics.RecordFrameDropped(ctx, reason)
			c.log.Debug("relay: forward frame", "target", t.id, "err", err)
			continue
		}
		n++
	}
	if n > 0 {
		c.metrics.FramesForwarded.Add(ctx, int64(n))
	}
	return n
}

func (c *Capture) retarget(ctx context.Context, t target, frame bus.AudioFrame) error {
	if c.resolve == nil {
		return bus.ErrRemoved
	}
	q, ok, err := c.resolve(ctx, t.id)
	if err != nil {
		return err
	}
	if !ok {
		return bus.ErrRemoved
	}
	c.targets.replace(t.id, t.q, q)
	return q.Push(ctx, frame)
}
