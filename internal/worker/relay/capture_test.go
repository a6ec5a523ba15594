package relay

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/observe"
	"github.com/MrWong99/starcommander/pkg/audio"
)

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counter sums the data points of name, optionally filtered by reason.
func counter(t *testing.T, reader *sdkmetric.ManualReader, name, reason string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if reason != "" {
					if v, _ := dp.Attributes.Value(attribute.Key("reason")); v.AsString() != reason {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

func TestListenFilter_Allows(t *testing.T) {
	t.Parallel()

	roles := map[string][]string{
		"1": {"crew"},
		"2": {"guest"},
	}
	lookup := func(_ context.Context, userID string) ([]string, error) {
		r, ok := roles[userID]
		if !ok {
			return nil, errors.New("unknown member")
		}
		return r, nil
	}

	tests := []struct {
		name   string
		users  []string
		roles  []string
		user   string
		lookup RoleLookup
		want   bool
	}{
		{name: "empty filter", user: "1", lookup: lookup, want: false},
		{name: "listed user", users: []string{"1"}, user: "1", want: true},
		{name: "unlisted user", users: []string{"1"}, user: "2", lookup: lookup, want: false},
		{name: "member with role", roles: []string{"crew"}, user: "1", lookup: lookup, want: true},
		{name: "member without role", roles: []string{"crew"}, user: "2", lookup: lookup, want: false},
		{name: "lookup fails", roles: []string{"crew"}, user: "3", lookup: lookup, want: false},
		{name: "no lookup", roles: []string{"crew"}, user: "1", want: false},
		{name: "user or role", users: []string{"2"}, roles: []string{"crew"}, user: "2", lookup: lookup, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := NewListenFilter()
			for _, u := range tt.users {
				f.AddUser(u)
			}
			for _, r := range tt.roles {
				f.AddRole(r)
			}
			if got := f.Allows(context.Background(), tt.user, tt.lookup); got != tt.want {
				t.Errorf("Allows(%s) = %v, want %v", tt.user, got, tt.want)
			}
		})
	}
}

func TestListenFilter_Remove(t *testing.T) {
	t.Parallel()
	f := NewListenFilter()
	f.AddUser("b")
	f.AddUser("a")
	f.AddRole("r")

	if !f.RemoveUser("a") || f.RemoveUser("a") {
		t.Error("RemoveUser should report presence once")
	}
	if !f.RemoveRole("r") || f.RemoveRole("r") {
		t.Error("RemoveRole should report presence once")
	}
	if got := f.Users(); !slices.Equal(got, []string{"b"}) {
		t.Errorf("Users = %v", got)
	}
	if got := f.Roles(); len(got) != 0 {
		t.Errorf("Roles = %v", got)
	}
}

func TestTargets(t *testing.T) {
	t.Parallel()
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	q, _ := b.Audio(context.Background(), "x")

	tg := NewTargets()
	tg.Add("b", q)
	tg.Add("a", q)
	tg.Add("a", q)
	if got := tg.IDs(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("IDs = %v", got)
	}
	if !tg.Remove("a") || tg.Remove("a") {
		t.Error("Remove should report presence once")
	}
	if n := tg.Clear(); n != 1 {
		t.Errorf("Clear = %d, want 1", n)
	}
	if len(tg.IDs()) != 0 {
		t.Error("targets left after Clear")
	}
}

type failingQueue struct{ bus.Queue[bus.AudioFrame] }

func (failingQueue) Push(context.Context, bus.AudioFrame) error { return bus.ErrClosed }

func TestRoleCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	calls := map[string]int{}
	lookup := func(_ context.Context, userID string) ([]string, error) {
		calls[userID]++
		if userID == "guest" {
			return nil, errors.New("unknown member")
		}
		return []string{"crew"}, nil
	}
	now := time.Unix(1000, 0)
	c := newRoleCache(lookup, 10*time.Second)
	c.now = func() time.Time { return now }

	for range 5 {
		if roles, err := c.Lookup(ctx, "7"); err != nil || !slices.Equal(roles, []string{"crew"}) {
			t.Fatalf("Lookup(7) = %v, %v", roles, err)
		}
		if _, err := c.Lookup(ctx, "guest"); err == nil {
			t.Fatal("Lookup(guest) succeeded")
		}
	}
	if calls["7"] != 1 || calls["guest"] != 1 {
		t.Errorf("lookups within ttl = %v, want one per user", calls)
	}

	now = now.Add(10 * time.Second)
	_, _ = c.Lookup(ctx, "7")
	_, _ = c.Lookup(ctx, "guest")
	if calls["7"] != 2 || calls["guest"] != 2 {
		t.Errorf("lookups after ttl = %v, want two per user", calls)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	now = now.Add(10 * time.Second)
	_, _ = c.Lookup(cancelled, "7")
	_, _ = c.Lookup(ctx, "7")
	if calls["7"] != 4 {
		t.Errorf("lookups for 7 = %d, want 4 (a cancelled lookup is not cached)", calls["7"])
	}
}

func TestCapture_Forward(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	qb, _ := b.Audio(ctx, "b")
	qc, _ := b.Audio(ctx, "c")

	m, reader := testMetrics(t)
	tg := NewTargets()
	tg.Add("b", qb)
	tg.Add("c", qc)
	tg.Add("gone", failingQueue{})
	c := NewCapture(NewListenFilter(), tg, m, nil)

	if n := c.Forward(ctx, bus.AudioFrame{UserID: "7", PCM: audio.Silence()}); n != 2 {
		t.Errorf("Forward = %d, want 2", n)
	}
	if n := c.Forward(ctx, bus.AudioFrame{UserID: "7", PCM: make([]byte, 100)}); n != 0 {
		t.Errorf("Forward(short) = %d, want 0", n)
	}
	for _, q := range []bus.Queue[bus.AudioFrame]{qb, qc} {
		if n, _ := q.Len(ctx); n != 1 {
			t.Errorf("queue holds %d frames, want 1", n)
		}
	}

	if got := counter(t, reader, "starcommander.audio.frames.forwarded", ""); got != 2 {
		t.Errorf("forwarded = %d, want 2", got)
	}
	if got := counter(t, reader, "starcommander.audio.frames.dropped", observe.DropBadLength); got != 1 {
		t.Errorf("dropped bad_length = %d, want 1", got)
	}
	if got := counter(t, reader, "starcommander.audio.frames.dropped", observe.DropPush); got != 1 {
		t.Errorf("dropped push_failed = %d, want 1", got)
	}
}

func TestCapture_ForwardResolvesRecreatedChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	stale, _ := b.Audio(ctx, "b")

	m, reader := testMetrics(t)
	tg := NewTargets()
	tg.Add("b", stale)
	c := NewCapture(NewListenFilter(), tg, m, nil)
	c.SetResolver(b.LookupAudio)
	frame := bus.AudioFrame{UserID: "7", PCM: audio.Silence()}

	if err := b.RemoveAudio(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if n := c.Forward(ctx, frame); n != 0 {
		t.Errorf("Forward to removed channel = %d, want 0", n)
	}
	if got := counter(t, reader, "starcommander.audio.frames.dropped", observe.DropNoChannel); got != 1 {
		t.Errorf("dropped no_channel = %d, want 1", got)
	}
	if ids := tg.IDs(); !slices.Equal(ids, []string{"b"}) {
		t.Errorf("targets = %v, want the removed channel kept", ids)
	}

	fresh, _ := b.Audio(ctx, "b")
	for range 2 {
		if n := c.Forward(ctx, frame); n != 1 {
			t.Errorf("Forward after recreate = %d, want 1", n)
		}
	}
	if n, _ := fresh.Len(ctx); n != 2 {
		t.Errorf("recreated channel holds %d frames, want 2", n)
	}
}

func TestCapture_SubmitFilters(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	q, _ := b.Audio(ctx, "b")

	f := NewListenFilter()
	f.AddUser("7")
	tg := NewTargets()
	tg.Add("b", q)
	m, _ := testMetrics(t)
	c := NewCapture(f, tg, m, nil)
	c.Start(ctx)

	c.Submit(audio.Packet{UserID: "8", PCM: audio.Silence()}, nil)
	c.Submit(audio.Packet{UserID: "7", PCM: audio.Silence()}, nil)
	got, ok, err := q.PopWait(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("PopWait = %v, %v", ok, err)
	}
	if got.UserID != "7" {
		t.Errorf("forwarded speaker %s, want 7", got.UserID)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Errorf("%d extra frames forwarded", n)
	}

	cancel()
	c.Wait()
}

func TestQueueSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := bus.NewMemoryBus()
	q, _ := b.Audio(ctx, "a")
	m, reader := testMetrics(t)
	src := &QueueSource{Queue: q, Wait: 20 * time.Millisecond, Metrics: m}

	voice := make([]byte, audio.FrameSize)
	voice[0] = 1
	_ = q.Push(ctx, bus.AudioFrame{PCM: make([]byte, 12)})
	_ = q.Push(ctx, bus.AudioFrame{PCM: voice})

	want := [][]byte{audio.Silence(), voice, audio.Silence()}
	for i, w := range want {
		got, err := src.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if !slices.Equal(got, w) {
			t.Errorf("read %d: unexpected frame (first byte %d)", i, got[0])
		}
	}
	if got := counter(t, reader, "starcommander.audio.playback.silence", ""); got != 2 {
		t.Errorf("silence = %d, want 2", got)
	}

	_ = b.Close()
	if _, err := src.ReadFrame(ctx); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("ReadFrame after close = %v, want ErrClosed", err)
	}
}
