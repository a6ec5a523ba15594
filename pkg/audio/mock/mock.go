// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	platform := &mock.Platform{}
//	conn, _ := platform.Connect(ctx, "guild-1", "voice-42")
//	platform.LastConnection().Emit(audio.Packet{UserID: "u1", PCM: audio.Silence()})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/starcommander/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
//
// Play runs a real goroutine that reads from the supplied source and appends
// every frame to Played, so playback pipelines can be observed end to end.
type Connection struct {
	mu sync.Mutex

	// Guild and Channel are returned by GuildID and ChannelID.
	Guild   string
	Channel string

	// PlayError, when set, is returned by Play instead of starting playback.
	PlayError error

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// Played collects every frame read from the playback source.
	Played [][]byte

	// CallCountPlay records how many times Play was called.
	CallCountPlay int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	onPacket   func(audio.Packet)
	playCancel context.CancelFunc
	playDone   chan struct{}
}

// GuildID implements [audio.Connection].
func (c *Connection) GuildID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Guild
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Channel
}

// OnPacket implements [audio.Connection].
func (c *Connection) OnPacket(cb func(audio.Packet)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPacket = cb
}

// Emit delivers p to the installed packet callback, if any. Use this in tests
// to simulate a speaker.
func (c *Connection) Emit(p audio.Packet) {
	c.mu.Lock()
	cb := c.onPacket
	c.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

// Play implements [audio.Connection].
func (c *Connection) Play(ctx context.Context, src audio.Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountPlay++
	if c.PlayError != nil {
		return c.PlayError
	}
	if c.playCancel != nil {
		return audio.ErrAlreadyPlaying
	}
	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.playCancel, c.playDone = cancel, done
	go func() {
		defer func() {
			c.mu.Lock()
			if c.playDone == done {
				c.playCancel()
				c.playCancel, c.playDone = nil, nil
			}
			c.mu.Unlock()
			close(done)
		}()
		for {
			frame, err := src.ReadFrame(pctx)
			if err != nil {
				return
			}
			c.mu.Lock()
			c.Played = append(c.Played, frame)
			c.mu.Unlock()
		}
	}()
	return nil
}

// IsPlaying implements [audio.Connection].
func (c *Connection) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playCancel != nil
}

// Stop implements [audio.Connection].
func (c *Connection) Stop() {
	c.mu.Lock()
	c.CallCountStop++
	cancel, done := c.playCancel, c.playDone
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Disconnect implements [audio.Connection]. Stops playback and returns
// DisconnectError.
func (c *Connection) Disconnect() error {
	c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	c.onPacket = nil
	return c.DisconnectError
}

// PlayedFrames returns a copy of the frames played so far.
func (c *Connection) PlayedFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.Played))
	copy(out, c.Played)
	return out
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
//
// When ConnectResult is nil, each Connect call creates a fresh [Connection]
// for the requested guild and channel.
type Platform struct {
	mu sync.Mutex

	// ConnectResult, when non-nil, is returned by every Connect call.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	// Connections holds every connection handed out, in order.
	Connections []*Connection
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	if p.ConnectResult != nil {
		return p.ConnectResult, nil
	}
	c := &Connection{Guild: guildID, Channel: channelID}
	p.Connections = append(p.Connections, c)
	return c, nil
}

// Calls returns a copy of the recorded Connect invocations.
func (p *Platform) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// LastConnection returns the most recent connection created by Connect, or
// nil if none.
func (p *Platform) LastConnection() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Connections) == 0 {
		return nil
	}
	return p.Connections[len(p.Connections)-1]
}
