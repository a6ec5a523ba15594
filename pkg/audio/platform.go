// Package audio defines the voice-channel contract shared by relay workers and
// platform adapters.
//
// The two primary abstractions are:
//
//   - [Platform] joins a voice channel and returns a [Connection].
//   - [Connection] is an active voice session that delivers decoded inbound
//     [Packet]s to a callback and streams outbound PCM from a [Source].
//
// All PCM handled by this package is signed 16-bit little-endian, 48 kHz,
// interleaved stereo, cut into 20 ms frames of exactly [FrameSize] bytes.
//
// This package lives under pkg/ because platform adapters outside the module
// are expected to implement [Platform] and [Connection].
package audio

import (
	"context"
	"errors"
)

// ErrAlreadyPlaying is returned by [Connection.Play] while a previous source
// is still being streamed.
var ErrAlreadyPlaying = errors.New("audio: already playing")

// Packet is one decoded inbound voice frame attributed to a speaker.
type Packet struct {
	// UserID is the platform id of the speaker. Packets whose speaker is not
	// yet known are not delivered.
	UserID string

	// SSRC is the RTP synchronisation source the packet arrived on.
	SSRC uint32

	// PCM holds the decoded frame. Adapters deliver whatever the decoder
	// produced; consumers validate the length with [ValidFrame].
	PCM []byte
}

// Source produces outbound PCM frames for [Connection.Play].
//
// ReadFrame blocks until a frame is available or ctx is done. Returning an
// error ends playback.
type Source interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts an ordinary function to the [Source] interface.
type SourceFunc func(ctx context.Context) ([]byte, error)

// ReadFrame implements [Source].
func (f SourceFunc) ReadFrame(ctx context.Context) ([]byte, error) { return f(ctx) }

// Connection represents an active session on a voice channel.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// GuildID returns the guild the voice channel belongs to.
	GuildID() string

	// ChannelID returns the voice channel this connection is joined to.
	ChannelID() string

	// OnPacket installs cb as the receive callback. Only one callback is
	// active at a time; passing nil stops delivery. The callback runs on the
	// adapter's receive goroutine and must not block.
	OnPacket(cb func(Packet))

	// Play starts streaming frames from src on a background goroutine and
	// returns immediately. It returns [ErrAlreadyPlaying] if a previous
	// source is still active.
	Play(ctx context.Context, src Source) error

	// IsPlaying reports whether a source is currently being streamed.
	IsPlaying() bool

	// Stop ends the current playback, if any.
	Stop()

	// Disconnect leaves the voice channel. It is safe to call more than
	// once; subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel channelID in guild guildID. The
	// supplied ctx governs the connection attempt only.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
