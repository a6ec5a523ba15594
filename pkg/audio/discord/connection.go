package discord

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/starcommander/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

var errDisconnected = errors.New("discord: voice connection closed")

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Inbound Opus packets are decoded per SSRC and
// attributed to a user through the voice gateway's speaking updates; outbound
// PCM frames are encoded to Opus and written to the connection's send channel.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc        *discordgo.VoiceConnection
	guildID   string
	channelID string

	cbMu     sync.RWMutex
	onPacket func(audio.Packet)

	ssrcMu   sync.RWMutex
	ssrcUser map[uint32]string

	playMu     sync.Mutex
	playCancel context.CancelFunc
	playDone   chan struct{}

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC is called during Disconnect to tear down the voice connection.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the receive loop.
func newConnection(vc *discordgo.VoiceConnection, guildID, channelID string) *Connection {
	c := &Connection{
		vc:           vc,
		guildID:      guildID,
		channelID:    channelID,
		ssrcUser:     make(map[uint32]string),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	vc.AddHandler(c.handleSpeakingUpdate)
	go c.recvLoop()
	return c
}

// GuildID implements [audio.Connection].
func (c *Connection) GuildID() string { return c.guildID }

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string { return c.channelID }

// OnPacket implements [audio.Connection].
func (c *Connection) OnPacket(cb func(audio.Packet)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onPacket = cb
}

// Play implements [audio.Connection]. Frames read from src that are not
// exactly [audio.FrameSize] bytes long are skipped.
func (c *Connection) Play(ctx context.Context, src audio.Source) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	select {
	case <-c.done:
		return errDisconnected
	default:
	}
	if c.playCancel != nil {
		return audio.ErrAlreadyPlaying
	}

	pctx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})
	c.playCancel = cancel
	c.playDone = finished
	go c.sendLoop(pctx, src, finished)
	return nil
}

// IsPlaying implements [audio.Connection].
func (c *Connection) IsPlaying() bool {
	c.playMu.Lock()
	defer c.playMu.Unlock()
	return c.playCancel != nil
}

// Stop implements [audio.Connection]. It blocks until the send goroutine has
// exited.
func (c *Connection) Stop() {
	c.playMu.Lock()
	cancel, finished := c.playCancel, c.playDone
	c.playMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-finished
}

// Disconnect stops playback, halts the receive loop and leaves the voice
// channel. It is safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.Stop()
		c.OnPacket(nil)
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// detach stops playback and the receive loop without leaving the voice
// channel. Later Disconnect calls do nothing.
func (c *Connection) detach() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Stop()
		c.OnPacket(nil)
	})
}

// recvLoop reads Opus packets from the voice connection, decodes them with a
// per-SSRC decoder and hands the PCM to the installed callback.
func (c *Connection) recvLoop() {
	decoders := make(speakerDecoders)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			userID := c.userFor(pkt.SSRC)
			if userID == "" {
				slog.Debug("discord: packet from unknown speaker", "ssrc", pkt.SSRC)
				continue
			}

			c.cbMu.RLock()
			cb := c.onPacket
			c.cbMu.RUnlock()
			if cb == nil {
				continue
			}

			pcm, err := decoders.decode(pkt.SSRC, pkt.Opus)
			if err != nil {
				slog.Warn("discord: dropping undecodable packet", "ssrc", pkt.SSRC, "error", err)
				continue
			}

			cb(audio.Packet{UserID: userID, SSRC: pkt.SSRC, PCM: pcm})
		}
	}
}

// sendLoop pulls frames from src, encodes them to Opus and writes them to the
// voice connection until ctx is cancelled, src fails or the connection closes.
func (c *Connection) sendLoop(ctx context.Context, src audio.Source, finished chan struct{}) {
	defer func() {
		c.playMu.Lock()
		if c.playDone == finished {
			c.playCancel()
			c.playCancel = nil
			c.playDone = nil
		}
		c.playMu.Unlock()
		close(finished)
	}()

	enc, err := newFrameEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "error", err)
		return
	}

	c.setSpeaking(true)
	defer c.setSpeaking(false)

	for {
		pcm, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("discord: playback source failed", "channel_id", c.channelID, "error", err)
			}
			return
		}
		if !audio.ValidFrame(pcm) {
			slog.Debug("discord: skipping malformed playback frame", "len", len(pcm))
			continue
		}

		opus, err := enc.encode(pcm)
		if err != nil {
			slog.Warn("discord: opus encode error", "error", err)
			continue
		}

		select {
		case c.vc.OpusSend <- opus:
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

// handleSpeakingUpdate records which user transmits on which SSRC.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	c.ssrcMu.Lock()
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	c.ssrcMu.Unlock()
}

// userFor returns the user transmitting on ssrc, or "" if none is known yet.
func (c *Connection) userFor(ssrc uint32) string {
	c.ssrcMu.RLock()
	defer c.ssrcMu.RUnlock()
	return c.ssrcUser[ssrc]
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Debug("discord: speaking notification error", "speaking", b, "error", err)
	}
}
