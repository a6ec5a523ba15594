package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/discord"
	"github.com/MrWong99/starcommander/internal/worker"
	"github.com/MrWong99/starcommander/pkg/audio"
)

// Voice is the voice connection state of a relay worker. Handlers replace
// it; the capture and playback goroutines read it.
type Voice struct {
	mu          sync.Mutex
	conn        audio.Connection
	channelID   string
	channelName string
}

// Conn returns the active connection, or nil.
func (v *Voice) Conn() audio.Connection {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn
}

// Channel returns the connected channel. ok is false when not connected.
func (v *Voice) Channel() (id, name string, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channelID, v.channelName, v.conn != nil
}

// swap installs conn and returns the connection it replaces.
func (v *Voice) swap(conn audio.Connection, ch *discordgo.Channel) audio.Connection {
	v.mu.Lock()
	defer v.mu.Unlock()
	old := v.conn
	v.conn, v.channelID, v.channelName = conn, ch.ID, ch.Name
	return old
}

// Clear forgets the connection and returns it.
func (v *Voice) Clear() audio.Connection {
	v.mu.Lock()
	defer v.mu.Unlock()
	conn := v.conn
	v.conn, v.channelID, v.channelName = nil, "", ""
	return conn
}

func isVoiceChannel(ch *discordgo.Channel) bool {
	return ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice
}

// connectVoice handles connect_voice {channel_id}.
func (r *Relay) connectVoice(ctx context.Context, cmd bus.Command) error {
	g, err := r.w.SelectedGuild()
	if err != nil {
		return err
	}
	sess := r.w.Session()
	if sess == nil {
		return worker.ErrNotReady
	}
	channelID, err := cmd.ID("channel_id")
	if err != nil {
		return err
	}

	ch, err := sess.Channel(ctx, channelID)
	if err != nil {
		if discord.IsNotFound(err) {
			return fmt.Errorf("%w: %s in guild %s", ErrNotVoiceChannel, channelID, g.ID)
		}
		return fmt.Errorf("relay: resolve channel %s: %w", channelID, err)
	}
	if ch.GuildID != g.ID || !isVoiceChannel(ch) {
		return fmt.Errorf("%w: %s in guild %s", ErrNotVoiceChannel, channelID, g.ID)
	}

	if id, _, ok := r.voice.Channel(); ok && id == ch.ID {
		r.w.Logger().Info("relay: already connected", "channel", ch.Name)
		r.w.Emit(ctx, "voice_connected", map[string]any{"channel_id": ch.ID, "channel_name": ch.Name})
		return nil
	}

	// A failed join leaves the current connection in place.
	conn, err := sess.Voice().Connect(ctx, g.ID, ch.ID)
	if err != nil {
		return fmt.Errorf("relay: join voice channel %s: %w", ch.Name, err)
	}
	if old := r.voice.swap(conn, ch); old != nil {
		if err := old.Disconnect(); err != nil {
			r.w.Logger().Warn("relay: failed to leave previous voice channel", "err", err)
		}
	}

	if n, err := r.own.Drain(ctx); err != nil {
		r.w.Logger().Warn("relay: failed to drain audio channel", "err", err)
	} else if n > 0 {
		r.w.Logger().Debug("relay: dropped stale frames", "frames", n)
	}

	r.w.Logger().Info("relay: voice connected", "channel", ch.Name, "channel_id", ch.ID, "guild_id", g.ID)
	r.w.Emit(ctx, "voice_connected", map[string]any{"channel_id": ch.ID, "channel_name": ch.Name})
	r.startPlayback()
	return nil
}

// disconnectVoice handles disconnect_voice.
func (r *Relay) disconnectVoice(ctx context.Context, _ bus.Command) error {
	conn := r.voice.Clear()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("relay: leave voice channel: %w", err)
	}
	r.w.Logger().Info("relay: voice disconnected")
	r.w.Emit(ctx, "voice_disconnected", map[string]any{})
	return nil
}

// startListening handles start_listening. It installs the capture callback
// on the current connection.
func (r *Relay) startListening(ctx context.Context, _ bus.Command) error {
	conn := r.voice.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	sess := r.w.Session()
	if sess == nil {
		return worker.ErrNotReady
	}
	guildID := conn.GuildID()
	roles := newRoleCache(func(ctx context.Context, userID string) ([]string, error) {
		m, err := sess.GuildMember(ctx, guildID, userID)
		if err != nil {
			return nil, err
		}
		return m.Roles, nil
	}, roleCacheTTL)
	conn.OnPacket(func(p audio.Packet) { r.capture.Submit(p, roles.Lookup) })

	r.w.Logger().Info("relay: listening", "channel_id", conn.ChannelID())
	r.w.Emit(ctx, "listening_started", map[string]any{"channel_id": conn.ChannelID()})
	return nil
}
