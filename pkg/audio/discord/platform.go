// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges
// Discord's Opus-based voice transport with the 48 kHz stereo PCM frames used
// throughout the relay pipeline.
//
// The platform borrows the worker's gateway session; each call to
// [Platform.Connect] joins the requested voice channel (unmuted, undeafened)
// and returns a [Connection].
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/starcommander/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Joiner is the subset of *discordgo.Session used to join voice channels.
type Joiner interface {
	ChannelVoiceJoin(gID, cID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

// Platform implements [audio.Platform] using a discordgo voice connection.
//
// Platform is safe for concurrent use.
type Platform struct {
	joiner Joiner

	mu     sync.Mutex
	latest map[string]*Connection // by guild id
}

// New creates a new Discord Platform that joins voice channels through j.
func New(j Joiner) *Platform {
	return &Platform{joiner: j, latest: make(map[string]*Connection)}
}

// Connect joins the voice channel identified by channelID and returns an
// active [audio.Connection]. The supplied ctx governs the connection-setup
// phase only.
//
// discordgo keeps one voice connection per guild and moves it when asked to
// join another channel. When that happens the previous [Connection] of the
// guild is detached: its loops stop and its Disconnect no longer leaves the
// channel, so callers can release it after switching.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := p.joiner.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if prev := p.latest[guildID]; prev != nil && prev.vc == vc {
		prev.detach()
	}
	c := newConnection(vc, guildID, channelID)
	p.latest[guildID] = c
	return c, nil
}
