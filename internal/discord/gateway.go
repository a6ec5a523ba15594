package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/starcommander/pkg/audio"
	discordaudio "github.com/MrWong99/starcommander/pkg/audio/discord"
)

// Compile-time interface assertion.
var _ Session = (*Gateway)(nil)

// Gateway intents: guild structure and voice states. Member lookups fall back
// to REST so the privileged members intent is not needed.
const gatewayIntents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

// guildSyncTimeout bounds the wait for the initial GUILD_CREATE burst.
const guildSyncTimeout = 10 * time.Second

// Gateway is a [Session] backed by a live discordgo gateway connection.
type Gateway struct {
	s         *discordgo.Session
	voice     *discordaudio.Platform
	closeOnce sync.Once
}

// Dial is a [Dialer] that opens a gateway connection with token and waits
// until every guild listed in READY has been delivered.
func Dial(ctx context.Context, token string) (Session, error) {
	g, err := Open(ctx, token)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Open connects to the Discord gateway and waits for the guild cache to fill.
func Open(ctx context.Context, token string) (*Gateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = gatewayIntents
	s.StateEnabled = true

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	g := &Gateway{s: s, voice: discordaudio.New(s)}
	if err := g.waitForGuilds(ctx); err != nil {
		_ = g.Close()
		return nil, err
	}
	me := g.Me()
	slog.Info("discord: session ready", "user_id", me.ID, "username", me.Username, "guilds", len(g.Guilds()))
	return g, nil
}

// waitForGuilds polls the state cache until no guild is marked unavailable.
// A timeout is not fatal: guilds that are still unavailable are simply
// reported without a name.
func (g *Gateway) waitForGuilds(ctx context.Context) error {
	deadline := time.NewTimer(guildSyncTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		if g.pendingGuilds() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			slog.Warn("discord: guilds still unavailable after sync timeout", "pending", g.pendingGuilds())
			return nil
		case <-tick.C:
		}
	}
}

func (g *Gateway) pendingGuilds() int {
	g.s.State.RLock()
	defer g.s.State.RUnlock()
	n := 0
	for _, guild := range g.s.State.Guilds {
		if guild.Unavailable {
			n++
		}
	}
	return n
}

// Me implements [Session].
func (g *Gateway) Me() User {
	g.s.State.RLock()
	defer g.s.State.RUnlock()
	if g.s.State.User == nil {
		return User{}
	}
	return User{ID: g.s.State.User.ID, Username: g.s.State.User.Username}
}

// Guilds implements [Session].
func (g *Gateway) Guilds() []GuildSummary {
	g.s.State.RLock()
	defer g.s.State.RUnlock()
	out := make([]GuildSummary, 0, len(g.s.State.Guilds))
	for _, guild := range g.s.State.Guilds {
		out = append(out, GuildSummary{ID: guild.ID, Name: guild.Name})
	}
	return out
}

// Guild implements [Session]. The state cache is consulted first.
func (g *Gateway) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if guild, err := g.s.State.Guild(guildID); err == nil && !guild.Unavailable {
		return guild, nil
	}
	guild, err := g.s.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: guild %s: %w", guildID, err)
	}
	return guild, nil
}

// GuildChannels implements [Session]. Channels are always fetched over REST
// so that channels created by other workers are visible.
func (g *Gateway) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	chs, err := g.s.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: channels of guild %s: %w", guildID, err)
	}
	return chs, nil
}

// Channel implements [Session].
func (g *Gateway) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if ch, err := g.s.State.Channel(channelID); err == nil {
		return ch, nil
	}
	ch, err := g.s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: channel %s: %w", channelID, err)
	}
	return ch, nil
}

// GuildRoles implements [Session].
func (g *Gateway) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	roles, err := g.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: roles of guild %s: %w", guildID, err)
	}
	return roles, nil
}

// GuildMember implements [Session]. The state cache is consulted first.
// Members fetched over REST are not added to it: without the guild members
// intent nothing would ever update them.
func (g *Gateway) GuildMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if m, err := g.s.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	m, err := g.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: member %s of guild %s: %w", userID, guildID, err)
	}
	return m, nil
}

// CreateChannel implements [Session].
func (g *Gateway) CreateChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	ch, err := g.s.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: create channel %q: %w", data.Name, err)
	}
	return ch, nil
}

// DeleteChannel implements [Session].
func (g *Gateway) DeleteChannel(ctx context.Context, channelID string) error {
	if _, err := g.s.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: delete channel %s: %w", channelID, err)
	}
	return nil
}

// CreateRole implements [Session].
func (g *Gateway) CreateRole(ctx context.Context, guildID string, params *discordgo.RoleParams) (*discordgo.Role, error) {
	role, err := g.s.GuildRoleCreate(guildID, params, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: create role %q: %w", params.Name, err)
	}
	return role, nil
}

// DeleteRole implements [Session].
func (g *Gateway) DeleteRole(ctx context.Context, guildID, roleID string) error {
	if err := g.s.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: delete role %s: %w", roleID, err)
	}
	return nil
}

// MoveMember implements [Session].
func (g *Gateway) MoveMember(ctx context.Context, guildID, userID, channelID string) error {
	if err := g.s.GuildMemberMove(guildID, userID, &channelID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: move member %s to %s: %w", userID, channelID, err)
	}
	return nil
}

// Voice implements [Session].
func (g *Gateway) Voice() audio.Platform { return g.voice }

// Close implements [Session].
func (g *Gateway) Close() error {
	var closeErr error
	g.closeOnce.Do(func() {
		if err := g.s.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord: session closed")
	})
	return closeErr
}
