// Package discord is the worker's view of Discord. It owns one gateway
// session per worker process, exposes the REST and state-cache lookups the
// worker kinds need through the [Session] interface, and computes guild-level
// permissions for the bot user.
package discord

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/starcommander/pkg/audio"
)

// User identifies the bot account a session is logged in as.
type User struct {
	ID       string
	Username string
}

// GuildSummary is the id and name of a guild the bot is a member of.
type GuildSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is a connected Discord account.
//
// Lookups return discordgo types so that worker code works with the same
// shapes the gateway delivers. Implementations must be safe for concurrent
// use.
type Session interface {
	// Me returns the logged-in bot user.
	Me() User

	// Guilds returns the guilds the bot is a member of.
	Guilds() []GuildSummary

	// Guild resolves a guild, including its roles and owner.
	Guild(ctx context.Context, guildID string) (*discordgo.Guild, error)

	// GuildChannels lists every channel of a guild.
	GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error)

	// Channel resolves a single channel.
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)

	// GuildRoles lists every role of a guild.
	GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error)

	// GuildMember resolves a guild member.
	GuildMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error)

	// CreateChannel creates a channel of any type.
	CreateChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error)

	// DeleteChannel deletes a channel.
	DeleteChannel(ctx context.Context, channelID string) error

	// CreateRole creates a role.
	CreateRole(ctx context.Context, guildID string, params *discordgo.RoleParams) (*discordgo.Role, error)

	// DeleteRole deletes a role.
	DeleteRole(ctx context.Context, guildID, roleID string) error

	// MoveMember moves a member into a voice channel.
	MoveMember(ctx context.Context, guildID, userID, channelID string) error

	// Voice returns the voice platform bound to this session.
	Voice() audio.Platform

	// Close disconnects from the gateway. It is safe to call more than once.
	Close() error
}

// Dialer opens a [Session] with a bot token.
type Dialer func(ctx context.Context, token string) (Session, error)

// ErrNotFound reports that Discord has no object with the requested id.
var ErrNotFound = errors.New("discord: not found")

// IsNotFound reports whether err means the requested object does not exist,
// either as [ErrNotFound] or as an HTTP 404 from the REST API.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, discordgo.ErrStateNotFound) {
		return true
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return rest.Response.StatusCode == http.StatusNotFound
	}
	return false
}
