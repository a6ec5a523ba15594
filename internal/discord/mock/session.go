// Package mock provides an in-memory [discord.Session] for worker tests.
//
// The fake keeps guilds, channels, roles and members in maps, hands out
// sequential decimal ids, and records every mutation so tests can assert on
// what a worker asked Discord to do. Errors can be injected per method with
// [Session.Fail].
package mock

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/starcommander/internal/discord"
	"github.com/MrWong99/starcommander/pkg/audio"
	audiomock "github.com/MrWong99/starcommander/pkg/audio/mock"
)

// Compile-time interface assertion.
var _ discord.Session = (*Session)(nil)

// Move records a [Session.MoveMember] call.
type Move struct {
	GuildID   string
	UserID    string
	ChannelID string
}

// Session is an in-memory [discord.Session].
type Session struct {
	mu sync.Mutex

	user     discord.User
	order    []string
	guilds   map[string]*discordgo.Guild
	channels map[string]*discordgo.Channel
	members  map[string]map[string]*discordgo.Member
	failures map[string]error
	nextID   int64

	// VoicePlatform is returned by Voice.
	VoicePlatform *audiomock.Platform

	// Moves records MoveMember calls.
	Moves []Move

	// CreatedChannels and CreatedRoles count successful creations.
	CreatedChannels int
	CreatedRoles    int

	// CloseCount records how many times Close was called.
	CloseCount int
}

// New returns an empty session logged in as user.
func New(user discord.User) *Session {
	return &Session{
		user:          user,
		guilds:        make(map[string]*discordgo.Guild),
		channels:      make(map[string]*discordgo.Channel),
		members:       make(map[string]map[string]*discordgo.Member),
		failures:      make(map[string]error),
		nextID:        1000,
		VoicePlatform: &audiomock.Platform{},
	}
}

// Dialer returns a [discord.Dialer] that always yields s.
func (s *Session) Dialer() discord.Dialer {
	return func(context.Context, string) (discord.Session, error) { return s, nil }
}

// Fail makes every later call of method return err. A nil err clears it.
func (s *Session) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Session) id() string {
	s.nextID++
	return strconv.FormatInt(s.nextID, 10)
}

// AddGuild registers a guild with an @everyone role holding no permissions.
func (s *Session) AddGuild(id, name, ownerID string) *discordgo.Guild {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &discordgo.Guild{
		ID:      id,
		Name:    name,
		OwnerID: ownerID,
		Roles:   []*discordgo.Role{{ID: id, Name: "@everyone"}},
	}
	s.guilds[id] = g
	s.order = append(s.order, id)
	s.members[id] = make(map[string]*discordgo.Member)
	return g
}

// AddRole adds a role to a guild.
func (s *Session) AddRole(guildID, name string, perms int64) *discordgo.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &discordgo.Role{ID: s.id(), Name: name, Permissions: perms}
	s.guilds[guildID].Roles = append(s.guilds[guildID].Roles, r)
	return r
}

// SetEveryone sets the permissions of a guild's @everyone role.
func (s *Session) SetEveryone(guildID string, perms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.guilds[guildID].Roles {
		if r.ID == guildID {
			r.Permissions = perms
		}
	}
}

// AddMember adds a guild member holding roleIDs.
func (s *Session) AddMember(guildID, userID string, roleIDs ...string) *discordgo.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &discordgo.Member{GuildID: guildID, User: &discordgo.User{ID: userID}, Roles: roleIDs}
	s.members[guildID][userID] = m
	return m
}

// AddChannel adds a channel to a guild.
func (s *Session) AddChannel(guildID, name string, typ discordgo.ChannelType, parentID string) *discordgo.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := &discordgo.Channel{ID: s.id(), GuildID: guildID, Name: name, Type: typ, ParentID: parentID}
	s.channels[ch.ID] = ch
	return ch
}

// ChannelsNamed returns the channels of guildID called name.
func (s *Session) ChannelsNamed(guildID, name string) []*discordgo.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*discordgo.Channel
	for _, ch := range s.sortedChannels() {
		if ch.GuildID == guildID && ch.Name == name {
			out = append(out, ch)
		}
	}
	return out
}

// RolesNamed returns the roles of guildID called name.
func (s *Session) RolesNamed(guildID, name string) []*discordgo.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*discordgo.Role
	for _, r := range s.guilds[guildID].Roles {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

func (s *Session) sortedChannels() []*discordgo.Channel {
	out := make([]*discordgo.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	slices.SortFunc(out, func(a, b *discordgo.Channel) int {
		ai, _ := strconv.ParseInt(a.ID, 10, 64)
		bi, _ := strconv.ParseInt(b.ID, 10, 64)
		return int(ai - bi)
	})
	return out
}

func (s *Session) fail(method string) error {
	return s.failures[method]
}

// Me implements [discord.Session].
func (s *Session) Me() discord.User { return s.user }

// Guilds implements [discord.Session].
func (s *Session) Guilds() []discord.GuildSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]discord.GuildSummary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, discord.GuildSummary{ID: id, Name: s.guilds[id].Name})
	}
	return out
}

// Guild implements [discord.Session].
func (s *Session) Guild(_ context.Context, guildID string) (*discordgo.Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Guild"); err != nil {
		return nil, err
	}
	g, ok := s.guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("guild %s: %w", guildID, discord.ErrNotFound)
	}
	return g, nil
}

// GuildChannels implements [discord.Session].
func (s *Session) GuildChannels(_ context.Context, guildID string) ([]*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GuildChannels"); err != nil {
		return nil, err
	}
	if _, ok := s.guilds[guildID]; !ok {
		return nil, fmt.Errorf("guild %s: %w", guildID, discord.ErrNotFound)
	}
	var out []*discordgo.Channel
	for _, ch := range s.sortedChannels() {
		if ch.GuildID == guildID {
			out = append(out, ch)
		}
	}
	return out, nil
}

// Channel implements [discord.Session].
func (s *Session) Channel(_ context.Context, channelID string) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Channel"); err != nil {
		return nil, err
	}
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, discord.ErrNotFound)
	}
	return ch, nil
}

// GuildRoles implements [discord.Session].
func (s *Session) GuildRoles(_ context.Context, guildID string) ([]*discordgo.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GuildRoles"); err != nil {
		return nil, err
	}
	g, ok := s.guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("guild %s: %w", guildID, discord.ErrNotFound)
	}
	return slices.Clone(g.Roles), nil
}

// GuildMember implements [discord.Session].
func (s *Session) GuildMember(_ context.Context, guildID, userID string) (*discordgo.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GuildMember"); err != nil {
		return nil, err
	}
	m, ok := s.members[guildID][userID]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", userID, discord.ErrNotFound)
	}
	return m, nil
}

// CreateChannel implements [discord.Session].
func (s *Session) CreateChannel(_ context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateChannel"); err != nil {
		return nil, err
	}
	if _, ok := s.guilds[guildID]; !ok {
		return nil, fmt.Errorf("guild %s: %w", guildID, discord.ErrNotFound)
	}
	ch := &discordgo.Channel{
		ID:                   s.id(),
		GuildID:              guildID,
		Name:                 data.Name,
		Type:                 data.Type,
		Position:             data.Position,
		ParentID:             data.ParentID,
		PermissionOverwrites: data.PermissionOverwrites,
	}
	s.channels[ch.ID] = ch
	s.CreatedChannels++
	return ch, nil
}

// DeleteChannel implements [discord.Session].
func (s *Session) DeleteChannel(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteChannel"); err != nil {
		return err
	}
	if _, ok := s.channels[channelID]; !ok {
		return fmt.Errorf("channel %s: %w", channelID, discord.ErrNotFound)
	}
	delete(s.channels, channelID)
	return nil
}

// CreateRole implements [discord.Session].
func (s *Session) CreateRole(_ context.Context, guildID string, params *discordgo.RoleParams) (*discordgo.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateRole"); err != nil {
		return nil, err
	}
	g, ok := s.guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("guild %s: %w", guildID, discord.ErrNotFound)
	}
	r := &discordgo.Role{ID: s.id(), Name: params.Name}
	if params.Permissions != nil {
		r.Permissions = *params.Permissions
	}
	g.Roles = append(g.Roles, r)
	s.CreatedRoles++
	return r, nil
}

// DeleteRole implements [discord.Session].
func (s *Session) DeleteRole(_ context.Context, guildID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteRole"); err != nil {
		return err
	}
	g, ok := s.guilds[guildID]
	if !ok {
		return fmt.Errorf("guild %s: %w", guildID, discord.ErrNotFound)
	}
	i := slices.IndexFunc(g.Roles, func(r *discordgo.Role) bool { return r.ID == roleID })
	if i < 0 {
		return fmt.Errorf("role %s: %w", roleID, discord.ErrNotFound)
	}
	g.Roles = slices.Delete(g.Roles, i, i+1)
	return nil
}

// MoveMember implements [discord.Session].
func (s *Session) MoveMember(_ context.Context, guildID, userID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MoveMember"); err != nil {
		return err
	}
	if _, ok := s.members[guildID][userID]; !ok {
		return fmt.Errorf("member %s: %w", userID, discord.ErrNotFound)
	}
	s.Moves = append(s.Moves, Move{GuildID: guildID, UserID: userID, ChannelID: channelID})
	return nil
}

// Voice implements [discord.Session].
func (s *Session) Voice() audio.Platform { return s.VoicePlatform }

// Close implements [discord.Session].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return nil
}

// Closed returns how many times Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}
