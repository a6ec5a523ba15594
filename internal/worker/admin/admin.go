// Package admin implements the administrative worker kind. It shapes the
// structure of the selected guild: categories, text and voice channels,
// roles, and member placement in voice channels.
//
// Creation is idempotent by exact name: when an entity of the same type and
// name already exists in the selected guild, a *_exists event is emitted
// and nothing is created.
package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/starcommander/internal/discord"
	"github.com/MrWong99/starcommander/internal/worker"
)

// Kind is the worker kind name.
const Kind = "administrative"

// ErrNotFound is returned when a referenced entity does not exist in the
// selected guild.
var ErrNotFound = errors.New("admin: not found")

// Requirements are the guild permissions checked on ready.
var Requirements = []discord.Requirement{
	{Name: "manage_channels", Required: true},
	{Name: "manage_roles", Required: true},
	{Name: "move_members", Required: true},
	{Name: "read_message_history", Required: true},
	{Name: "connect", Required: true},
	{Name: "speak", Required: true},
}

// Command names.
const (
	CommandCreateCategory     = "create_category"
	CommandDeleteCategory     = "delete_category"
	CommandCreateRole         = "create_role"
	CommandDeleteRole         = "delete_role"
	CommandCreateVoiceChannel = "create_voice_channel"
	CommandDeleteVoiceChannel = "delete_voice_channel"
	CommandCreateTextChannel  = "create_text_channel"
	CommandDeleteTextChannel  = "delete_text_channel"
	CommandMoveMember         = "move_member_to_voice_channel"
)

// Admin holds the handlers of an administrative worker.
type Admin struct {
	w *worker.Worker
}

// New creates an administrative worker.
func New(id string, deps worker.Deps) *worker.Worker {
	w := worker.New(id, Kind, deps)
	Attach(w)
	return w
}

// Attach registers the administrative commands and permission requirements
// on w.
func Attach(w *worker.Worker) *Admin {
	a := &Admin{w: w}
	w.Require(Requirements...)

	w.Handle(CommandCreateCategory, a.createChannel(categories))
	w.Handle(CommandDeleteCategory, a.deleteChannel(categories))
	w.Handle(CommandCreateVoiceChannel, a.createChannel(voiceChannels))
	w.Handle(CommandDeleteVoiceChannel, a.deleteChannel(voiceChannels))
	w.Handle(CommandCreateTextChannel, a.createChannel(textChannels))
	w.Handle(CommandDeleteTextChannel, a.deleteChannel(textChannels))
	w.Handle(CommandCreateRole, a.createRole)
	w.Handle(CommandDeleteRole, a.deleteRole)
	w.Handle(CommandMoveMember, a.moveMember)
	return a
}

// target returns the session and the selected guild.
func (a *Admin) target() (discord.Session, discord.GuildSummary, error) {
	g, err := a.w.SelectedGuild()
	if err != nil {
		return nil, g, err
	}
	sess := a.w.Session()
	if sess == nil {
		return nil, g, worker.ErrNotReady
	}
	return sess, g, nil
}

func notFound(what, id string, g discord.GuildSummary) error {
	return fmt.Errorf("%w: %s %s in guild %s (%s)", ErrNotFound, what, id, g.Name, g.ID)
}

func (a *Admin) emit(ctx context.Context, typ string, payload map[string]any) {
	a.w.Emit(ctx, typ, payload)
}
