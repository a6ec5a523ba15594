package admin

import (
	"context"
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/discord"
)

// channelKind describes one channel entity type the worker manages.
type channelKind struct {
	label     string // event prefix and log name
	create    discordgo.ChannelType
	matches   []discordgo.ChannelType
	nameParam string
	idParam   string
	nested    bool // may be placed under a category
}

var (
	categories = channelKind{
		label:     "category",
		create:    discordgo.ChannelTypeGuildCategory,
		matches:   []discordgo.ChannelType{discordgo.ChannelTypeGuildCategory},
		nameParam: "category_name",
		idParam:   "category_id",
	}
	voiceChannels = channelKind{
		label:     "voice_channel",
		create:    discordgo.ChannelTypeGuildVoice,
		matches:   []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice},
		nameParam: "channel_name",
		idParam:   "channel_id",
		nested:    true,
	}
	textChannels = channelKind{
		label:     "text_channel",
		create:    discordgo.ChannelTypeGuildText,
		matches:   []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
		nameParam: "channel_name",
		idParam:   "channel_id",
		nested:    true,
	}
)

func (k channelKind) is(ch *discordgo.Channel) bool {
	return slices.Contains(k.matches, ch.Type)
}

// find returns the first channel of kind k in list matching pred.
func (k channelKind) find(list []*discordgo.Channel, pred func(*discordgo.Channel) bool) *discordgo.Channel {
	for _, ch := range list {
		if k.is(ch) && pred(ch) {
			return ch
		}
	}
	return nil
}

// createChannel handles create_category, create_voice_channel and
// create_text_channel.
func (a *Admin) createChannel(k channelKind) func(context.Context, bus.Command) error {
	return func(ctx context.Context, cmd bus.Command) error {
		sess, g, err := a.target()
		if err != nil {
			return err
		}
		name, err := cmd.String(k.nameParam)
		if err != nil {
			return err
		}
		position, err := cmd.Int("position", 0)
		if err != nil {
			return err
		}
		overwrites, err := parseOverwrites(cmd)
		if err != nil {
			return err
		}

		channels, err := sess.GuildChannels(ctx, g.ID)
		if err != nil {
			return fmt.Errorf("admin: list channels of guild %s: %w", g.ID, err)
		}
		if k.find(channels, func(ch *discordgo.Channel) bool { return ch.Name == name }) != nil {
			a.w.Logger().Info("admin: "+k.label+" already exists", "name", name, "guild_id", g.ID)
			a.emit(ctx, k.label+"_exists", map[string]any{k.nameParam: name})
			return nil
		}

		data := discordgo.GuildChannelCreateData{
			Name:                 name,
			Type:                 k.create,
			Position:             position,
			PermissionOverwrites: overwrites,
		}
		if k.nested && cmd.Has("category_name") {
			parentName, err := cmd.String("category_name")
			if err != nil {
				return err
			}
			parent := categories.find(channels, func(ch *discordgo.Channel) bool { return ch.Name == parentName })
			if parent == nil {
				return notFound("category", parentName, g)
			}
			data.ParentID = parent.ID
		}

		ch, err := sess.CreateChannel(ctx, g.ID, data)
		if err != nil {
			return fmt.Errorf("admin: create %s %q: %w", k.label, name, err)
		}
		a.w.Logger().Info("admin: "+k.label+" created", "name", ch.Name, "id", ch.ID, "guild_id", g.ID)
		a.emit(ctx, k.label+"_created", map[string]any{
			k.nameParam: ch.Name,
			k.idParam:   ch.ID,
		})
		return nil
	}
}

// deleteChannel handles delete_category, delete_voice_channel and
// delete_text_channel. The id must name a channel of the same kind in the
// selected guild.
func (a *Admin) deleteChannel(k channelKind) func(context.Context, bus.Command) error {
	return func(ctx context.Context, cmd bus.Command) error {
		sess, g, err := a.target()
		if err != nil {
			return err
		}
		id, err := cmd.ID(k.idParam)
		if err != nil {
			return err
		}

		ch, err := sess.Channel(ctx, id)
		if err != nil && !discord.IsNotFound(err) {
			return fmt.Errorf("admin: resolve %s %s: %w", k.label, id, err)
		}
		if err != nil || ch.GuildID != g.ID || !k.is(ch) {
			return notFound(k.label, id, g)
		}

		if err := sess.DeleteChannel(ctx, id); err != nil {
			if discord.IsNotFound(err) {
				return notFound(k.label, id, g)
			}
			return fmt.Errorf("admin: delete %s %s: %w", k.label, id, err)
		}
		a.w.Logger().Info("admin: "+k.label+" deleted", "id", id, "guild_id", g.ID)
		a.emit(ctx, k.label+"_deleted", map[string]any{k.idParam: id})
		return nil
	}
}

// parseOverwrites reads the optional overwrites parameter: a list of
// {id, type: role|member, allow, deny}.
func parseOverwrites(cmd bus.Command) ([]*discordgo.PermissionOverwrite, error) {
	list, err := cmd.Objects("overwrites")
	if err != nil || len(list) == 0 {
		return nil, err
	}
	out := make([]*discordgo.PermissionOverwrite, 0, len(list))
	for i, m := range list {
		o := bus.Command{Name: "overwrites", Params: m}
		id, err := o.ID("id")
		if err != nil {
			return nil, fmt.Errorf("overwrites[%d]: %w", i, err)
		}
		typ, err := overwriteType(m["type"])
		if err != nil {
			return nil, fmt.Errorf("overwrites[%d]: %w", i, err)
		}
		allow, err := o.Int64("allow", 0)
		if err != nil {
			return nil, fmt.Errorf("overwrites[%d]: %w", i, err)
		}
		deny, err := o.Int64("deny", 0)
		if err != nil {
			return nil, fmt.Errorf("overwrites[%d]: %w", i, err)
		}
		out = append(out, &discordgo.PermissionOverwrite{ID: id, Type: typ, Allow: allow, Deny: deny})
	}
	return out, nil
}

func overwriteType(v any) (discordgo.PermissionOverwriteType, error) {
	switch x := v.(type) {
	case nil:
		return discordgo.PermissionOverwriteTypeRole, nil
	case string:
		switch x {
		case "role":
			return discordgo.PermissionOverwriteTypeRole, nil
		case "member":
			return discordgo.PermissionOverwriteTypeMember, nil
		}
	default:
		o := bus.Command{Params: map[string]any{"type": v}}
		if n, err := o.Int64("type", -1); err == nil {
			switch t := discordgo.PermissionOverwriteType(n); t {
			case discordgo.PermissionOverwriteTypeRole, discordgo.PermissionOverwriteTypeMember:
				return t, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: type: want role or member, got %v", bus.ErrInvalidParam, v)
}
