package admin

import (
	"context"
	"fmt"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/discord"
)

// moveMember handles move_member_to_voice_channel {member_id, channel_id}.
func (a *Admin) moveMember(ctx context.Context, cmd bus.Command) error {
	sess, g, err := a.target()
	if err != nil {
		return err
	}
	memberID, err := cmd.ID("member_id")
	if err != nil {
		return err
	}
	channelID, err := cmd.ID("channel_id")
	if err != nil {
		return err
	}

	if _, err := sess.GuildMember(ctx, g.ID, memberID); err != nil {
		if discord.IsNotFound(err) {
			return notFound("member", memberID, g)
		}
		return fmt.Errorf("admin: resolve member %s: %w", memberID, err)
	}
	ch, err := sess.Channel(ctx, channelID)
	if err != nil && !discord.IsNotFound(err) {
		return fmt.Errorf("admin: resolve voice channel %s: %w", channelID, err)
	}
	if err != nil || ch.GuildID != g.ID || !voiceChannels.is(ch) {
		return notFound("voice_channel", channelID, g)
	}

	if err := sess.MoveMember(ctx, g.ID, memberID, channelID); err != nil {
		return fmt.Errorf("admin: move member %s to %s: %w", memberID, channelID, err)
	}
	a.w.Logger().Info("admin: member moved", "member_id", memberID, "channel", ch.Name, "guild_id", g.ID)
	a.emit(ctx, "member_moved", map[string]any{"member_id": memberID, "channel_id": channelID})
	return nil
}
