package worker

import (
	"context"

	"github.com/MrWong99/starcommander/internal/discord"
)

// CheckPermissions evaluates reqs for the bot's member in guildID and emits
// a permissions_check event. The result is advisory; nothing is refused
// because of it. A bot member that cannot be resolved fails the check with
// an empty permission map.
func (w *Worker) CheckPermissions(ctx context.Context, guildID string, reqs []discord.Requirement) bool {
	log := w.log.With("guild_id", guildID)
	ok, checked := false, map[string]bool{}

	sess := w.Session()
	if sess != nil {
		if perms, err := w.botPermissions(ctx, sess, guildID); err != nil {
			log.Warn("worker: cannot resolve bot member for permission check", "err", err)
		} else {
			ok, checked = discord.Evaluate(perms, reqs)
		}
	}

	if ok {
		log.Info("worker: bot has all required permissions")
	} else {
		log.Warn("worker: bot lacks required permissions", "checked", checked)
	}

	payload := make(map[string]any, len(checked))
	for k, v := range checked {
		payload[k] = v
	}
	w.Emit(ctx, EventPermissionsCheck, map[string]any{
		"guild_id":            guildID,
		"enough_permissions":  ok,
		"permissions_checked": payload,
	})
	return ok
}

func (w *Worker) botPermissions(ctx context.Context, sess discord.Session, guildID string) (int64, error) {
	g, err := sess.Guild(ctx, guildID)
	if err != nil {
		return 0, err
	}
	m, err := sess.GuildMember(ctx, guildID, sess.Me().ID)
	if err != nil {
		return 0, err
	}
	return discord.MemberPermissions(g, m), nil
}
