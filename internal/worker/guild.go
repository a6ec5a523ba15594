package worker

import (
	"context"
	"fmt"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/discord"
)

// SelectedGuild returns the guild chosen with select_guild.
func (w *Worker) SelectedGuild() (discord.GuildSummary, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.selected == nil {
		return discord.GuildSummary{}, ErrNoGuildSelected
	}
	return *w.selected, nil
}

// cmdSelectGuild handles select_guild {guild_id}.
func (w *Worker) cmdSelectGuild(ctx context.Context, cmd bus.Command) error {
	id, err := cmd.ID("guild_id")
	if err != nil {
		return err
	}
	sess := w.Session()
	if sess == nil {
		return ErrNotReady
	}

	g, ok := w.cachedGuild(id)
	if !ok {
		// The cache is a ready-time snapshot; guilds joined later are only
		// known to the session.
		full, err := sess.Guild(ctx, id)
		if err != nil {
			if discord.IsNotFound(err) {
				return fmt.Errorf("%w: %s", ErrGuildNotFound, id)
			}
			return fmt.Errorf("worker: resolve guild %s: %w", id, err)
		}
		g = discord.GuildSummary{ID: full.ID, Name: full.Name}
	}

	w.mu.Lock()
	w.selected = &g
	w.mu.Unlock()

	w.log.Info("worker: guild selected", "guild_id", g.ID, "guild_name", g.Name)
	w.Emit(ctx, EventGuildSelected, map[string]any{"guild_id": g.ID, "guild_name": g.Name})
	return nil
}

func (w *Worker) cachedGuild(id string) (discord.GuildSummary, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, g := range w.guilds {
		if g.ID == id {
			return g, true
		}
	}
	return discord.GuildSummary{}, false
}
