package admin

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/discord"
)

// createRole handles create_role {role_name, permissions?}.
func (a *Admin) createRole(ctx context.Context, cmd bus.Command) error {
	sess, g, err := a.target()
	if err != nil {
		return err
	}
	name, err := cmd.String("role_name")
	if err != nil {
		return err
	}
	perms, err := cmd.Int64("permissions", 0)
	if err != nil {
		return err
	}

	roles, err := sess.GuildRoles(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("admin: list roles of guild %s: %w", g.ID, err)
	}
	for _, r := range roles {
		if r.Name == name {
			a.w.Logger().Info("admin: role already exists", "name", name, "guild_id", g.ID)
			a.emit(ctx, "role_exists", map[string]any{"role_name": name})
			return nil
		}
	}

	role, err := sess.CreateRole(ctx, g.ID, &discordgo.RoleParams{Name: name, Permissions: &perms})
	if err != nil {
		return fmt.Errorf("admin: create role %q: %w", name, err)
	}
	a.w.Logger().Info("admin: role created", "name", role.Name, "id", role.ID, "guild_id", g.ID)
	a.emit(ctx, "role_created", map[string]any{"role_name": role.Name, "role_id": role.ID})
	return nil
}

// deleteRole handles delete_role {role_id}.
func (a *Admin) deleteRole(ctx context.Context, cmd bus.Command) error {
	sess, g, err := a.target()
	if err != nil {
		return err
	}
	id, err := cmd.ID("role_id")
	if err != nil {
		return err
	}

	roles, err := sess.GuildRoles(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("admin: list roles of guild %s: %w", g.ID, err)
	}
	found := false
	for _, r := range roles {
		if r.ID == id {
			found = true
			break
		}
	}
	if !found {
		return notFound("role", id, g)
	}

	if err := sess.DeleteRole(ctx, g.ID, id); err != nil {
		if discord.IsNotFound(err) {
			return notFound("role", id, g)
		}
		return fmt.Errorf("admin: delete role %s: %w", id, err)
	}
	a.w.Logger().Info("admin: role deleted", "id", id, "guild_id", g.ID)
	a.emit(ctx, "role_deleted", map[string]any{"role_id": id})
	return nil
}
