package admin_test

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/worker"
	"github.com/MrWong99/starcommander/internal/worker/admin"
	"github.com/MrWong99/starcommander/internal/worker/workertest"
)

const guildID = "100"

// start runs an administrative worker with guild 100 selected and every
// ready-time event drained.
func start(t *testing.T) (*workertest.Env, *workertest.Running) {
	t.Helper()
	env := workertest.New(t)
	env.Session.AddGuild(guildID, "Bridge", "owner")
	env.Session.AddGuild("200", "Other", "owner")
	r := env.Start(admin.New("admin-1", env.Deps()))
	r.Send(worker.CommandSelectGuild, map[string]any{"guild_id": guildID})
	env.Await("admin-1", worker.EventGuildSelected)
	env.Drain()
	return env, r
}

func expect(t *testing.T, env *workertest.Env, typ string) bus.Event {
	t.Helper()
	ev := env.Next()
	if ev.Type != typ {
		t.Fatalf("event = %s %v, want %s", ev.Type, ev.Payload, typ)
	}
	return ev
}

func expectError(t *testing.T, env *workertest.Env, contains string) {
	t.Helper()
	ev := expect(t, env, worker.EventError)
	if msg := ev.Payload["error"].(string); !strings.Contains(msg, contains) {
		t.Errorf("error = %q, want it to contain %q", msg, contains)
	}
}

func TestAdmin_Scenario(t *testing.T) {
	t.Parallel()
	env := workertest.New(t)
	env.Session.AddGuild(guildID, "Bridge", "owner")
	r := env.Start(admin.New("admin-1", env.Deps()))
	env.Drain()

	r.Send(admin.CommandCreateCategory, map[string]any{"category_name": "Ops"})
	expectError(t, env, "no guild selected")

	r.Send(worker.CommandSelectGuild, map[string]any{"guild_id": guildID})
	expect(t, env, worker.EventGuildSelected)

	r.Send(admin.CommandCreateCategory, map[string]any{"category_name": "Ops"})
	created := expect(t, env, "category_created")
	if created.Payload["category_name"] != "Ops" || created.Payload["category_id"] == "" {
		t.Errorf("payload = %v", created.Payload)
	}

	r.Send(admin.CommandCreateCategory, map[string]any{"category_name": "Ops"})
	exists := expect(t, env, "category_exists")
	if exists.Payload["category_name"] != "Ops" {
		t.Errorf("payload = %v", exists.Payload)
	}
	if n := len(env.Session.ChannelsNamed(guildID, "Ops")); n != 1 {
		t.Errorf("categories named Ops = %d, want 1", n)
	}
	env.Quiet(50 * time.Millisecond)
}

func TestAdmin_RequirementsCheckedOnReady(t *testing.T) {
	t.Parallel()
	env := workertest.New(t)
	env.Session.AddGuild(guildID, "Bridge", workertest.BotUser.ID)
	env.Session.AddMember(guildID, workertest.BotUser.ID)
	env.Start(admin.New("admin-1", env.Deps()))

	env.Await("admin-1", worker.EventReady)
	ev := expect(t, env, worker.EventPermissionsCheck)
	if ev.Payload["enough_permissions"] != true {
		t.Errorf("owner enough_permissions = %v", ev.Payload["enough_permissions"])
	}
	checked := ev.Payload["permissions_checked"].(map[string]any)
	if len(checked) != len(admin.Requirements) {
		t.Errorf("permissions_checked = %v", checked)
	}
}

func TestAdmin_CreateChannels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		command   string
		params    map[string]any
		wantEvent string
		wantType  discordgo.ChannelType
		wantName  string
		parent    bool
	}{
		{
			name:      "voice channel",
			command:   admin.CommandCreateVoiceChannel,
			params:    map[string]any{"channel_name": "Comms"},
			wantEvent: "voice_channel_created",
			wantType:  discordgo.ChannelTypeGuildVoice,
			wantName:  "Comms",
		},
		{
			name:      "text channel under category",
			command:   admin.CommandCreateTextChannel,
			params:    map[string]any{"channel_name": "log", "category_name": "Ops", "position": 2},
			wantEvent: "text_channel_created",
			wantType:  discordgo.ChannelTypeGuildText,
			wantName:  "log",
			parent:    true,
		},
		{
			name:      "same name different type is created",
			command:   admin.CommandCreateVoiceChannel,
			params:    map[string]any{"channel_name": "general"},
			wantEvent: "voice_channel_created",
			wantType:  discordgo.ChannelTypeGuildVoice,
			wantName:  "general",
		},
		{
			name:      "existing text channel",
			command:   admin.CommandCreateTextChannel,
			params:    map[string]any{"channel_name": "general"},
			wantEvent: "text_channel_exists",
		},
		{
			name:      "existing category",
			command:   admin.CommandCreateCategory,
			params:    map[string]any{"category_name": "Ops"},
			wantEvent: "category_exists",
		},
		{
			name:      "name only exists in other guild",
			command:   admin.CommandCreateTextChannel,
			params:    map[string]any{"channel_name": "elsewhere"},
			wantEvent: "text_channel_created",
			wantType:  discordgo.ChannelTypeGuildText,
			wantName:  "elsewhere",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env, r := start(t)
			ops := env.Session.AddChannel(guildID, "Ops", discordgo.ChannelTypeGuildCategory, "")
			env.Session.AddChannel(guildID, "general", discordgo.ChannelTypeGuildText, "")
			env.Session.AddChannel("200", "elsewhere", discordgo.ChannelTypeGuildText, "")
			before := env.Session.CreatedChannels

			r.Send(tt.command, tt.params)
			ev := expect(t, env, tt.wantEvent)

			if strings.HasSuffix(tt.wantEvent, "_exists") {
				if env.Session.CreatedChannels != before {
					t.Error("a channel was created although one existed")
				}
				return
			}
			id, _ := ev.Payload["channel_id"].(string)
			ch, err := env.Session.Channel(t.Context(), id)
			if err != nil {
				t.Fatalf("created channel %q not found: %v", id, err)
			}
			if ch.Type != tt.wantType || ch.Name != tt.wantName || ch.GuildID != guildID {
				t.Errorf("created %+v", ch)
			}
			if tt.parent && ch.ParentID != ops.ID {
				t.Errorf("parent = %q, want %q", ch.ParentID, ops.ID)
			}
			if tt.parent && ch.Position != 2 {
				t.Errorf("position = %d, want 2", ch.Position)
			}
		})
	}
}

func TestAdmin_CreateChannelErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		command string
		params  map[string]any
		want    string
	}{
		{"missing parent category", admin.CommandCreateVoiceChannel, map[string]any{"channel_name": "x", "category_name": "Nope"}, "category Nope"},
		{"missing name", admin.CommandCreateCategory, nil, "category_name"},
		{"bad position", admin.CommandCreateTextChannel, map[string]any{"channel_name": "x", "position": "top"}, "position"},
		{"bad overwrite type", admin.CommandCreateTextChannel, map[string]any{
			"channel_name": "x",
			"overwrites":   []any{map[string]any{"id": "5", "type": "bot"}},
		}, "want role or member"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env, r := start(t)
			r.Send(tt.command, tt.params)
			expectError(t, env, tt.want)
			if env.Session.CreatedChannels != 0 {
				t.Errorf("created %d channels", env.Session.CreatedChannels)
			}
		})
	}
}

func TestAdmin_Overwrites(t *testing.T) {
	t.Parallel()
	env, r := start(t)

	r.Send(admin.CommandCreateTextChannel, map[string]any{
		"channel_name": "secret",
		"overwrites": []any{
			map[string]any{"id": guildID, "type": "role", "deny": discordgo.PermissionViewChannel},
			map[string]any{"id": int64(42), "type": "member", "allow": "1024"},
		},
	})
	ev := expect(t, env, "text_channel_created")
	ch, err := env.Session.Channel(t.Context(), ev.Payload["channel_id"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if len(ch.PermissionOverwrites) != 2 {
		t.Fatalf("overwrites = %+v", ch.PermissionOverwrites)
	}
	role, member := ch.PermissionOverwrites[0], ch.PermissionOverwrites[1]
	if role.Type != discordgo.PermissionOverwriteTypeRole || role.Deny != discordgo.PermissionViewChannel {
		t.Errorf("role overwrite = %+v", role)
	}
	if member.Type != discordgo.PermissionOverwriteTypeMember || member.ID != "42" || member.Allow != 1024 {
		t.Errorf("member overwrite = %+v", member)
	}
}

func TestAdmin_DeleteChannels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		command   string
		target    string // which seeded channel to reference
		wantEvent string
	}{
		{"category", admin.CommandDeleteCategory, "cat", "category_deleted"},
		{"voice channel", admin.CommandDeleteVoiceChannel, "voice", "voice_channel_deleted"},
		{"text channel", admin.CommandDeleteTextChannel, "text", "text_channel_deleted"},
		{"voice id given to text delete", admin.CommandDeleteTextChannel, "voice", worker.EventError},
		{"channel of other guild", admin.CommandDeleteTextChannel, "foreign", worker.EventError},
		{"unknown id", admin.CommandDeleteCategory, "missing", worker.EventError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env, r := start(t)
			ids := map[string]string{
				"cat":     env.Session.AddChannel(guildID, "Ops", discordgo.ChannelTypeGuildCategory, "").ID,
				"voice":   env.Session.AddChannel(guildID, "Comms", discordgo.ChannelTypeGuildVoice, "").ID,
				"text":    env.Session.AddChannel(guildID, "log", discordgo.ChannelTypeGuildText, "").ID,
				"foreign": env.Session.AddChannel("200", "log", discordgo.ChannelTypeGuildText, "").ID,
				"missing": "424242",
			}
			param := "channel_id"
			if tt.command == admin.CommandDeleteCategory {
				param = "category_id"
			}

			r.Send(tt.command, map[string]any{param: ids[tt.target]})
			ev := expect(t, env, tt.wantEvent)

			_, err := env.Session.Channel(t.Context(), ids[tt.target])
			if tt.wantEvent == worker.EventError {
				if msg := ev.Payload["error"].(string); !strings.Contains(msg, "not found") {
					t.Errorf("error = %q", msg)
				}
				if tt.target != "missing" && err != nil {
					t.Error("channel was deleted although the command failed")
				}
				return
			}
			if ev.Payload[param] != ids[tt.target] {
				t.Errorf("payload = %v", ev.Payload)
			}
			if err == nil {
				t.Error("channel still exists")
			}
		})
	}
}

func TestAdmin_Roles(t *testing.T) {
	t.Parallel()
	env, r := start(t)

	r.Send(admin.CommandCreateRole, map[string]any{"role_name": "Pilot", "permissions": discordgo.PermissionVoiceConnect})
	created := expect(t, env, "role_created")
	roleID, _ := created.Payload["role_id"].(string)
	roles := env.Session.RolesNamed(guildID, "Pilot")
	if len(roles) != 1 || roles[0].ID != roleID || roles[0].Permissions != discordgo.PermissionVoiceConnect {
		t.Fatalf("roles = %+v", roles)
	}

	r.Send(admin.CommandCreateRole, map[string]any{"role_name": "Pilot"})
	expect(t, env, "role_exists")
	if env.Session.CreatedRoles != 1 {
		t.Errorf("CreatedRoles = %d, want 1", env.Session.CreatedRoles)
	}

	r.Send(admin.CommandDeleteRole, map[string]any{"role_id": roleID})
	deleted := expect(t, env, "role_deleted")
	if deleted.Payload["role_id"] != roleID {
		t.Errorf("payload = %v", deleted.Payload)
	}

	r.Send(admin.CommandDeleteRole, map[string]any{"role_id": roleID})
	expectError(t, env, "not found")
}

func TestAdmin_MoveMember(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		member string
		target string
		want   string
	}{
		{name: "moved", member: "7", target: "voice", want: "member_moved"},
		{name: "unknown member", member: "8", target: "voice", want: "member 8"},
		{name: "text channel", member: "7", target: "text", want: "voice_channel"},
		{name: "unknown channel", member: "7", target: "missing", want: "voice_channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env, r := start(t)
			env.Session.AddMember(guildID, "7")
			ids := map[string]string{
				"voice":   env.Session.AddChannel(guildID, "Comms", discordgo.ChannelTypeGuildVoice, "").ID,
				"text":    env.Session.AddChannel(guildID, "log", discordgo.ChannelTypeGuildText, "").ID,
				"missing": "31337",
			}

			r.Send(admin.CommandMoveMember, map[string]any{"member_id": tt.member, "channel_id": ids[tt.target]})
			if tt.want != "member_moved" {
				expectError(t, env, tt.want)
				if len(env.Session.Moves) != 0 {
					t.Errorf("moves = %+v", env.Session.Moves)
				}
				return
			}
			ev := expect(t, env, "member_moved")
			if ev.Payload["member_id"] != "7" || ev.Payload["channel_id"] != ids["voice"] {
				t.Errorf("payload = %v", ev.Payload)
			}
			if len(env.Session.Moves) != 1 || env.Session.Moves[0].ChannelID != ids["voice"] {
				t.Errorf("moves = %+v", env.Session.Moves)
			}
		})
	}
}
