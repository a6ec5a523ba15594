package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// allPermissions is what the guild owner and administrators hold.
const allPermissions = int64(^uint64(0) >> 1)

// permissionBits maps the permission names workers check to Discord bits.
var permissionBits = map[string]int64{
	"view_channel":         discordgo.PermissionViewChannel,
	"send_messages":        discordgo.PermissionSendMessages,
	"read_message_history": discordgo.PermissionReadMessageHistory,
	"connect":              discordgo.PermissionVoiceConnect,
	"speak":                discordgo.PermissionVoiceSpeak,
	"mute_members":         discordgo.PermissionVoiceMuteMembers,
	"deafen_members":       discordgo.PermissionVoiceDeafenMembers,
	"move_members":         discordgo.PermissionVoiceMoveMembers,
	"manage_channels":      discordgo.PermissionManageChannels,
	"manage_roles":         discordgo.PermissionManageRoles,
	"kick_members":         discordgo.PermissionKickMembers,
	"ban_members":          discordgo.PermissionBanMembers,
	"administrator":        discordgo.PermissionAdministrator,
}

// PermissionBit returns the bit for a permission name.
func PermissionBit(name string) (int64, bool) {
	bit, ok := permissionBits[name]
	return bit, ok
}

// Requirement is one entry of a worker kind's permission profile.
type Requirement struct {
	Name     string
	Required bool
}

// MemberPermissions computes the guild-level permissions of member: the
// owner and administrators hold everything, everyone else holds the union of
// the @everyone role and their own roles. Channel overwrites are ignored.
func MemberPermissions(guild *discordgo.Guild, member *discordgo.Member) int64 {
	if guild == nil || member == nil {
		return 0
	}
	if member.User != nil && member.User.ID == guild.OwnerID {
		return allPermissions
	}

	var perms int64
	for _, role := range guild.Roles {
		// The @everyone role shares the guild's id.
		if role.ID == guild.ID || slices.Contains(member.Roles, role.ID) {
			perms |= role.Permissions
		}
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return allPermissions
	}
	return perms
}

// Evaluate checks perms against reqs. checked holds the actual value of every
// named permission, required or not; unknown names are false. ok is true iff
// every required permission is held.
func Evaluate(perms int64, reqs []Requirement) (ok bool, checked map[string]bool) {
	ok = true
	checked = make(map[string]bool, len(reqs))
	for _, r := range reqs {
		bit, known := permissionBits[r.Name]
		has := known && perms&bit != 0
		checked[r.Name] = has
		if r.Required && !has {
			ok = false
		}
	}
	return ok, checked
}
