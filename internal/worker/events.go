package worker

// Commands every worker kind understands.
const (
	CommandShutdown    = "shutdown"
	CommandSelectGuild = "select_guild"
)

// Event types emitted by the base worker.
const (
	EventReady            = "ready"
	EventError            = "error"
	EventGuildSelected    = "guild_selected"
	EventPermissionsCheck = "permissions_check"
	EventShuttingDown     = "shutting_down"
)
