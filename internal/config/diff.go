package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Added lists workers present only in the new config.
	Added []WorkerConfig

	// Removed lists ids present only in the old config.
	Removed []string

	// Changed lists workers whose kind or credential changed. They must be
	// restarted to pick up the change.
	Changed []WorkerConfig

	// RestartRequired is set when settings that cannot be applied to a
	// running fleet changed (listen address, bus, credential source).
	RestartRequired bool
}

// WorkersChanged reports whether any worker was added, removed or changed.
func (d ConfigDiff) WorkersChanged() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Changed) > 0
}

// Diff compares old and new configs and returns what changed. Worker lists
// are sorted by id so the result is deterministic.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.RestartRequired = old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Bus != new.Bus ||
		old.Credentials != new.Credentials

	oldWorkers := make(map[string]WorkerConfig, len(old.Workers))
	for _, w := range old.Workers {
		oldWorkers[w.ID] = w
	}
	newWorkers := make(map[string]WorkerConfig, len(new.Workers))
	for _, w := range new.Workers {
		newWorkers[w.ID] = w
	}

	for id, ow := range oldWorkers {
		nw, ok := newWorkers[id]
		if !ok {
			d.Removed = append(d.Removed, id)
			continue
		}
		if ow != nw {
			d.Changed = append(d.Changed, nw)
		}
	}
	for id, nw := range newWorkers {
		if _, ok := oldWorkers[id]; !ok {
			d.Added = append(d.Added, nw)
		}
	}

	slices.Sort(d.Removed)
	byID := func(a, b WorkerConfig) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	}
	slices.SortFunc(d.Added, byID)
	slices.SortFunc(d.Changed, byID)
	return d
}
