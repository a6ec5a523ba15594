package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/starcommander/internal/config"
)

const (
	oneRelayYAML = `
server:
  log_level: info
workers:
  - {id: relay-a, kind: relay, token_env: RELAY_A}
`
	twoRelaysYAML = `
server:
  log_level: debug
workers:
  - {id: relay-a, kind: relay, token_env: RELAY_A}
  - {id: relay-b, kind: relay, token_env: RELAY_B}
`
	badLevelYAML = `
server:
  log_level: bananas
`
)

type reload struct{ old, new *config.Config }

// watch writes content to a temp config, starts a fast watcher on it and
// returns the file path, the watcher and the channel of reported reloads.
func watch(t *testing.T, content string) (string, *config.Watcher, <-chan reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	writeConfig(t, path, content)

	w, err := config.NewWatcher(path, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	reloads := make(chan reload, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(old, new *config.Config) { reloads <- reload{old, new} })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return path, w, reloads
}

// writeConfig writes content and moves the mtime forward so coarse file
// system clocks still register the edit.
func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	bump(t, path)
}

var mtimeStep = time.Now()

func bump(t *testing.T, path string) {
	t.Helper()
	mtimeStep = mtimeStep.Add(time.Second)
	if err := os.Chtimes(path, mtimeStep, mtimeStep); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_Reload(t *testing.T) {
	path, w, reloads := watch(t, oneRelayYAML)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Fatalf("initial log_level = %q", got)
	}

	writeConfig(t, path, twoRelaysYAML)
	var r reload
	select {
	case r = <-reloads:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload reported")
	}

	if r.old.Server.LogLevel != config.LogInfo || r.new.Server.LogLevel != config.LogDebug {
		t.Errorf("log levels old=%q new=%q", r.old.Server.LogLevel, r.new.Server.LogLevel)
	}
	d := config.Diff(r.old, r.new)
	if len(d.Added) != 1 || d.Added[0].ID != "relay-b" {
		t.Errorf("Added = %+v, want relay-b", d.Added)
	}
	if w.Current() != r.new {
		t.Error("Current does not return the reloaded config")
	}
}

func TestWatcher_Ignored(t *testing.T) {
	tests := []struct {
		name string
		edit func(t *testing.T, path string)
	}{
		{name: "invalid content", edit: func(t *testing.T, path string) { writeConfig(t, path, badLevelYAML) }},
		{name: "touch only", edit: bump},
		{name: "same content rewritten", edit: func(t *testing.T, path string) { writeConfig(t, path, oneRelayYAML) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, w, reloads := watch(t, oneRelayYAML)
			before := w.Current()

			tt.edit(t, path)
			select {
			case r := <-reloads:
				t.Fatalf("unexpected reload to %+v", r.new.Server)
			case <-time.After(200 * time.Millisecond):
			}
			if w.Current() != before {
				t.Error("Current changed")
			}
		})
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("NewWatcher on a missing file succeeded")
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	if err := os.WriteFile(path, []byte(oneRelayYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := config.NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx, nil); err != nil {
		t.Errorf("Run after cancel = %v, want nil", err)
	}
}
