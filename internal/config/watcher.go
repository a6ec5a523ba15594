package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultWatchInterval = 5 * time.Second

// fileState identifies one version of the watched file.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher polls a config file and reports valid changes. Invalid edits are
// logged and the last valid config is kept.
type Watcher struct {
	path     string
	interval time.Duration

	mu      sync.Mutex
	current *Config
	state   fileState
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path. Polling starts with [Watcher.Run].
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: defaultWatchInterval}
	for _, opt := range opts {
		opt(w)
	}
	cfg, st, err := readState(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.state = cfg, st
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled, calling onChange after every valid
// change of content. onChange runs on the polling goroutine and may call
// [Watcher.Current].
func (w *Watcher) Run(ctx context.Context, onChange func(old, new *Config)) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		old, cfg := w.poll()
		if cfg != nil && onChange != nil {
			onChange(old, cfg)
		}
	}
}

// poll reloads the file when its mtime moved. It returns a nil cfg unless
// the content changed and still validates.
func (w *Watcher) poll() (old, cfg *Config) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watched file unreadable", "path", w.path, "err", err)
		return nil, nil
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.state.mtime)
	w.mu.Unlock()
	if unchanged {
		return nil, nil
	}

	next, st, err := readState(w.path)
	if err != nil {
		slog.Warn("config: rejected edit, keeping previous config", "path", w.path, "err", err)
		return nil, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	sameContent := st.sum == w.state.sum
	w.state = st
	if sameContent {
		return nil, nil
	}
	old, w.current = w.current, next
	slog.Info("config: reloaded", "path", w.path)
	return old, next
}

// readState reads and validates the file at path.
func readState(path string) (*Config, fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
