package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/config"
	"github.com/MrWong99/starcommander/internal/credential"
	"github.com/MrWong99/starcommander/internal/discord"
	"github.com/MrWong99/starcommander/internal/factory"
	"github.com/MrWong99/starcommander/internal/fleet"
	"github.com/MrWong99/starcommander/internal/health"
	"github.com/MrWong99/starcommander/internal/observe"
	"github.com/MrWong99/starcommander/internal/registry"
	"github.com/MrWong99/starcommander/internal/supervisor"
	"github.com/MrWong99/starcommander/internal/worker"
)

// shutdownTimeout bounds the HTTP server drain and the telemetry flush.
const shutdownTimeout = 15 * time.Second

func runFleet(args []string) int {
	fs := pflag.NewFlagSet("fleet", pflag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	reload := fs.Duration("reload-interval", 5*time.Second, "how often the config file is checked for changes")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if _, ok := loadConfig("fleet", *configPath); !ok {
		return 1
	}
	watcher, err := config.NewWatcher(*configPath, config.WithInterval(*reload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "starcommander fleet: %v\n", err)
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(&level))

	slog.Info("starcommander fleet starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"bus", cfg.Bus.Backend,
		"credentials", cfg.Credentials.Source,
		"workers", len(cfg.Workers),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "starcommander"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Bus ───────────────────────────────────────────────────────────────────
	b, err := openBus(ctx, cfg)
	if err != nil {
		slog.Error("failed to open bus", "backend", cfg.Bus.Backend, "err", err)
		return 1
	}
	defer b.Close()

	// ── Credentials ───────────────────────────────────────────────────────────
	src, closeSrc, err := credential.FromConfig(ctx, cfg)
	if err != nil {
		slog.Error("failed to open credential source", "source", cfg.Credentials.Source, "err", err)
		return 1
	}
	defer func() { closeSrc() }()

	// ── Fleet ─────────────────────────────────────────────────────────────────
	spawner, err := newSpawner(cfg, *configPath, b, metrics)
	if err != nil {
		slog.Error("failed to set up worker spawner", "err", err)
		return 1
	}
	reg := registry.New(metrics)
	mgr := fleet.New(src, spawner, reg)
	defer func() {
		if err := mgr.StopAll(); err != nil {
			slog.Warn("stopping workers", "err", err)
		}
	}()

	if err := mgr.StartAll(ctx); err != nil {
		slog.Warn("not every worker started", "err", err)
	}
	for _, st := range mgr.List() {
		slog.Info("worker started", "worker_id", st.ID, "kind", st.Kind, "pid", st.Pid, "run_id", st.RunID)
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	probes := health.New(
		health.BusChecker(b),
		health.WorkersChecker(aliveCounter{reg}, func() int { return len(watcher.Current().Workers) }),
	)
	mux := http.NewServeMux()
	probes.Register(mux)
	mux.Handle("GET /metrics", provider.MetricsHandler())
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		return watcher.Run(gctx, func(old, cur *config.Config) {
			applyConfigChange(gctx, mgr, &level, &closeSrc, old, cur)
		})
	})
	g.Go(func() error {
		return refreshOnHangup(gctx, mgr)
	})

	slog.Info("fleet ready, press Ctrl+C to shut down")
	if err := g.Wait(); err != nil {
		slog.Error("fleet error", "err", err)
		return 1
	}
	slog.Info("shutdown signal received, stopping workers")
	return 0
}

// newSpawner picks how workers run. On the memory bus they must share the
// fleet process; on Redis each worker is a child process of this binary.
func newSpawner(cfg *config.Config, configPath string, b bus.Bus, m *observe.Metrics) (supervisor.Spawner, error) {
	if cfg.Bus.Backend == config.BusMemory {
		audioWait := cfg.Bus.AudioWait
		return &supervisor.FuncSpawner{Run: func(ctx context.Context, spec supervisor.Spec) error {
			w, err := factory.New(spec.Kind, spec.WorkerID, worker.Deps{
				Bus:       b,
				Dial:      discord.Dial,
				Metrics:   m,
				AudioWait: audioWait,
			})
			if err != nil {
				return err
			}
			return w.Run(ctx, spec.Credential)
		}}, nil
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &supervisor.ExecSpawner{ConfigPath: abs}, nil
}

// applyConfigChange is the config watcher callback. Worker changes are
// applied by swapping the credential source and reconciling.
func applyConfigChange(ctx context.Context, mgr *fleet.Manager, level *slog.LevelVar, closeSrc *func(), old, cur *config.Config) {
	d := config.Diff(old, cur)
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RestartRequired {
		slog.Warn("listen address or bus settings changed, restart the fleet to apply them")
	}
	if !d.WorkersChanged() && old.Credentials == cur.Credentials {
		return
	}
	slog.Info("worker configuration changed",
		"added", len(d.Added), "removed", len(d.Removed), "changed", len(d.Changed))

	src, closeNew, err := credential.FromConfig(ctx, cur)
	if err != nil {
		slog.Error("reload credential source", "err", err)
		return
	}
	mgr.SetSource(src)
	(*closeSrc)()
	*closeSrc = closeNew
	if err := mgr.Refresh(ctx); err != nil {
		slog.Warn("reconcile workers", "err", err)
	}
}

// refreshOnHangup re-reads the credential source on SIGHUP. This picks up
// rows changed in the bots table without a config edit.
func refreshOnHangup(ctx context.Context, mgr *fleet.Manager) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			slog.Info("SIGHUP received, refreshing workers")
			if err := mgr.Refresh(ctx); err != nil {
				slog.Warn("refresh workers", "err", err)
			}
		}
	}
}

// aliveCounter counts only workers whose process is still running.
type aliveCounter struct{ reg *registry.Registry }

func (a aliveCounter) Count() int { return a.reg.CountAlive() }
