package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/MrWong99/starcommander/internal/discord"
	"github.com/MrWong99/starcommander/internal/factory"
	"github.com/MrWong99/starcommander/internal/observe"
	"github.com/MrWong99/starcommander/internal/supervisor"
	"github.com/MrWong99/starcommander/internal/worker"
)

func runWorker(args []string) int {
	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	id := fs.String("id", "", "worker id (required)")
	kind := fs.String("kind", "", "worker kind: "+strings.Join(factory.Kinds(), ", "))
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *id == "" || *kind == "" {
		fmt.Fprintln(os.Stderr, "starcommander worker: --id and --kind are required")
		return 2
	}
	token := os.Getenv(supervisor.EnvWorkerToken)
	if token == "" {
		fmt.Fprintf(os.Stderr, "starcommander worker: %s is not set\n", supervisor.EnvWorkerToken)
		return 2
	}
	// Children of the fleet must not pass the token on to anything they run.
	_ = os.Unsetenv(supervisor.EnvWorkerToken)

	cfg, ok := loadConfig("worker", *configPath)
	if !ok {
		return 1
	}
	if !requireSharedBus("worker", cfg) {
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel.Level())
	if runID := os.Getenv(supervisor.EnvRunID); runID != "" {
		logger = logger.With("run_id", runID)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{InstanceID: *id})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	b, err := openBus(ctx, cfg)
	if err != nil {
		slog.Error("failed to open bus", "err", err)
		return 1
	}
	defer b.Close()

	w, err := factory.New(*kind, *id, worker.Deps{
		Bus:       b,
		Dial:      discord.Dial,
		Metrics:   observe.DefaultMetrics(),
		AudioWait: cfg.Bus.AudioWait,
	})
	if err != nil {
		slog.Error("failed to create worker", "err", err)
		return 1
	}

	if err := w.Run(ctx, token); err != nil {
		slog.Error("worker stopped", "worker_id", *id, "err", err)
		return 1
	}
	return 0
}
