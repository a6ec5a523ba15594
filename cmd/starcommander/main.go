// Command starcommander runs and drives a fleet of Discord bot workers.
//
//	starcommander fleet  --config PATH                    run the fleet manager
//	starcommander worker --config PATH --id ID --kind K   run one worker (spawned by fleet)
//	starcommander send   --config PATH --worker ID JSON   push one command
//	starcommander events --config PATH [--follow]         print worker events
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// subcommands maps a subcommand name to its entry point. Each returns the
// process exit status.
var subcommands = map[string]func(args []string) int{
	"fleet":  runFleet,
	"worker": runWorker,
	"send":   runSend,
	"events": runEvents,
}

func run(args []string) int {
	if len(args) == 0 {
		usage(os.Stderr)
		return 2
	}
	switch args[0] {
	case "-h", "--help", "help":
		usage(os.Stdout)
		return 0
	}
	cmd, ok := subcommands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "starcommander: unknown command %q\n\n", args[0])
		usage(os.Stderr)
		return 2
	}
	return cmd(args[1:])
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: starcommander <command> [flags]

Commands:
  fleet    start every configured worker and supervise them
  worker   run a single worker; the token is read from `+"$STARCOMMANDER_WORKER_TOKEN"+`
  send     push one JSON command to a worker
  events   print worker events as JSON lines

Run "starcommander <command> --help" for the flags of a command.
`)
}

// ── Configuration ─────────────────────────────────────────────────────────────

// loadConfig loads path and prints a friendly error on failure.
func loadConfig(name, path string) (*config.Config, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "starcommander %s: config file %q not found, copy configs/example.yaml to get started\n", name, path)
		} else {
			fmt.Fprintf(os.Stderr, "starcommander %s: %v\n", name, err)
		}
		return nil, false
	}
	return cfg, true
}

// ── Bus ───────────────────────────────────────────────────────────────────────

// openBus connects the configured bus backend.
func openBus(ctx context.Context, cfg *config.Config) (bus.Bus, error) {
	switch cfg.Bus.Backend {
	case config.BusMemory:
		return bus.NewMemoryBus(), nil
	case config.BusRedis:
		b, err := bus.DialRedis(ctx, bus.RedisOptions{
			Addr:      cfg.Bus.Redis.Addr,
			Password:  cfg.Bus.Redis.Password,
			DB:        cfg.Bus.Redis.DB,
			KeyPrefix: cfg.Bus.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported bus backend %q", cfg.Bus.Backend)
}

// requireSharedBus rejects the memory backend for subcommands that talk to
// a fleet running in another process.
func requireSharedBus(name string, cfg *config.Config) bool {
	if cfg.Bus.Backend == config.BusMemory {
		fmt.Fprintf(os.Stderr, "starcommander %s: the memory bus is private to the fleet process, configure bus.backend: redis\n", name)
		return false
	}
	return true
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
