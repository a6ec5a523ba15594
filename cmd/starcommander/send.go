package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/config"
)

// sendTimeout bounds connecting to the bus and pushing the command.
const sendTimeout = 10 * time.Second

func runSend(args []string) int {
	fs := pflag.NewFlagSet("send", pflag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	workerID := fs.String("worker", "", "id of the worker to address (required)")
	file := fs.String("file", "", "read the command from this file instead of the argument; comments are allowed")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: starcommander send --worker ID [--file PATH | 'JSON']

Example:
  starcommander send --worker admin-1 '{"command": "select_guild", "guild_id": "123"}'`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *workerID == "" {
		fmt.Fprintln(os.Stderr, "starcommander send: --worker is required")
		return 2
	}

	var data []byte
	switch {
	case *file != "" && fs.NArg() > 0:
		fmt.Fprintln(os.Stderr, "starcommander send: pass either --file or a JSON argument, not both")
		return 2
	case *file != "":
		b, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "starcommander send: %v\n", err)
			return 1
		}
		data = b
	case fs.NArg() == 1:
		data = []byte(fs.Arg(0))
	default:
		fs.Usage()
		return 2
	}

	cmd, err := parseCommand(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starcommander send: %v\n", err)
		return 1
	}

	cfg, ok := loadConfig("send", *configPath)
	if !ok || !requireSharedBus("send", cfg) {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := send(ctx, cfg, *workerID, cmd); err != nil {
		fmt.Fprintf(os.Stderr, "starcommander send: %v\n", err)
		return 1
	}
	fmt.Printf("sent %q to %s\n", cmd.Name, *workerID)
	return 0
}

// parseCommand decodes a command object. Comments and trailing commas are
// stripped first.
func parseCommand(data []byte) (bus.Command, error) {
	var cmd bus.Command
	if err := json.Unmarshal(jsonc.ToJSON(data), &cmd); err != nil {
		return bus.Command{}, err
	}
	return cmd, nil
}

func send(ctx context.Context, cfg *config.Config, workerID string, cmd bus.Command) error {
	b, err := openBus(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}
	defer b.Close()
	return pushCommand(ctx, b, workerID, cmd)
}

// pushCommand appends cmd to the command queue of workerID.
func pushCommand(ctx context.Context, b bus.Bus, workerID string, cmd bus.Command) error {
	q, err := b.Commands(ctx, workerID)
	if err != nil {
		return err
	}
	return q.Push(ctx, cmd)
}
