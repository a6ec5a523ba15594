package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/MrWong99/starcommander/internal/bus"
)

func runEvents(args []string) int {
	fs := pflag.NewFlagSet("events", pflag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	follow := fs.BoolP("follow", "f", false, "keep waiting for new events until interrupted")
	wait := fs.Duration("wait", time.Second, "without --follow, stop after the queue stays empty this long")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, ok := loadConfig("events", *configPath)
	if !ok || !requireSharedBus("events", cfg) {
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBus(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starcommander events: open bus: %v\n", err)
		return 1
	}
	defer b.Close()

	if err := printEvents(ctx, b.Events(), os.Stdout, *follow, *wait); err != nil {
		fmt.Fprintf(os.Stderr, "starcommander events: %v\n", err)
		return 1
	}
	return 0
}

// printEvents pops events from q and writes one JSON object per line.
// Without follow it returns once q stays empty for wait. Cancelling ctx
// ends it without error.
func printEvents(ctx context.Context, q bus.Queue[bus.Event], out io.Writer, follow bool, wait time.Duration) error {
	enc := json.NewEncoder(out)
	for {
		var (
			ev  bus.Event
			ok  = true
			err error
		)
		if follow {
			ev, err = q.Pop(ctx)
		} else {
			ev, ok, err = q.PopWait(ctx, wait)
		}
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		case !ok:
			return nil
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
}
