package worker

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/starcommander/internal/bus"
)

func TestRouter_Dispatch(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	var got []string
	r.Handle("ping", func(_ context.Context, cmd bus.Command) error {
		got = append(got, cmd.Name)
		return nil
	})
	boom := errors.New("boom")
	r.Handle("fail", func(context.Context, bus.Command) error { return boom })
	r.Handle("panic", func(context.Context, bus.Command) error { panic("kaboom") })

	tests := []struct {
		name    string
		cmd     string
		wantIs  error
		wantMsg string
	}{
		{name: "known", cmd: "ping"},
		{name: "handler error", cmd: "fail", wantIs: boom},
		{name: "unknown", cmd: "dance", wantIs: ErrUnknownCommand, wantMsg: `"dance"`},
		{name: "missing name", cmd: "", wantIs: ErrUnknownCommand, wantMsg: "missing command field"},
		{name: "panic recovered", cmd: "panic", wantMsg: "kaboom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Dispatch(context.Background(), bus.NewCommand(tt.cmd, nil))
			if tt.wantIs == nil && tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("Dispatch: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Dispatch err = nil")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("err = %v, want %v", err, tt.wantIs)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
	if !slices.Equal(got, []string{"ping"}) {
		t.Errorf("ping handler calls = %v", got)
	}
}

func TestRouter_NamesSortedAndReplace(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	calls := 0
	r.Handle("b", func(context.Context, bus.Command) error { return errors.New("old") })
	r.Handle("a", func(context.Context, bus.Command) error { return nil })
	r.Handle("b", func(context.Context, bus.Command) error { calls++; return nil })

	if names := r.Names(); !slices.Equal(names, []string{"a", "b"}) {
		t.Errorf("Names() = %v", names)
	}
	if err := r.Dispatch(context.Background(), bus.NewCommand("b", nil)); err != nil || calls != 1 {
		t.Errorf("replaced handler: err %v calls %d", err, calls)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateConnecting:   "connecting",
		StateReady:        "ready",
		StateShuttingDown: "shutting_down",
		StateClosed:       "closed",
		State(9):          "state(9)",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int32(s), s.String(), want)
		}
	}
}
