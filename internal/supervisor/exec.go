package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/google/uuid"
)

// ExecSpawner starts each worker as a child process running
// `<Executable> [BaseArgs...] worker --id ID --kind KIND --config PATH`.
type ExecSpawner struct {
	// Executable is the binary to run. Empty means the current executable.
	Executable string

	// BaseArgs are inserted before the worker subcommand.
	BaseArgs []string

	// ConfigPath is passed to the child with --config.
	ConfigPath string

	// Env is appended to the parent's environment.
	Env []string

	// Stdout and Stderr receive the child's output. Nil means the parent's
	// stderr for both.
	Stdout io.Writer
	Stderr io.Writer
}

// Spawn implements [Spawner].
func (s *ExecSpawner) Spawn(ctx context.Context, spec Spec) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exe := s.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("supervisor: resolve executable: %w", err)
		}
	}

	args := append([]string(nil), s.BaseArgs...)
	args = append(args, "worker", "--id", spec.WorkerID, "--kind", spec.Kind)
	if s.ConfigPath != "" {
		args = append(args, "--config", s.ConfigPath)
	}
	runID := uuid.NewString()

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env, EnvWorkerToken+"="+spec.Credential, EnvRunID+"="+runID)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stderr
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start worker %s: %w", spec.WorkerID, err)
	}
	pid := cmd.Process.Pid
	p := newProcess(spec.WorkerID, runID, pid, func() error { return killProcess(cmd.Process) })

	log := slog.With("worker_id", spec.WorkerID, "kind", spec.Kind, "pid", pid, "run_id", runID)
	log.Info("supervisor: worker started")
	go func() {
		err := cmd.Wait()
		if err != nil {
			log.Warn("supervisor: worker exited", "err", err)
		} else {
			log.Info("supervisor: worker exited")
		}
		p.exited(err)
	}()
	return p, nil
}
