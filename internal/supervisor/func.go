package supervisor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// FuncSpawner runs workers as goroutines of the current process. It serves
// single-process fleets on the in-memory bus, where child processes could
// not share the queues. Kill cancels the context Run was given.
type FuncSpawner struct {
	Run func(ctx context.Context, spec Spec) error
}

// Spawn implements [Spawner].
func (s *FuncSpawner) Spawn(ctx context.Context, spec Spec) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runID := uuid.NewString()
	p := newProcess(spec.WorkerID, runID, 0, func() error {
		cancel()
		return nil
	})

	log := slog.With("worker_id", spec.WorkerID, "kind", spec.Kind, "run_id", runID)
	log.Info("supervisor: worker started in process")
	go func() {
		defer cancel()
		err := s.Run(runCtx, spec)
		if err != nil {
			log.Warn("supervisor: worker exited", "err", err)
		} else {
			log.Info("supervisor: worker exited")
		}
		p.exited(err)
	}()
	return p, nil
}
