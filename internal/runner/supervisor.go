package runner

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// job is one queued task execution.
type job struct {
	identity Identity
	inputs   Inputs
	resume   string
}

// Supervisor runs tasks on a bounded worker pool. Each task stays
// single-threaded over its own state; only the pool is concurrent.
type Supervisor struct {
	runner  *Runner
	workers int
	jobs    chan job
	logger  *slog.Logger
}

// NewSupervisor sizes the pool; workers below 1 are clamped to 1.
func NewSupervisor(r *Runner, workers int) *Supervisor {
	if workers < 1 {
		workers = 1
	}
	return &Supervisor{
		runner:  r,
		workers: workers,
		jobs:    make(chan job, workers*2),
		logger:  slog.Default().With("component", "runner.supervisor"),
	}
}

// Submit queues a new task execution.
func (s *Supervisor) Submit(id Identity, in Inputs) {
	s.jobs <- job{identity: id, inputs: in}
}

// SubmitResume queues a resume of a prior task.
func (s *Supervisor) SubmitResume(id Identity, prevTaskID string) {
	s.jobs <- job{identity: id, resume: prevTaskID}
}

// Close stops accepting jobs; Run returns once the queue drains.
func (s *Supervisor) Close() { close(s.jobs) }

// Run processes the queue until it is closed or the context ends. A single
// failing task never stops the pool; its error lands in the task record.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case j, ok := <-s.jobs:
					if !ok {
						return nil
					}
					s.execute(ctx, j)
				}
			}
		})
	}
	return g.Wait()
}

func (s *Supervisor) execute(ctx context.Context, j job) {
	var err error
	if j.resume != "" {
		_, err = s.runner.Resume(ctx, j.identity, j.resume)
	} else {
		_, err = s.runner.Execute(ctx, j.identity, j.inputs)
	}
	if err != nil {
		s.logger.Error("task execution failed",
			"resume", j.resume, "project", j.inputs.ProjectID, "error", err)
	}
}
