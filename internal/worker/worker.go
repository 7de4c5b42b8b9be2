// Package worker pulls queued jobs from the store and hands them to the
// orchestrator.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/pdfdeck/internal/convert"
	"github.com/kalambet/pdfdeck/internal/job"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultLease        = 10 * time.Minute
)

// JobClaimer abstracts the job queue.
type JobClaimer interface {
	ClaimNextJob(kinds []job.Kind, lease time.Duration) (*job.Job, error)
}

// Processor runs one queued job to a terminal state.
type Processor interface {
	Process(ctx context.Context, msg convert.Message) (string, error)
}

// Worker processes jobs of the given kinds, one at a time.
type Worker struct {
	name   string
	store  JobClaimer
	proc   Processor
	kinds  []job.Kind
	poll   time.Duration
	lease  time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
// If lease is <= 0, it defaults to 10 minutes.
func NewWorker(name string, store JobClaimer, proc Processor, kinds []job.Kind, pollInterval, lease time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Worker{
		name:   name,
		store:  store,
		proc:   proc,
		kinds:  kinds,
		poll:   pollInterval,
		lease:  lease,
		logger: slog.Default().With("worker", name),
	}
}

// Run polls for jobs until ctx is cancelled. A job already running when ctx
// is cancelled is finished first.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	j, err := w.store.ClaimNextJob(w.kinds, w.lease)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if j == nil {
		return false, nil
	}

	start := time.Now()
	w.logger.Info("job claimed", "job_id", j.ID, "kind", j.Kind, "inputs", len(j.Inputs))

	// Shutdown must not abort a job between its status writes.
	out, err := w.proc.Process(context.WithoutCancel(ctx), convert.MessageFor(*j))
	elapsed := time.Since(start).Milliseconds()
	switch {
	case errors.Is(err, convert.ErrAlreadyFailed):
		w.logger.Info("job already failed", "job_id", j.ID)
	case err != nil:
		w.logger.Warn("job failed", "job_id", j.ID, "duration_ms", elapsed, "error", err)
	default:
		w.logger.Info("job completed", "job_id", j.ID, "duration_ms", elapsed, "output", out)
	}
	return true, nil
}
