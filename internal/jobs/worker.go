package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kalambet/msgforge/internal/generation"
	"github.com/kalambet/msgforge/internal/storage"
)

// WorkerStore abstracts the job queue operations.
type WorkerStore interface {
	Transitioner
	ClaimNextGenerationJob() (*storage.GenerationJob, error)
}

// Runner executes one generation job.
type Runner interface {
	Run(ctx context.Context, job storage.GenerationJob) (generation.Summary, error)
}

// Worker processes generation jobs from the SQLite queue, one at a time.
type Worker struct {
	store  WorkerStore
	runner Runner
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 1s.
func NewWorker(store WorkerStore, runner Runner, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{
		store:  store,
		runner: runner,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
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

// RunOnce claims and processes a single pending job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextGenerationJob()
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	// The claim itself is the pending -> running transition.
	w.logger.Info("generation job started", "job_id", job.ID, "attempt", job.Attempts)

	start := time.Now()
	sum, stack, err := w.process(ctx, *job)
	if err != nil && ctx.Err() != nil {
		w.logger.Info("generation job interrupted, requeueing", "job_id", job.ID, "error", err)
		if reqErr := Requeue(w.store, job.ID); reqErr != nil {
			return true, reqErr
		}
		return true, nil
	}
	if err != nil {
		w.logger.Warn("generation job failed", "job_id", job.ID, "error", err)
		if failErr := Transition(w.store, job.ID, storage.JobRunning, storage.JobFailed, err.Error(), stack); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := Transition(w.store, job.ID, storage.JobRunning, storage.JobCompleted, "", ""); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Info("generation job completed", "job_id", job.ID, "generated", sum.Generated,
		"passed", sum.Passed, "failed", sum.Failed, "errors", len(sum.Errors), "duration", time.Since(start))
	return true, nil
}

// process runs the job, converting a panic into an error plus its stack.
func (w *Worker) process(ctx context.Context, job storage.GenerationJob) (sum generation.Summary, stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack = string(debug.Stack())
			err = fmt.Errorf("panic during generation: %v", r)
		}
	}()
	sum, err = w.runner.Run(ctx, job)
	return sum, "", err
}
