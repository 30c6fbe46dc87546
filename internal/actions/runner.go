// Package actions runs long user-triggered operations on a session's
// content in the background and tracks their progress.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/msgforge/internal/storage"
	"github.com/kalambet/msgforge/internal/telemetry"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrNotRunning    = errors.New("action is not running")
	ErrShuttingDown  = errors.New("action runner is shutting down")
)

// maxRunningProgress is the highest progress an action can report itself.
// Only a successful finish reaches 100.
const maxRunningProgress = 99

// ProgressFunc reports completion percentage and the current step.
type ProgressFunc func(pct int, step string)

// Action is the body of an action job. The returned value is stored as the
// job's JSON result.
type Action func(ctx context.Context, progress ProgressFunc) (any, error)

// Factory builds the action for one (session, asset type) pair.
type Factory func(sessionID, assetType string) Action

// Store is the persistence the Runner needs.
type Store interface {
	CreateActionJob(a storage.ActionJob) error
	GetActionJob(id string) (storage.ActionJob, error)
	UpdateActionProgress(id string, progress int, step string) error
	FinishActionJob(id, status, result, errMsg string) error
	FailStaleActionJobs(cutoff time.Time, reason string) (int, error)
}

// Runner owns every in-flight action. Actions run on the runner's context,
// not the caller's, so they outlive the request that started them.
type Runner struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	base     context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  map[string]context.CancelFunc
	catalog  map[string]Factory
	shutdown bool
}

func NewRunner(store Store) *Runner {
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		store:   store,
		logger:  slog.Default(),
		now:     time.Now,
		base:    base,
		stop:    stop,
		running: make(map[string]context.CancelFunc),
		catalog: make(map[string]Factory),
	}
}

// Register makes a named action available to Start.
func (r *Runner) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog[name] = f
}

// Names lists registered actions in sorted order.
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.catalog))
	for n := range r.catalog {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start runs a registered action by name.
func (r *Runner) Start(ctx context.Context, sessionID, assetType, name string) (string, error) {
	r.mu.Lock()
	f, ok := r.catalog[name]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return r.Run(ctx, sessionID, assetType, name, f(sessionID, assetType))
}

// Run records a new running job and launches action in the background. It
// returns the job id as soon as the record exists.
func (r *Runner) Run(ctx context.Context, sessionID, assetType, name string, action Action) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	job := storage.ActionJob{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		AssetType:  assetType,
		ActionName: name,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return "", ErrShuttingDown
	}
	if err := r.store.CreateActionJob(job); err != nil {
		return "", fmt.Errorf("creating action job: %w", err)
	}

	actx, cancel := context.WithCancel(r.base)
	r.running[job.ID] = cancel
	r.wg.Add(1)
	go r.supervise(actx, job, action)

	r.logger.Info("action started", "action_id", job.ID, "action", name, "session_id", sessionID, "asset_type", assetType)
	return job.ID, nil
}

func (r *Runner) supervise(ctx context.Context, job storage.ActionJob, action Action) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		if cancel, ok := r.running[job.ID]; ok {
			cancel()
			delete(r.running, job.ID)
		}
		r.mu.Unlock()
	}()

	result, err := r.invoke(ctx, job, action)

	status, resultJSON, errMsg := storage.ActionCompleted, "", ""
	switch {
	case err != nil && ctx.Err() != nil:
		status, errMsg = storage.ActionCancelled, err.Error()
	case err != nil:
		status, errMsg = storage.ActionFailed, err.Error()
	default:
		b, mErr := json.Marshal(result)
		if mErr != nil {
			status, errMsg = storage.ActionFailed, fmt.Sprintf("encoding result: %v", mErr)
		} else {
			resultJSON = string(b)
		}
	}

	if err := r.store.FinishActionJob(job.ID, status, resultJSON, errMsg); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Already finished by Cancel or Shutdown.
			return
		}
		r.logger.Error("recording action outcome", "action_id", job.ID, "error", err)
		return
	}
	telemetry.ActionOutcomes.WithLabelValues(status).Inc()
	if status == storage.ActionCompleted {
		r.logger.Info("action completed", "action_id", job.ID, "action", job.ActionName)
	} else {
		r.logger.Warn("action finished", "action_id", job.ID, "action", job.ActionName, "status", status, "error", errMsg)
	}
}

func (r *Runner) invoke(ctx context.Context, job storage.ActionJob, action Action) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("action panicked", "action_id", job.ID, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("action panicked: %v", p)
		}
	}()
	return action(ctx, r.progress(job.ID))
}

// progress returns a reporter that clamps to [0, 99] and never goes back.
func (r *Runner) progress(id string) ProgressFunc {
	var mu sync.Mutex
	last := 0
	return func(pct int, step string) {
		mu.Lock()
		defer mu.Unlock()
		pct = min(max(pct, last), maxRunningProgress)
		last = pct
		if err := r.store.UpdateActionProgress(id, pct, step); err != nil {
			r.logger.Debug("recording action progress", "action_id", id, "error", err)
		}
	}
}

// Status returns the current record of an action job.
func (r *Runner) Status(id string) (storage.ActionJob, error) {
	return r.store.GetActionJob(id)
}

// Cancel marks a running action cancelled and stops it.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	cancel, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		if _, err := r.store.GetActionJob(id); err != nil {
			return err
		}
		return ErrNotRunning
	}

	if err := r.store.FinishActionJob(id, storage.ActionCancelled, "", "cancelled"); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return ErrNotRunning
		}
		return fmt.Errorf("cancelling action %s: %w", id, err)
	}
	telemetry.ActionOutcomes.WithLabelValues(storage.ActionCancelled).Inc()
	cancel()
	r.logger.Info("action cancelled", "action_id", id)
	return nil
}

// Shutdown cancels every running action and waits for them to return or
// for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.shutdown = true
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.store.FinishActionJob(id, storage.ActionCancelled, "", "server shutting down"); err != nil && !errors.Is(err, storage.ErrConflict) {
			r.logger.Warn("cancelling action on shutdown", "action_id", id, "error", err)
		}
	}
	r.stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for actions: %w", ctx.Err())
	}
}

// RecoverStale fails action jobs left running by a previous process. Call it
// before the first Run; in-flight actions of this process are not exempt.
func (r *Runner) RecoverStale(threshold time.Duration) (int, error) {
	n, err := r.store.FailStaleActionJobs(r.now().Add(-threshold), "interrupted: process exited while running")
	if err != nil {
		return 0, fmt.Errorf("failing stale actions: %w", err)
	}
	if n > 0 {
		r.logger.Warn("failed stale action jobs", "count", n)
		telemetry.ActionOutcomes.WithLabelValues(storage.ActionFailed).Add(float64(n))
	}
	return n, nil
}
