// Package jobs owns the generation job lifecycle: the state machine, the
// polling worker, discovery schedules and the periodic scheduler.
package jobs

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/msgforge/internal/retry"
	"github.com/kalambet/msgforge/internal/storage"
	"github.com/kalambet/msgforge/internal/telemetry"
)

// ErrInvalidTransition is returned for any status change outside the
// job state machine.
var ErrInvalidTransition = errors.New("invalid job transition")

// running -> pending is a recovery edge kept out of this table: only Requeue
// (interrupted run) and Manager.RecoverStale (orphaned run) take it.
var transitions = map[string][]string{
	storage.JobPending: {storage.JobRunning},
	storage.JobRunning: {storage.JobCompleted, storage.JobFailed},
	storage.JobFailed:  {storage.JobPending},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transitioner applies a conditional status update.
type Transitioner interface {
	TransitionGenerationJob(id, from, to, errMsg, errStack string) error
}

// Transition validates and applies a status change. storage.ErrConflict means
// the job was not in the from status.
func Transition(store Transitioner, id, from, to, errMsg, errStack string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := store.TransitionGenerationJob(id, from, to, errMsg, errStack); err != nil {
		return fmt.Errorf("moving job %s to %s: %w", id, to, err)
	}
	telemetry.JobTransitions.WithLabelValues(to).Inc()
	return nil
}

// Requeue returns an interrupted running job to pending so the next worker
// picks it up again.
func Requeue(store Transitioner, id string) error {
	if err := store.TransitionGenerationJob(id, storage.JobRunning, storage.JobPending, "", ""); err != nil {
		return fmt.Errorf("requeueing job %s: %w", id, err)
	}
	telemetry.JobTransitions.WithLabelValues(storage.JobPending).Inc()
	return nil
}

// ManagerStore is the persistence the Manager needs.
type ManagerStore interface {
	Transitioner
	EnqueueGenerationJob(job storage.GenerationJob) error
	GetGenerationJob(id string) (storage.GenerationJob, error)
	GetPainPoint(id string) (storage.PainPoint, error)
	GetVoiceProfile(id string) (storage.VoiceProfile, error)
	RequeueStaleGenerationJobs(cutoff time.Time) (int, error)
}

// AssetValidator rejects unknown asset types.
type AssetValidator interface {
	Validate(assetType string) error
}

// Request describes a generation job to enqueue.
type Request struct {
	PainPointID     string   `json:"pain_point_id" validate:"required"`
	VoiceProfileIDs []string `json:"voice_profile_ids" validate:"required,min=1,dive,required"`
	AssetTypes      []string `json:"asset_types" validate:"required,min=1,dive,required"`
}

// Manager enqueues and retries generation jobs.
type Manager struct {
	store  ManagerStore
	assets AssetValidator
	now    func() time.Time
	logger *slog.Logger
}

func NewManager(store ManagerStore, assets AssetValidator) *Manager {
	return &Manager{
		store:  store,
		assets: assets,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Enqueue validates req and stores a pending job. Validation failures are
// wrapped with retry.Permanent.
func (m *Manager) Enqueue(req Request) (storage.GenerationJob, error) {
	if err := m.validate(req); err != nil {
		return storage.GenerationJob{}, retry.Permanent(err)
	}
	job := storage.GenerationJob{
		ID:              uuid.NewString(),
		PainPointID:     req.PainPointID,
		VoiceProfileIDs: req.VoiceProfileIDs,
		AssetTypes:      req.AssetTypes,
	}
	if err := m.store.EnqueueGenerationJob(job); err != nil {
		return storage.GenerationJob{}, fmt.Errorf("enqueueing job: %w", err)
	}
	m.logger.Info("generation job queued", "job_id", job.ID, "pain_point_id", job.PainPointID,
		"voices", len(job.VoiceProfileIDs), "asset_types", len(job.AssetTypes))
	return m.store.GetGenerationJob(job.ID)
}

func (m *Manager) validate(req Request) error {
	if req.PainPointID == "" || len(req.VoiceProfileIDs) == 0 || len(req.AssetTypes) == 0 {
		return errors.New("pain point, voice profiles and asset types are required")
	}
	if _, err := m.store.GetPainPoint(req.PainPointID); err != nil {
		return fmt.Errorf("pain point %s: %w", req.PainPointID, err)
	}
	for _, id := range req.VoiceProfileIDs {
		if _, err := m.store.GetVoiceProfile(id); err != nil {
			return fmt.Errorf("voice profile %s: %w", id, err)
		}
	}
	for _, at := range req.AssetTypes {
		if err := m.assets.Validate(at); err != nil {
			return err
		}
	}
	return nil
}

// Retry moves a failed job back to pending, clearing its error.
func (m *Manager) Retry(id string) (storage.GenerationJob, error) {
	job, err := m.store.GetGenerationJob(id)
	if err != nil {
		return storage.GenerationJob{}, err
	}
	if err := Transition(m.store, id, job.Status, storage.JobPending, "", ""); err != nil {
		return storage.GenerationJob{}, err
	}
	m.logger.Info("generation job requeued", "job_id", id, "attempts", job.Attempts)
	return m.store.GetGenerationJob(id)
}

// RecoverStale returns running jobs that have not reported progress within
// staleAfter to the queue.
func (m *Manager) RecoverStale(staleAfter time.Duration) (int, error) {
	n, err := m.store.RequeueStaleGenerationJobs(m.now().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("requeueing stale jobs: %w", err)
	}
	if n > 0 {
		m.logger.Warn("requeued stale generation jobs", "count", n)
		telemetry.JobTransitions.WithLabelValues(storage.JobPending).Add(float64(n))
	}
	return n, nil
}
