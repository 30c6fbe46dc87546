// Package generation runs a generation job: for every (voice profile,
// asset type) pair it drafts candidate variants, scores them and persists
// the results.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/msgforge/internal/composer"
	"github.com/kalambet/msgforge/internal/engine"
	"github.com/kalambet/msgforge/internal/gate"
	"github.com/kalambet/msgforge/internal/ratelimit"
	"github.com/kalambet/msgforge/internal/retrieval"
	"github.com/kalambet/msgforge/internal/retry"
	"github.com/kalambet/msgforge/internal/scoring"
	"github.com/kalambet/msgforge/internal/storage"
	"github.com/kalambet/msgforge/internal/telemetry"
	"github.com/kalambet/msgforge/internal/templates"
)

const (
	defaultVariantsPerCell = 2
	temperatureStep        = 0.1
)

// Store is the persistence the orchestrator needs.
type Store interface {
	GetPainPoint(id string) (storage.PainPoint, error)
	GetVoiceProfile(id string) (storage.VoiceProfile, error)
	ListReferenceDocs() ([]storage.ReferenceDoc, error)
	SaveVariant(v storage.Variant) error
	TouchGenerationJob(id string) error
}

// Scorer produces a complete score set for a draft.
type Scorer interface {
	Score(ctx context.Context, in scoring.Input) scoring.Result
}

// Config tunes a run.
type Config struct {
	BaseTemperature float64
	VariantsPerCell int
	ReferenceTopK   int
	Retry           retry.Policy
}

// Summary reports the outcome of a run. Generated counts persisted
// variants, split into Passed and Failed by the quality gate. Errors holds
// one entry per variant that could not be produced.
type Summary struct {
	Generated int      `json:"generated"`
	Passed    int      `json:"passed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Orchestrator executes generation jobs.
type Orchestrator struct {
	store     Store
	engine    engine.Engine
	limiter   ratelimit.Limiter
	scorer    Scorer
	templates *templates.Loader
	composer  *composer.Composer
	cfg       Config
	logger    *slog.Logger
}

func New(store Store, eng engine.Engine, limiter ratelimit.Limiter, scorer Scorer, tmpl *templates.Loader, comp *composer.Composer, cfg Config) *Orchestrator {
	if cfg.VariantsPerCell <= 0 {
		cfg.VariantsPerCell = defaultVariantsPerCell
	}
	if cfg.ReferenceTopK <= 0 {
		cfg.ReferenceTopK = 3
	}
	if cfg.Retry.RetryOn == nil {
		cfg.Retry.RetryOn = engine.IsTransient
	}
	return &Orchestrator{
		store:     store,
		engine:    eng,
		limiter:   limiter,
		scorer:    scorer,
		templates: tmpl,
		composer:  comp,
		cfg:       cfg,
		logger:    slog.Default(),
	}
}

// cell is one (voice profile, asset type) pair of a run.
type cell struct {
	voice     storage.VoiceProfile
	assetType string
}

// Run generates, scores and persists every variant of job. Pairs are
// processed in order; variants within a pair run concurrently. A failed
// variant is recorded in Summary.Errors and does not stop the run. Run
// returns an error only when nothing could be generated or ctx is done.
func (o *Orchestrator) Run(ctx context.Context, job storage.GenerationJob) (Summary, error) {
	var sum Summary

	pp, err := o.store.GetPainPoint(job.PainPointID)
	if err != nil {
		return sum, fmt.Errorf("loading pain point %s: %w", job.PainPointID, err)
	}

	docs, err := o.store.ListReferenceDocs()
	if err != nil {
		return sum, fmt.Errorf("loading reference docs: %w", err)
	}
	docs = retrieval.SelectRelevant(docs, retrieval.ExtractKeywords(pp), o.cfg.ReferenceTopK)
	refs := make([]string, len(docs))
	for i, d := range docs {
		refs[i] = d.Content
	}

	tmplData := templates.Data{Title: pp.Title, Content: pp.Content, Keywords: pp.Keywords}

	for _, voiceID := range job.VoiceProfileIDs {
		voice, err := o.store.GetVoiceProfile(voiceID)
		if err != nil {
			msg := fmt.Sprintf("voice %s: %v", voiceID, err)
			o.logger.Warn("skipping voice profile", "job_id", job.ID, "voice_profile_id", voiceID, "error", err)
			for range job.AssetTypes {
				sum.Errors = append(sum.Errors, msg)
			}
			continue
		}
		system := o.composer.System(voice, docs)

		for _, assetType := range job.AssetTypes {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			c := cell{voice: voice, assetType: assetType}
			o.runCell(ctx, job, pp, c, system, tmplData, refs, &sum)

			if err := o.store.TouchGenerationJob(job.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				o.logger.Warn("heartbeat failed", "job_id", job.ID, "error", err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if sum.Generated == 0 && len(sum.Errors) > 0 {
		return sum, fmt.Errorf("all %d variants failed: %s", len(sum.Errors), sum.Errors[0])
	}
	return sum, nil
}

func (o *Orchestrator) runCell(ctx context.Context, job storage.GenerationJob, pp storage.PainPoint, c cell, system string, data templates.Data, refs []string, sum *Summary) {
	logger := o.logger.With("job_id", job.ID, "voice_profile_id", c.voice.ID, "asset_type", c.assetType)

	prompt, err := o.templates.Render(c.assetType, data)
	if err != nil {
		logger.Warn("template unavailable", "error", err)
		for i := 0; i < o.cfg.VariantsPerCell; i++ {
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s/%s#%d: %v", c.voice.Name, c.assetType, i, err))
		}
		return
	}

	var (
		mu         sync.Mutex
		candidates []gate.Candidate
	)
	var g errgroup.Group
	for i := 0; i < o.cfg.VariantsPerCell; i++ {
		g.Go(func() error {
			v, err := o.produce(ctx, job, pp, c, i, system, prompt, refs)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("variant failed", "variant_index", i, "error", err)
				telemetry.GenerationErrors.Inc()
				sum.Errors = append(sum.Errors, fmt.Sprintf("%s/%s#%d: %v", c.voice.Name, c.assetType, i, err))
				return nil
			}
			sum.Generated++
			if gate.Passes(v.Scores, c.voice.Thresholds) {
				sum.Passed++
			} else {
				sum.Failed++
			}
			candidates = append(candidates, gate.Candidate{ID: v.ID, Scores: v.Scores, Thresholds: c.voice.Thresholds})
			return nil
		})
	}
	g.Wait()

	if best := gate.Best(candidates); best >= 0 {
		b := candidates[best]
		logger.Info("cell complete", "variants", len(candidates), "best_variant_id", b.ID,
			"best_passes", gate.Passes(b.Scores, b.Thresholds), "best_rank", gate.Rank(b.Scores))
	}
}

// produce generates, scores and persists one variant.
func (o *Orchestrator) produce(ctx context.Context, job storage.GenerationJob, pp storage.PainPoint, c cell, index int, system, prompt string, refs []string) (storage.Variant, error) {
	temp := o.cfg.BaseTemperature + temperatureStep*float64(index)

	policy := o.cfg.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		o.logger.Debug("retrying generation", "job_id", job.ID, "asset_type", c.assetType,
			"variant_index", index, "attempt", attempt, "delay", delay, "error", err)
	}
	content, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		if err := o.limiter.Acquire(ctx); err != nil {
			return "", retry.Permanent(err)
		}
		return o.engine.Generate(ctx, prompt, engine.GenerateOptions{System: system, Temperature: temp})
	})
	if err != nil {
		return storage.Variant{}, fmt.Errorf("generating: %w", err)
	}

	res := o.scorer.Score(ctx, scoring.Input{Content: content, References: refs})
	passes := gate.Passes(res.Scores, c.voice.Thresholds)
	if passes {
		telemetry.GateOutcomes.WithLabelValues("pass").Inc()
	} else {
		telemetry.GateOutcomes.WithLabelValues("fail").Inc()
		o.logger.Debug("variant below quality gate", "job_id", job.ID, "asset_type", c.assetType,
			"variant_index", index, "failures", gate.Failures(res.Scores, c.voice.Thresholds))
	}

	v := storage.Variant{
		ID:             uuid.NewString(),
		JobID:          job.ID,
		PainPointID:    pp.ID,
		VoiceProfileID: c.voice.ID,
		AssetType:      c.assetType,
		VariantIndex:   index,
		Content:        content,
		Scores:         res.Scores,
		Health:         res.Health,
		ReviewStatus:   storage.ReviewPending,
	}
	if err := o.store.SaveVariant(v); err != nil {
		return storage.Variant{}, fmt.Errorf("saving variant: %w", err)
	}
	telemetry.VariantsGenerated.Inc()
	return v, nil
}
