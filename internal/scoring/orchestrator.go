package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/msgforge/internal/engine"
	"github.com/kalambet/msgforge/internal/gate"
	"github.com/kalambet/msgforge/internal/retry"
	"github.com/kalambet/msgforge/internal/storage"
	"github.com/kalambet/msgforge/internal/telemetry"
)

// Fallback is the neutral score substituted for a failed scorer.
const Fallback = 5.0

// Dimensions lists the five scored dimensions in reporting order.
var Dimensions = []string{gate.DimSlop, gate.DimVendorSpeak, gate.DimAuthenticity, gate.DimSpecificity, gate.DimPersona}

const defaultTimeout = 45 * time.Second

// Result is a complete, gate-evaluable score set.
type Result struct {
	Scores gate.Scores
	Health storage.ScorerHealth
}

// Orchestrator runs one scorer per dimension concurrently, each under its
// own timeout. It never returns an error.
type Orchestrator struct {
	scorers map[string]Scorer
	timeout time.Duration
	logger  *slog.Logger
}

// NewOrchestrator registers scorers by Name. A dimension with no scorer is
// reported as failed on every run.
func NewOrchestrator(timeout time.Duration, scorers ...Scorer) *Orchestrator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	m := make(map[string]Scorer, len(scorers))
	for _, s := range scorers {
		m[s.Name()] = s
	}
	return &Orchestrator{scorers: m, timeout: timeout, logger: slog.Default()}
}

// NewDefault wires the standard five scorers against e.
func NewDefault(e engine.Engine, timeout time.Duration, personas []Persona) *Orchestrator {
	return NewOrchestrator(timeout,
		NewSlopScorer(),
		NewVendorSpeakScorer(),
		NewSpecificityScorer(),
		NewAuthenticityScorer(e),
		NewPersonaCommittee(e, personas),
	)
}

// Score evaluates in on every dimension. Scorers that error, panic or time
// out get Fallback and are listed in Health.Failed.
func (o *Orchestrator) Score(ctx context.Context, in Input) Result {
	values := make([]float64, len(Dimensions))
	errs := make([]error, len(Dimensions))

	var g errgroup.Group
	for i, dim := range Dimensions {
		g.Go(func() error {
			values[i], errs[i] = o.runOne(ctx, dim, in)
			return nil
		})
	}
	g.Wait()

	res := Result{Health: storage.ScorerHealth{Failed: []string{}, Total: len(Dimensions)}}
	for i, dim := range Dimensions {
		v := values[i]
		if errs[i] != nil {
			o.logger.Warn("scorer failed, using fallback", "scorer", dim, "error", errs[i])
			telemetry.ScorerFailures.WithLabelValues(dim).Inc()
			res.Health.Failed = append(res.Health.Failed, dim)
			v = Fallback
		} else {
			res.Health.Succeeded++
		}
		v = clamp(v)
		switch dim {
		case gate.DimSlop:
			res.Scores.Slop = v
		case gate.DimVendorSpeak:
			res.Scores.VendorSpeak = v
		case gate.DimAuthenticity:
			res.Scores.Authenticity = v
		case gate.DimSpecificity:
			res.Scores.Specificity = v
		case gate.DimPersona:
			res.Scores.PersonaAvg = v
		}
	}
	return res
}

func (o *Orchestrator) runOne(ctx context.Context, dim string, in Input) (float64, error) {
	s, ok := o.scorers[dim]
	if !ok {
		return 0, fmt.Errorf("no scorer registered for %s", dim)
	}
	return retry.WithTimeout(ctx, o.timeout, "scorer "+dim, func(ctx context.Context) (v float64, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("scorer %s panicked: %v\n%s", dim, r, debug.Stack())
			}
		}()
		return s.Score(ctx, in)
	})
}
