package scoring

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/msgforge/internal/engine"
	"github.com/kalambet/msgforge/internal/gate"
	"github.com/kalambet/msgforge/internal/proxy"
	"github.com/kalambet/msgforge/internal/retry"
)

type mockEngine struct {
	generateFn func(ctx context.Context, prompt string, opts engine.GenerateOptions) (string, error)
}

func (m *mockEngine) Generate(ctx context.Context, prompt string, opts engine.GenerateOptions) (string, error) {
	return m.generateFn(ctx, prompt, opts)
}

func (m *mockEngine) Name() string { return "mock" }

func failing(name string) Scorer {
	return ScorerFunc{ScorerName: name, Fn: func(context.Context, Input) (float64, error) {
		return 0, errors.New(name + " down")
	}}
}

func fixed(name string, v float64) Scorer {
	return ScorerFunc{ScorerName: name, Fn: func(context.Context, Input) (float64, error) { return v, nil }}
}

func TestOrchestrator_AllScorersFail(t *testing.T) {
	o := NewOrchestrator(time.Second,
		failing(gate.DimSlop), failing(gate.DimVendorSpeak), failing(gate.DimAuthenticity),
		failing(gate.DimSpecificity), failing(gate.DimPersona))

	res := o.Score(context.Background(), Input{Content: "anything"})

	want := gate.Scores{Slop: 5, VendorSpeak: 5, Authenticity: 5, Specificity: 5, PersonaAvg: 5}
	if res.Scores != want {
		t.Errorf("scores = %+v, want all 5", res.Scores)
	}
	if res.Health.Succeeded != 0 || res.Health.Total != 5 {
		t.Errorf("health = %+v, want {0, _, 5}", res.Health)
	}
	if !reflect.DeepEqual(res.Health.Failed, Dimensions) {
		t.Errorf("failed = %v, want %v", res.Health.Failed, Dimensions)
	}
}

func TestOrchestrator_PanicAndTimeoutIsolated(t *testing.T) {
	panicky := ScorerFunc{ScorerName: gate.DimSlop, Fn: func(context.Context, Input) (float64, error) {
		panic("lexicon exploded")
	}}
	slow := ScorerFunc{ScorerName: gate.DimPersona, Fn: func(ctx context.Context, _ Input) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}}
	o := NewOrchestrator(50*time.Millisecond,
		panicky, fixed(gate.DimVendorSpeak, 1), fixed(gate.DimAuthenticity, 8), fixed(gate.DimSpecificity, 7), slow)

	res := o.Score(context.Background(), Input{Content: "x"})

	want := gate.Scores{Slop: 5, VendorSpeak: 1, Authenticity: 8, Specificity: 7, PersonaAvg: 5}
	if res.Scores != want {
		t.Errorf("scores = %+v, want %+v", res.Scores, want)
	}
	if res.Health.Succeeded != 3 || !reflect.DeepEqual(res.Health.Failed, []string{gate.DimSlop, gate.DimPersona}) {
		t.Errorf("health = %+v", res.Health)
	}
}

func TestOrchestrator_ClampsAndMissingScorer(t *testing.T) {
	o := NewOrchestrator(time.Second,
		fixed(gate.DimSlop, -3), fixed(gate.DimVendorSpeak, 42), fixed(gate.DimAuthenticity, 6), fixed(gate.DimSpecificity, 6))

	res := o.Score(context.Background(), Input{})
	if res.Scores.Slop != 0 || res.Scores.VendorSpeak != 10 {
		t.Errorf("scores not clamped: %+v", res.Scores)
	}
	if res.Scores.PersonaAvg != Fallback || !reflect.DeepEqual(res.Health.Failed, []string{gate.DimPersona}) {
		t.Errorf("missing persona scorer should fall back: %+v", res)
	}
}

func TestOrchestrator_RunsConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	mk := func(name string) Scorer {
		return ScorerFunc{ScorerName: name, Fn: func(context.Context, Input) (float64, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			inFlight.Add(-1)
			return 5, nil
		}}
	}
	var scorers []Scorer
	for _, d := range Dimensions {
		scorers = append(scorers, mk(d))
	}
	NewOrchestrator(time.Second, scorers...).Score(context.Background(), Input{})
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want scorers to overlap", peak.Load())
	}
}

func TestSlopScorer(t *testing.T) {
	s := NewSlopScorer()
	clean, _ := s.Score(context.Background(), Input{Content: "Our nightly job took 40 minutes because the cache key changed on every commit."})
	sloppy, _ := s.Score(context.Background(), Input{Content: "In today's fast-paced world, it's important to note that we must delve into the ever-evolving tapestry. Let's dive in."})
	empty, _ := s.Score(context.Background(), Input{})

	if clean != 0 {
		t.Errorf("clean text scored %v, want 0", clean)
	}
	if sloppy < 8 {
		t.Errorf("sloppy text scored %v, want >= 8", sloppy)
	}
	if empty != 0 {
		t.Errorf("empty text scored %v", empty)
	}
}

func TestVendorSpeakScorer(t *testing.T) {
	s := NewVendorSpeakScorer()
	v, _ := s.Score(context.Background(), Input{Content: "Leverage our seamless, cutting-edge, best-in-class platform to revolutionize DevOps."})
	if v != 10 {
		t.Errorf("buzzword soup scored %v, want 10", v)
	}
	v, _ = s.Score(context.Background(), Input{Content: "Helm rollbacks fail when a CRD changed between releases."})
	if v != 0 {
		t.Errorf("plain text scored %v, want 0", v)
	}
}

func TestSpecificityScorer(t *testing.T) {
	s := NewSpecificityScorer()
	vague, _ := s.Score(context.Background(), Input{Content: "Teams often struggle with their processes and want things to be better overall."})
	concrete, _ := s.Score(context.Background(), Input{
		Content:    "Our p99 went from 900ms to 120ms after moving the `pgbouncer` pool to 40 connections and setting --max-client-conn in pgbouncer.ini on 3 nodes. PostgreSQL stopped timing out.",
		References: []string{"pgbouncer connection pooling for postgresql timing"},
	})
	if vague >= concrete {
		t.Errorf("vague=%v concrete=%v, want concrete higher", vague, concrete)
	}
	if concrete < 5 {
		t.Errorf("concrete text scored %v, want >= 5", concrete)
	}
}

func TestAuthenticityScorer(t *testing.T) {
	e := &mockEngine{generateFn: func(_ context.Context, prompt string, opts engine.GenerateOptions) (string, error) {
		if !strings.Contains(prompt, "the draft") || !opts.JSON {
			t.Errorf("unexpected request: %q %+v", prompt, opts)
		}
		return "```json\n{\"score\": 7.5}\n```", nil
	}}
	v, err := NewAuthenticityScorer(e).Score(context.Background(), Input{Content: "the draft"})
	if err != nil || v != 7.5 {
		t.Errorf("got %v, %v; want 7.5", v, err)
	}
}

func TestAuthenticityScorer_MissingScoreIsParseError(t *testing.T) {
	e := &mockEngine{generateFn: func(context.Context, string, engine.GenerateOptions) (string, error) {
		return `{"rating": 3}`, nil
	}}
	_, err := NewAuthenticityScorer(e).Score(context.Background(), Input{Content: "x"})
	if !errors.Is(err, engine.ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestPersonaCommittee_AveragesSucceeded(t *testing.T) {
	e := &mockEngine{generateFn: func(_ context.Context, _ string, opts engine.GenerateOptions) (string, error) {
		switch {
		case strings.Contains(opts.System, "alpha"):
			return `{"score": 8}`, nil
		case strings.Contains(opts.System, "beta"):
			return `{"score": 4}`, nil
		default:
			return "", errors.New("critic down")
		}
	}}
	c := NewPersonaCommittee(e, []Persona{{"a", "alpha"}, {"b", "beta"}, {"c", "gamma"}})
	v, err := c.Score(context.Background(), Input{Content: "x"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if v != 6 {
		t.Errorf("average = %v, want 6 (mean of succeeded critics)", v)
	}
}

func TestPersonaCommittee_FailsWhenEmptyOrAllFail(t *testing.T) {
	e := &mockEngine{generateFn: func(context.Context, string, engine.GenerateOptions) (string, error) {
		return "", errors.New("down")
	}}
	if _, err := NewPersonaCommittee(e, nil).Score(context.Background(), Input{}); err == nil {
		t.Error("empty committee should fail")
	}
	if _, err := NewPersonaCommittee(e, DefaultPersonas).Score(context.Background(), Input{}); err == nil {
		t.Error("committee with no successful critic should fail")
	}
}

type countingLimiter struct{ acquired atomic.Int32 }

func (l *countingLimiter) Acquire(context.Context) error {
	l.acquired.Add(1)
	return nil
}
func (l *countingLimiter) Reset()       {}
func (l *countingLimiter) Waiting() int { return 0 }

func TestAuthenticity_RateLimitedCriticIsRetried(t *testing.T) {
	var calls atomic.Int32
	m := &mockEngine{generateFn: func(context.Context, string, engine.GenerateOptions) (string, error) {
		if calls.Add(1) == 1 {
			return "", &proxy.StatusError{Status: 429}
		}
		return `{"score": 8}`, nil
	}}
	lim := &countingLimiter{}
	guarded := engine.NewGuarded(m, lim, retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond})

	res := NewOrchestrator(time.Second, NewAuthenticityScorer(guarded)).Score(context.Background(), Input{Content: "draft"})
	if res.Scores.Authenticity != 8 {
		t.Errorf("authenticity = %v, want 8", res.Scores.Authenticity)
	}
	if slices.Contains(res.Health.Failed, gate.DimAuthenticity) {
		t.Errorf("authenticity reported failed: %+v", res.Health)
	}
	if calls.Load() != 2 || lim.acquired.Load() != 2 {
		t.Errorf("calls=%d acquired=%d, want 2 and 2", calls.Load(), lim.acquired.Load())
	}
}
