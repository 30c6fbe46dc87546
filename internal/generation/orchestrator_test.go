package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/msgforge/internal/composer"
	"github.com/kalambet/msgforge/internal/engine"
	"github.com/kalambet/msgforge/internal/gate"
	"github.com/kalambet/msgforge/internal/proxy"
	"github.com/kalambet/msgforge/internal/ratelimit"
	"github.com/kalambet/msgforge/internal/retry"
	"github.com/kalambet/msgforge/internal/scoring"
	"github.com/kalambet/msgforge/internal/storage"
	"github.com/kalambet/msgforge/internal/templates"
)

type mockEngine struct {
	generateFn func(ctx context.Context, prompt string, opts engine.GenerateOptions) (string, error)
}

func (m *mockEngine) Generate(ctx context.Context, prompt string, opts engine.GenerateOptions) (string, error) {
	return m.generateFn(ctx, prompt, opts)
}

func (m *mockEngine) Name() string { return "mock" }

type mockScorer struct {
	scoreFn func(ctx context.Context, in scoring.Input) scoring.Result
}

func (m *mockScorer) Score(ctx context.Context, in scoring.Input) scoring.Result {
	return m.scoreFn(ctx, in)
}

func passingScores() scoring.Result {
	return scoring.Result{
		Scores: gate.Scores{Slop: 1, VendorSpeak: 1, Authenticity: 8, Specificity: 8, PersonaAvg: 8},
		Health: storage.ScorerHealth{Succeeded: 5, Failed: []string{}, Total: 5},
	}
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seed stores one pain point, two voice profiles and a reference doc, and
// returns a job covering both voices and the given asset types.
func seed(t *testing.T, s *storage.Store, assetTypes ...string) storage.GenerationJob {
	t.Helper()
	if err := s.SavePainPoint(storage.PainPoint{
		ID:       "pp1",
		Title:    "Deploys take forty minutes",
		Content:  "Our CI pipeline blocks releases for 40 minutes on every merge.",
		Keywords: []string{"ci"},
	}); err != nil {
		t.Fatalf("SavePainPoint: %v", err)
	}
	for _, id := range []string{"v1", "v2"} {
		if err := s.SaveVoiceProfile(storage.VoiceProfile{ID: id, Name: "voice-" + id, Guide: "Plain.", Thresholds: gate.DefaultThresholds()}); err != nil {
			t.Fatalf("SaveVoiceProfile: %v", err)
		}
	}
	if err := s.SaveReferenceDoc(storage.ReferenceDoc{ID: "d1", Name: "CI benchmarks", Content: "Median pipeline 12 minutes.", Tags: []string{"ci"}}); err != nil {
		t.Fatalf("SaveReferenceDoc: %v", err)
	}
	job := storage.GenerationJob{ID: "job1", PainPointID: "pp1", VoiceProfileIDs: []string{"v1", "v2"}, AssetTypes: assetTypes}
	if err := s.EnqueueGenerationJob(job); err != nil {
		t.Fatalf("EnqueueGenerationJob: %v", err)
	}
	return job
}

func newTestOrchestrator(s *storage.Store, eng engine.Engine, sc Scorer) *Orchestrator {
	return New(s, eng, ratelimit.NewSlidingWindow(100, time.Minute), sc,
		templates.NewLoader(""), composer.New(0), Config{
			BaseTemperature: 0.7,
			Retry:           retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		})
}

func TestRun_GeneratesEveryCell(t *testing.T) {
	s := openTestStore(t)
	job := seed(t, s, "battlecard", "social_hook")

	var mu sync.Mutex
	temps := map[float64]int{}
	var sawSystem atomic.Bool
	eng := &mockEngine{generateFn: func(ctx context.Context, prompt string, opts engine.GenerateOptions) (string, error) {
		mu.Lock()
		temps[opts.Temperature]++
		mu.Unlock()
		if strings.Contains(opts.System, "CI benchmarks") {
			sawSystem.Store(true)
		}
		return "Cut the 40 minute pipeline to 12.", nil
	}}
	o := newTestOrchestrator(s, eng, &mockScorer{scoreFn: func(ctx context.Context, in scoring.Input) scoring.Result {
		if len(in.References) != 1 {
			t.Errorf("expected 1 reference, got %d", len(in.References))
		}
		return passingScores()
	}})

	sum, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Generated != 8 || sum.Passed != 8 || sum.Failed != 0 || len(sum.Errors) != 0 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if temps[0.7] != 4 || temps[0.7+temperatureStep] != 4 {
		t.Errorf("unexpected temperature spread %v", temps)
	}
	if !sawSystem.Load() {
		t.Error("system prompt did not include the selected reference doc")
	}

	variants, err := s.ListVariantsByJob(job.ID)
	if err != nil {
		t.Fatalf("ListVariantsByJob: %v", err)
	}
	if len(variants) != 8 {
		t.Fatalf("expected 8 stored variants, got %d", len(variants))
	}
	for _, v := range variants {
		if v.ReviewStatus != storage.ReviewPending || v.Health.Total != 5 {
			t.Errorf("unexpected stored variant %+v", v)
		}
	}
}

func TestRun_RetriesTransientErrors(t *testing.T) {
	s := openTestStore(t)
	job := seed(t, s, "battlecard")

	var limited atomic.Int32
	eng := &mockEngine{generateFn: func(ctx context.Context, prompt string, opts engine.GenerateOptions) (string, error) {
		// The first variant is rate limited twice before it goes through.
		if opts.Temperature == 0.7 && limited.Add(1) <= 2 {
			return "", &proxy.StatusError{Status: 429, Body: "slow down"}
		}
		return "ok", nil
	}}
	o := newTestOrchestrator(s, eng, &mockScorer{scoreFn: func(context.Context, scoring.Input) scoring.Result { return passingScores() }})

	sum, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Generated != 4 || len(sum.Errors) != 0 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if got := limited.Load(); got != 4 {
		t.Errorf("expected 4 calls at the base temperature, got %d", got)
	}
}

func TestRun_NonTransientErrorNotRetried(t *testing.T) {
	s := openTestStore(t)
	job := seed(t, s, "battlecard")

	var calls atomic.Int32
	eng := &mockEngine{generateFn: func(ctx context.Context, prompt string, opts engine.GenerateOptions) (string, error) {
		calls.Add(1)
		if opts.Temperature > 0.75 {
			return "", errors.New("invalid request")
		}
		return "ok", nil
	}}
	o := newTestOrchestrator(s, eng, &mockScorer{scoreFn: func(context.Context, scoring.Input) scoring.Result { return passingScores() }})

	sum, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run should tolerate partial failure: %v", err)
	}
	if sum.Generated != 2 || len(sum.Errors) != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("expected 4 generator calls, got %d", got)
	}
}

func TestRun_AllVariantsFail(t *testing.T) {
	s := openTestStore(t)
	job := seed(t, s, "battlecard")

	eng := &mockEngine{generateFn: func(context.Context, string, engine.GenerateOptions) (string, error) {
		return "", errors.New("model missing")
	}}
	o := newTestOrchestrator(s, eng, &mockScorer{scoreFn: func(context.Context, scoring.Input) scoring.Result { return passingScores() }})

	sum, err := o.Run(context.Background(), job)
	if err == nil {
		t.Fatal("expected error when every variant fails")
	}
	if sum.Generated != 0 || len(sum.Errors) != 4 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestRun_UnknownAssetTypeSkipsCell(t *testing.T) {
	s := openTestStore(t)
	job := seed(t, s, "press_release", "battlecard")

	eng := &mockEngine{generateFn: func(context.Context, string, engine.GenerateOptions) (string, error) {
		return "ok", nil
	}}
	o := newTestOrchestrator(s, eng, &mockScorer{scoreFn: func(context.Context, scoring.Input) scoring.Result { return passingScores() }})

	sum, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Generated != 4 || len(sum.Errors) != 4 {
		t.Errorf("unexpected summary %+v", sum)
	}
	for _, e := range sum.Errors {
		if !strings.Contains(e, "press_release") {
			t.Errorf("error %q does not name the asset type", e)
		}
	}
}

func TestRun_GateOutcomeCounts(t *testing.T) {
	s := openTestStore(t)
	job := seed(t, s, "battlecard")

	eng := &mockEngine{generateFn: func(ctx context.Context, prompt string, opts engine.GenerateOptions) (string, error) {
		if opts.Temperature > 0.75 {
			return "sloppy", nil
		}
		return "clean", nil
	}}
	o := newTestOrchestrator(s, eng, &mockScorer{scoreFn: func(ctx context.Context, in scoring.Input) scoring.Result {
		r := passingScores()
		if in.Content == "sloppy" {
			r.Scores.Slop = 9
		}
		return r
	}})

	sum, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Generated != 4 || sum.Passed != 2 || sum.Failed != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestRun_MissingPainPoint(t *testing.T) {
	s := openTestStore(t)
	o := newTestOrchestrator(s, &mockEngine{}, &mockScorer{})

	_, err := o.Run(context.Background(), storage.GenerationJob{ID: "j", PainPointID: "nope", VoiceProfileIDs: []string{"v"}, AssetTypes: []string{"battlecard"}})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	s := openTestStore(t)
	job := seed(t, s, "battlecard", "one_pager")

	ctx, cancel := context.WithCancel(context.Background())
	eng := &mockEngine{generateFn: func(context.Context, string, engine.GenerateOptions) (string, error) {
		cancel()
		return "ok", nil
	}}
	o := newTestOrchestrator(s, eng, &mockScorer{scoreFn: func(context.Context, scoring.Input) scoring.Result { return passingScores() }})

	if _, err := o.Run(ctx, job); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
