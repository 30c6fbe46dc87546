package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"

	"github.com/kalambet/msgforge/internal/api"
	"github.com/kalambet/msgforge/internal/config"
	"github.com/kalambet/msgforge/internal/engine"
	"github.com/kalambet/msgforge/internal/gate"
	"github.com/kalambet/msgforge/internal/jobs"
	"github.com/kalambet/msgforge/internal/ratelimit"
	"github.com/kalambet/msgforge/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestClientCall(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /jobs": `{"id":"job-1","status":"pending"}`,
	})

	var job storage.GenerationJob
	err := ts.client().call(ctx, http.MethodPost, "/jobs", map[string]any{
		"pain_point_id":     "pp1",
		"voice_profile_ids": splitList("v1, v2"),
		"asset_types":       splitList("battlecard"),
	}, &job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ID != "job-1" || job.Status != storage.JobPending {
		t.Errorf("job = %+v", job)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/jobs" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if voices, _ := body["voice_profile_ids"].([]any); len(voices) != 2 || voices[1] != "v2" {
		t.Errorf("voice_profile_ids = %v", body["voice_profile_ids"])
	}
}

func TestClientCall_ErrorMessage(t *testing.T) {
	ts := newTestServer(t, nil)

	err := ts.client().call(ctx, http.MethodGet, "/jobs/missing", nil, nil)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if got := err.Error(); got != "server returned 404: not found" {
		t.Errorf("error = %q", got)
	}
}

func TestClientCall_Unreachable(t *testing.T) {
	c := &apiClient{baseURL: "http://127.0.0.1:1", token: "t", httpClient: &http.Client{Timeout: time.Second}}
	err := c.call(ctx, http.MethodGet, "/health", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "is msgforge running") {
		t.Errorf("error = %v", err)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{" a , b,,c ", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		got := splitList(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReferenceRequest(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "pricing.html")
	os.WriteFile(htmlPath, []byte(`<html><head><script>x()</script></head><body><h1>Pricing</h1><p>Team plan is $20/seat.</p></body></html>`), 0o644)
	emptyPath := filepath.Join(dir, "empty.txt")
	os.WriteFile(emptyPath, []byte("   "), 0o644)

	body, err := referenceRequest("", "", "", htmlPath, "pricing, plans")
	if err != nil {
		t.Fatalf("html: %v", err)
	}
	content := body["content"].(string)
	if !strings.Contains(content, "Team plan is $20/seat.") || strings.Contains(content, "x()") || strings.Contains(content, "<p>") {
		t.Errorf("content = %q", content)
	}
	if body["name"] != "pricing.html" {
		t.Errorf("name = %v, want file base name", body["name"])
	}
	if tags := body["tags"].([]string); len(tags) != 2 || tags[1] != "plans" {
		t.Errorf("tags = %v", tags)
	}

	if _, err := referenceRequest("", "", "", emptyPath, ""); err == nil {
		t.Error("empty file should be rejected")
	}
	if _, err := referenceRequest("", "", "some text", "", ""); err == nil {
		t.Error("--text without --name should be rejected")
	}
	if _, err := referenceRequest("x", "", "", "", ""); err == nil {
		t.Error("missing --text and --file should be rejected")
	}
}

func TestChangedThresholds(t *testing.T) {
	cmd := &cobra.Command{Use: "add"}
	for flag := range thresholdFlags {
		cmd.Flags().Float64(flag, 0, "")
	}
	if err := cmd.Flags().Parse([]string{"--slop-max", "3", "--persona-min=7.5"}); err != nil {
		t.Fatal(err)
	}

	got := changedThresholds(cmd)
	if len(got) != 2 || got["slop_max"] != 3 || got["persona_min"] != 7.5 {
		t.Errorf("changedThresholds = %v", got)
	}
}

func TestVariantRows(t *testing.T) {
	list := api.VariantList{
		Variants: []api.VariantView{
			{Variant: storage.Variant{ID: "a", VoiceProfileID: "v1", AssetType: "email", Scores: gate.Scores{Slop: 9}, ReviewStatus: "pending"},
				Passes: false, Failures: []string{gate.DimSlop, gate.DimPersona}},
			{Variant: storage.Variant{ID: "b", VoiceProfileID: "v1", AssetType: "email", VariantIndex: 1, ReviewStatus: "selected"}, Passes: true},
		},
		Best: []api.CellBest{{VoiceProfileID: "v1", AssetType: "email", VariantID: "b", Passes: true}},
	}

	rows := variantRows(list, false)
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0][9] != "fail: slop,persona" || rows[0][10] != "" {
		t.Errorf("failing row = %v", rows[0])
	}
	if rows[1][9] != "pass" || rows[1][10] != "*" || rows[1][11] != "selected" {
		t.Errorf("best row = %v", rows[1])
	}

	if rows := variantRows(list, true); len(rows) != 1 || rows[0][0] != "b" {
		t.Errorf("passing only = %v", rows)
	}
}

func TestWaitForJob(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := storage.JobRunning
		if calls >= 3 {
			status = storage.JobCompleted
		}
		json.NewEncoder(w).Encode(storage.GenerationJob{ID: "j1", Status: status})
	}))
	defer srv.Close()

	c := &apiClient{baseURL: srv.URL, token: "t", httpClient: srv.Client()}
	job, err := waitForJob(ctx, c, "j1", time.Millisecond)
	if err != nil {
		t.Fatalf("waitForJob: %v", err)
	}
	if job.Status != storage.JobCompleted || calls != 3 {
		t.Errorf("status=%s calls=%d", job.Status, calls)
	}
}

func TestWaitForAction_ReportsProgressChanges(t *testing.T) {
	states := []storage.ActionJob{
		{Status: storage.ActionRunning, Progress: 10, CurrentStep: "loading"},
		{Status: storage.ActionRunning, Progress: 10, CurrentStep: "loading"},
		{Status: storage.ActionRunning, Progress: 30, CurrentStep: "rewriting"},
		{Status: storage.ActionCompleted, Progress: 100},
	}
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(states[min(calls, len(states)-1)])
		calls++
	}))
	defer srv.Close()

	var seen []int
	c := &apiClient{baseURL: srv.URL, token: "t", httpClient: srv.Client()}
	job, err := waitForAction(ctx, c, "a1", time.Millisecond, func(j storage.ActionJob) { seen = append(seen, j.Progress) })
	if err != nil {
		t.Fatalf("waitForAction: %v", err)
	}
	if job.Status != storage.ActionCompleted {
		t.Errorf("status = %s", job.Status)
	}
	if len(seen) != 2 || seen[0] != 10 || seen[1] != 30 {
		t.Errorf("progress callbacks = %v, want [10 30]", seen)
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	stdout = &buf
	noColor = true
	t.Cleanup(func() { stdout = os.Stdout; noColor = false })

	printTable([]string{"ID", "NAME"}, [][]string{{"1", "blunt"}, {"22", "engineer"}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[2], "22  engineer") {
		t.Errorf("table = %q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("a  long\nmultiline title", 8); got != "a long …" {
		t.Errorf("got %q", got)
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Server.APIToken = "tok"
	cfg.Generation.BaseTemperature = 0.7
	cfg.Retry.MaxRetries = 1
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.RateLimit.MaxRequests = 10
	cfg.RateLimit.Window = time.Minute
	cfg.Scoring.Timeout = time.Second
	cfg.Jobs.PollInterval = 10 * time.Millisecond
	cfg.Jobs.StaleAfter = time.Minute
	cfg.Discovery.PollInterval = time.Minute
	return cfg
}

type stubEngine struct{}

func (stubEngine) Generate(context.Context, string, engine.GenerateOptions) (string, error) {
	return `{"score": 8}`, nil
}

func (stubEngine) Name() string { return "stub" }

func TestBuildServices(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := testConfig(t)
	svc := buildServices(cfg, store, stubEngine{}, ratelimit.NewSlidingWindow(10, time.Minute))
	if svc.schedules != nil {
		t.Error("discovery should be disabled without an endpoint")
	}
	if names := svc.actions.Names(); len(names) != 1 || names[0] != "polish" {
		t.Errorf("actions = %v", names)
	}

	rr := httptest.NewRecorder()
	svc.handler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if !strings.Contains(rr.Body.String(), `"engine":"stub"`) {
		t.Errorf("health = %s", rr.Body.String())
	}

	cfg.Discovery.Endpoint = "http://127.0.0.1:1/discover"
	if svc := buildServices(cfg, store, stubEngine{}, ratelimit.NewSlidingWindow(10, time.Minute)); svc.schedules == nil {
		t.Error("discovery endpoint should enable the schedule runner")
	}
}

func TestBuildServices_GeneratesEndToEnd(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	store.SavePainPoint(storage.PainPoint{ID: "pp1", Title: "Deploys take 40 minutes"})
	store.SaveVoiceProfile(storage.VoiceProfile{ID: "v1", Name: "direct", Thresholds: gate.DefaultThresholds()})

	svc := buildServices(testConfig(t), store, stubEngine{}, ratelimit.NewSlidingWindow(100, time.Minute))
	job, err := svc.jobs.Enqueue(jobs.Request{PainPointID: "pp1", VoiceProfileIDs: []string{"v1"}, AssetTypes: []string{"battlecard"}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if ok, err := svc.worker.RunOnce(ctx); !ok || err != nil {
		t.Fatalf("RunOnce = %v, %v", ok, err)
	}

	got, err := store.GetGenerationJob(job.ID)
	if err != nil || got.Status != storage.JobCompleted {
		t.Fatalf("job = %+v, err = %v", got, err)
	}
	variants, err := store.ListVariantsByJob(job.ID)
	if err != nil || len(variants) != 2 {
		t.Errorf("variants = %d, err = %v", len(variants), err)
	}
}

func TestNewLimiter(t *testing.T) {
	l, closeFn, err := newLimiter(ctx, config.RateLimitConfig{MaxRequests: 2, Window: time.Minute})
	if err != nil {
		t.Fatalf("in-process: %v", err)
	}
	closeFn()
	if _, ok := l.(*ratelimit.SlidingWindow); !ok {
		t.Errorf("limiter = %T, want *ratelimit.SlidingWindow", l)
	}

	mr := miniredis.RunT(t)
	l, closeFn, err = newLimiter(ctx, config.RateLimitConfig{MaxRequests: 2, Window: time.Minute, RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer closeFn()
	if _, ok := l.(*ratelimit.RedisWindow); !ok {
		t.Errorf("limiter = %T, want *ratelimit.RedisWindow", l)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Errorf("Acquire: %v", err)
	}

	if _, _, err := newLimiter(ctx, config.RateLimitConfig{MaxRequests: 1, Window: time.Second, RedisAddr: "127.0.0.1:1"}); err == nil {
		t.Error("unreachable redis should fail")
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retry.MaxDelay = 3 * time.Second
	p := retryPolicy(cfg)
	if p.MaxRetries != 1 || p.BaseDelay != time.Millisecond || p.MaxDelay != 3*time.Second || p.OnRetry == nil {
		t.Errorf("policy = %+v", p)
	}
}
