package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/msgforge/internal/ollama"
	"github.com/kalambet/msgforge/internal/proxy"
)

type mockEngine struct {
	generateFn func(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

func (m *mockEngine) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return m.generateFn(ctx, prompt, opts)
}

func (m *mockEngine) Name() string { return "mock" }

func TestOllamaEngine_Generate(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "draft"},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL, "mistral-nemo")
	out, err := e.Generate(context.Background(), "write a battlecard", GenerateOptions{System: "voice", Temperature: 0.8, JSON: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "draft" {
		t.Errorf("got %q, want draft", out)
	}

	msgs, _ := captured["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want system + user", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
	if captured["format"] != "json" {
		t.Errorf("format = %v, want json", captured["format"])
	}
	if captured["model"] != "mistral-nemo" {
		t.Errorf("model = %v", captured["model"])
	}
}

func TestOpenRouterEngine_Generate(t *testing.T) {
	var captured proxy.CompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`)
	}))
	defer srv.Close()

	e := NewOpenRouterEngine(proxy.NewClientWithBaseURL("k", srv.URL), "anthropic/claude-sonnet-4")
	out, err := e.Generate(context.Background(), "hi", GenerateOptions{Temperature: 0.7})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello" {
		t.Errorf("got %q", out)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Errorf("no system prompt should mean a single user message, got %+v", captured.Messages)
	}
	if captured.ResponseFormat != nil {
		t.Error("response_format should be unset for plain generation")
	}
}

func TestOpenRouterEngine_Check(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(proxy.ModelList{Data: []proxy.Model{{ID: "anthropic/claude-sonnet-4"}}})
	}))
	defer srv.Close()

	client := proxy.NewClientWithBaseURL("k", srv.URL)
	if err := EnsureReady(context.Background(), NewOpenRouterEngine(client, "anthropic/claude-sonnet-4"), io.Discard); err != nil {
		t.Errorf("EnsureReady: %v", err)
	}
	if err := EnsureReady(context.Background(), NewOpenRouterEngine(client, "missing/model"), io.Discard); err == nil {
		t.Error("expected error for unlisted model")
	}
}

func TestEnsureReady_NoChecker(t *testing.T) {
	m := &mockEngine{}
	if err := EnsureReady(context.Background(), m, io.Discard); err != nil {
		t.Errorf("engine without a check should be ready, got %v", err)
	}
}

func TestNew(t *testing.T) {
	if e, err := New(ProviderConfig{Provider: "ollama", OllamaBaseURL: "http://localhost:11434", OllamaModel: "m"}); err != nil {
		t.Errorf("ollama: %v", err)
	} else if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("New returned %T, want *OllamaEngine", e)
	}

	if _, err := New(ProviderConfig{Provider: "openrouter"}); err == nil {
		t.Error("openrouter without key should fail")
	}
	if e, _ := New(ProviderConfig{Provider: "openrouter", OpenRouterAPIKey: "k", OpenRouterModel: "m"}); e == nil || e.Name() != "openrouter/m" {
		t.Errorf("unexpected engine %v", e)
	}
	if _, err := New(ProviderConfig{Provider: "mlx"}); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"proxy 429", &proxy.StatusError{Status: 429}, true},
		{"proxy 503 wrapped", fmt.Errorf("generating: %w", &proxy.StatusError{Status: 503}), true},
		{"proxy 400", &proxy.StatusError{Status: 400}, false},
		{"ollama 500", &ollama.StatusError{Status: 500}, true},
		{"ollama 404", &ollama.StatusError{Status: 404}, false},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"truncated", io.ErrUnexpectedEOF, true},
		{"cancelled", context.Canceled, false},
		{"parse", fmt.Errorf("%w: bad", ErrParse), false},
		{"plain", errors.New("unknown"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare", `{"score": 7}`, `{"score": 7}`, false},
		{"fenced", "```json\n{\"score\": 4}\n```", `{"score": 4}`, false},
		{"filler", `Sure! Here you go: {"score": 9} hope that helps`, `{"score": 9}`, false},
		{"none", "no json here", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateStructured_RetriesMalformed(t *testing.T) {
	calls := 0
	m := &mockEngine{generateFn: func(_ context.Context, prompt string, opts GenerateOptions) (string, error) {
		calls++
		if !opts.JSON {
			t.Error("structured generation should request JSON")
		}
		if calls < 3 {
			return "I think it's about a seven", nil
		}
		return `{"score": 7}`, nil
	}}

	var out struct {
		Score float64 `json:"score"`
	}
	if err := GenerateStructured(context.Background(), m, "rate", StructuredOptions{MaxParseRetries: 2}, &out); err != nil {
		t.Fatalf("GenerateStructured: %v", err)
	}
	if out.Score != 7 || calls != 3 {
		t.Errorf("score=%v calls=%d, want 7 and 3", out.Score, calls)
	}
}

func TestGenerateStructured_ErrParse(t *testing.T) {
	calls := 0
	m := &mockEngine{generateFn: func(context.Context, string, GenerateOptions) (string, error) {
		calls++
		return "nope", nil
	}}
	var out map[string]any
	err := GenerateStructured(context.Background(), m, "rate", StructuredOptions{MaxParseRetries: 1}, &out)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestGenerateStructured_GeneratorErrorNotRetried(t *testing.T) {
	calls := 0
	boom := errors.New("connection reset")
	m := &mockEngine{generateFn: func(context.Context, string, GenerateOptions) (string, error) {
		calls++
		return "", boom
	}}
	var out map[string]any
	err := GenerateStructured(context.Background(), m, "rate", StructuredOptions{MaxParseRetries: 3}, &out)
	if !errors.Is(err, boom) || calls != 1 {
		t.Errorf("err=%v calls=%d, want boom after 1 call", err, calls)
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("error = %q", err)
	}
}
