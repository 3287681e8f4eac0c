package generate

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sitelift/sitelift/internal/domain"
)

const validManifestJSON = `{"files":[{"path":"index.html","content":"<h1>hi</h1>","encoding":"text"}],"commands":[]}`

func newTestGenClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(log, 5*time.Second, 3, WithBaseURL(srv.URL))
	c.retryBase = time.Millisecond
	return c
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestGenerateParsesChatCompletion(t *testing.T) {
	var gotAuth, gotModel string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var payload struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		gotModel = payload.Model
		_ = json.NewEncoder(w).Encode(chatResponse(validManifestJSON))
	})
	c := newTestGenClient(t, handler)

	creds := domain.LLMCredentials{Provider: ProviderOpenAI, Model: "gpt-5-mini", APIKey: "sk-test"}
	manifest, err := c.Generate(context.Background(), creds, "a landing page", nil)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(manifest.Files) != 1 || manifest.Files[0].Path != "index.html" {
		t.Fatalf("unexpected manifest files: %+v", manifest.Files)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotModel != "gpt-5-mini" {
		t.Fatalf("unexpected model %q", gotModel)
	}
}

func TestGenerateExtractsManifestFromProse(t *testing.T) {
	content := "Here is your project:\n```json\n" + validManifestJSON + "\n```\nEnjoy."
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse(content))
	})
	c := newTestGenClient(t, handler)

	creds := domain.LLMCredentials{Provider: ProviderPerplexity, Model: "sonar", APIKey: "pplx-test"}
	manifest, err := c.Generate(context.Background(), creds, "a landing page", nil)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if manifest.Files[0].Path != "index.html" {
		t.Fatalf("unexpected manifest files: %+v", manifest.Files)
	}
}

func TestGenerateRetriesSchemaViolationOnce(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_ = json.NewEncoder(w).Encode(chatResponse("sorry, no JSON today"))
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse(validManifestJSON))
	})
	c := newTestGenClient(t, handler)

	creds := domain.LLMCredentials{Provider: ProviderOpenAI, Model: "gpt-5", APIKey: "sk-test"}
	manifest, err := c.Generate(context.Background(), creds, "a landing page", nil)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly one schema retry, got %d calls", calls)
	}
	if len(manifest.Files) != 1 {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
}

func TestGenerateFailsAfterSecondSchemaViolation(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(chatResponse("still prose"))
	})
	c := newTestGenClient(t, handler)

	creds := domain.LLMCredentials{Provider: ProviderOpenAI, Model: "gpt-5", APIKey: "sk-test"}
	_, err := c.Generate(context.Background(), creds, "a landing page", nil)
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("schema violations retry exactly once, got %d calls", calls)
	}
}

func TestGenerateRetriesTransientUpstreamFailures(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse(validManifestJSON))
	})
	c := newTestGenClient(t, handler)

	creds := domain.LLMCredentials{Provider: ProviderOpenAI, Model: "gpt-5", APIKey: "sk-test"}
	if _, err := c.Generate(context.Background(), creds, "a landing page", nil); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestGenerateDoesNotRetryAuthFailures(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := newTestGenClient(t, handler)

	creds := domain.LLMCredentials{Provider: ProviderOpenAI, Model: "gpt-5", APIKey: "sk-bad"}
	_, err := c.Generate(context.Background(), creds, "a landing page", nil)
	if domain.KindOf(err) != domain.KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("auth failures must not be retried, got %d calls", calls)
	}
}

func TestGenerateRejectsUnknownProvider(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(log, time.Second, 0)
	creds := domain.LLMCredentials{Provider: "llamafarm", Model: "x", APIKey: "k"}
	_, err := c.Generate(context.Background(), creds, "brief", nil)
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGenerateAnthropicContentBlocks(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "sk-ant-test" {
			t.Errorf("unexpected api key header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{
				{"type": "text", "text": validManifestJSON},
			},
		})
	})
	c := newTestGenClient(t, handler)

	creds := domain.LLMCredentials{Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514", APIKey: "sk-ant-test"}
	manifest, err := c.Generate(context.Background(), creds, "a landing page", nil)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(manifest.Files) != 1 {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
}

func TestGenerateGeminiCandidates(t *testing.T) {
	var gotKey string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": validManifestJSON}}}},
			},
		})
	})
	c := newTestGenClient(t, handler)

	creds := domain.LLMCredentials{Provider: ProviderGemini, Model: "gemini-2.5-flash", APIKey: "AIza-test"}
	if _, err := c.Generate(context.Background(), creds, "a landing page", nil); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if gotKey != "AIza-test" {
		t.Fatalf("gemini key must travel as a query parameter, got %q", gotKey)
	}
}

func TestResolveModelDefaults(t *testing.T) {
	model, err := ResolveModel(ProviderPerplexity, "")
	if err != nil {
		t.Fatalf("ResolveModel returned error: %v", err)
	}
	if model != "sonar-pro" {
		t.Fatalf("unexpected default model %q", model)
	}
	model, err = ResolveModel(ProviderOpenAI, "gpt-5-nano")
	if err != nil {
		t.Fatalf("ResolveModel returned error: %v", err)
	}
	if model != "gpt-5-nano" {
		t.Fatalf("requested model must win, got %q", model)
	}
	if _, err := ResolveModel("unknown", ""); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
