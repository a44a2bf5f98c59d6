package scriptgen

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"podforge/internal/config"
	"podforge/internal/services"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, serverURL string, opts ...Option) *Client {
	t.Helper()

	cfg := config.ScriptGen{
		APIKey:  "test-key",
		BaseURL: serverURL,
		Model:   "test-model",
	}
	opts = append([]Option{WithSleeper(noSleep)}, opts...)
	client, err := NewClient(cfg, opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(config.ScriptGen{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestGenerateReturnsScript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"SPEAKER_A: Hello.\nSPEAKER_B: Hi."}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	script, err := client.Generate(context.Background(), "local news", 5)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if script != "SPEAKER_A: Hello.\nSPEAKER_B: Hi." {
		t.Fatalf("unexpected script: %q", script)
	}
}

func TestGenerateRequiresTopic(t *testing.T) {
	client := newTestClient(t, "http://unused.invalid")
	if _, err := client.Generate(context.Background(), "  ", 5); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGenerateRetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"SPEAKER_A: Recovered."}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	script, err := client.Generate(context.Background(), "retries", 5)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if script != "SPEAKER_A: Recovered." {
		t.Fatalf("unexpected script: %q", script)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.Generate(context.Background(), "bad request", 5); err == nil {
		t.Fatal("expected error for http 400")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestGenerateGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithRetryMaxAttempts(3))
	if _, err := client.Generate(context.Background(), "always failing", 5); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestNormalizeScriptStripsFences(t *testing.T) {
	got := normalizeScript("```\nSPEAKER_A: Hi.\n```")
	if got != "SPEAKER_A: Hi." {
		t.Fatalf("unexpected normalization: %q", got)
	}
}
