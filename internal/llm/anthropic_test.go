package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropic_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %s", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "prompt text" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": `{"answer":"Hi"}`}},
		})
	}))
	defer srv.Close()

	a := NewAnthropic("test-key", "test-model", 1024)
	a.baseURL = srv.URL

	got, err := a.Generate(context.Background(), "prompt text")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != `{"answer":"Hi"}` {
		t.Errorf("unexpected response %q", got)
	}
}

func TestAnthropic_GenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer srv.Close()

	a := NewAnthropic("test-key", "test-model", 1024)
	a.baseURL = srv.URL

	_, err := a.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(err.Error(), "rate_limit_error") {
		t.Errorf("expected error type in message, got %v", err)
	}
}

func TestAnthropic_GenerateEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"content": []any{}})
	}))
	defer srv.Close()

	a := NewAnthropic("test-key", "test-model", 1024)
	a.baseURL = srv.URL

	if _, err := a.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestAnthropic_GenerateHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewAnthropic("test-key", "test-model", 1024)
	if _, err := a.Generate(ctx, "prompt"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
