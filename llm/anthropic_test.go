package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropic_Complete(t *testing.T) {
	var captured wireRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != apiVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"[{\"date\":"},{"type":"text","text":"\"2024-03-01\"}]"}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	client, err := NewAnthropic(Options{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropic() error = %v", err)
	}

	text, err := client.Complete(context.Background(), Request{System: "be exact", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != `[{"date":"2024-03-01"}]` {
		t.Errorf("text = %q", text)
	}
	if captured.Model != DefaultModel || captured.MaxTokens != DefaultMaxTokens {
		t.Errorf("defaults not applied: %+v", captured)
	}
	if captured.Temperature == nil || *captured.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", captured.Temperature)
	}
	if captured.System != "be exact" || len(captured.Messages) != 1 || captured.Messages[0].Content != "hello" {
		t.Errorf("request = %+v", captured)
	}
}

func TestAnthropic_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	client, err := NewAnthropic(Options{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropic() error = %v", err)
	}

	_, err = client.Complete(context.Background(), Request{Prompt: "x"})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if !providerErr.IsRateLimited() || providerErr.Type != "rate_limit_error" {
		t.Errorf("providerErr = %+v", providerErr)
	}
}

func TestNewAnthropic_RequiresKey(t *testing.T) {
	if _, err := NewAnthropic(Options{}); err == nil {
		t.Fatal("expected error for empty api key")
	}
}
