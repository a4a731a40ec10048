package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSummarize(t *testing.T) {
	var received chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != chatCompletionsPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Heavy workload, great labs.  "}}]}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL + "/", APIKey: "test-key", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	summary, err := client.Summarize(context.Background(), "summarise fit2099")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary != "Heavy workload, great labs." {
		t.Fatalf("unexpected summary %q", summary)
	}
	if received.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model %q", received.Model)
	}
	if len(received.Messages) != 2 || received.Messages[1].Content != "summarise fit2099" {
		t.Fatalf("unexpected messages %#v", received.Messages)
	}
	if client.Model() != "gpt-4o-mini" {
		t.Fatalf("unexpected model accessor %q", client.Model())
	}
}

func TestClientSummarizeUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Summarize(context.Background(), "prompt")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", httpErr.StatusCode)
	}
}

func TestClientSummarizeEmptyCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"   "}}]}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Summarize(context.Background(), "prompt"); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestNewRequiresKeyAndModel(t *testing.T) {
	if _, err := New(Config{Model: "m"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if _, err := New(Config{APIKey: "k"}); !errors.Is(err, ErrMissingModel) {
		t.Fatalf("expected ErrMissingModel, got %v", err)
	}
}
