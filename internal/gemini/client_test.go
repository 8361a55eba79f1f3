package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fireflow/internal/domain"
	"fireflow/internal/transport"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	api := transport.NewClient(transport.Options{
		Service:       service,
		BaseURL:       ts.URL,
		MaxAttempts:   2,
		RetryInterval: time.Millisecond,
	})
	c, err := New(Options{APIKey: "key-1", Model: "gemini-test", API: api})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestWriteSendsPromptAndJoinsParts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/models/gemini-test:generateContent" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Goog-Api-Key"); got != "key-1" {
			t.Fatalf("unexpected api key %q", got)
		}
		if r.URL.Query().Get("key") != "" || r.Header.Get("Authorization") != "" {
			t.Fatal("key leaked outside the api key header")
		}
		raw, _ := io.ReadAll(r.Body)
		var req generateRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "tell me a story" {
			t.Fatalf("unexpected contents %s", raw)
		}
		if len(req.SafetySettings) != 4 || req.GenerationConfig.MaxOutputTokens != 2048 {
			t.Fatalf("unexpected settings %s", raw)
		}
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Once upon "},{"text":"a time."}]}}]}`)
	})

	text, err := c.Write(context.Background(), "tell me a story")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if text != "Once upon a time." {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestWriteDefaultsToStoryPrompt(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		got = req.Contents[0].Parts[0].Text
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	})
	if _, err := c.Write(context.Background(), "  "); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got != StoryPrompt {
		t.Fatalf("expected default prompt, got %q", got)
	}
}

func TestWriteReportsBlockedPrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`)
	})
	if _, err := c.Write(context.Background(), "x"); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
}

func TestWriteRejectionIsSubmissionError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"API key not valid"}}`)
	})
	_, err := c.Write(context.Background(), "x")
	var sub *domain.SubmissionError
	if !errors.As(err, &sub) || sub.Service != service || sub.Status != http.StatusBadRequest {
		t.Fatalf("expected submission error, got %v", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Options{API: transport.NewClient(transport.Options{Service: service})})
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected config error, got %v", err)
	}
}
