package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fireflow/internal/domain"
)

type fakeTokens struct {
	tokens      []string
	calls       int
	invalidated int
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	tok := f.tokens[f.calls%len(f.tokens)]
	return tok, nil
}

func (f *fakeTokens) Invalidate() {
	f.invalidated++
	f.calls++
}

func (f *fakeTokens) ClientID() string { return "client-abc" }

func newTestClient(url string, tokens TokenSource) *Client {
	return NewClient(Options{
		Service:       "firefly",
		BaseURL:       url,
		Tokens:        tokens,
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
	})
}

func TestSubmitSetsHeadersAndDecodes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/images/generate" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Fatalf("unexpected authorization: %q", got)
		}
		if got := r.Header.Get("x-api-key"); got != "client-abc" {
			t.Fatalf("unexpected api key: %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Fatalf("unexpected content type: %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"prompt":"a cat"`) {
			t.Fatalf("unexpected body: %s", body)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, &fakeTokens{tokens: []string{"tok-1"}})
	var out struct {
		OK bool `json:"ok"`
	}
	if _, err := c.Submit(context.Background(), "generate", "/v2/images/generate", map[string]string{"prompt": "a cat"}, &out); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected decoded body")
	}
}

func TestDoRenewsTokenOnceOn401(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error_code":"401013"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	tokens := &fakeTokens{tokens: []string{"stale", "fresh"}}
	c := newTestClient(ts.URL, tokens)
	if _, err := c.Do(context.Background(), Request{Path: "/status", Operation: "status"}); err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if tokens.invalidated != 1 {
		t.Fatalf("expected one invalidation, got %d", tokens.invalidated)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestDoPersistent401IsSubmissionError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`denied`))
	}))
	defer ts.Close()

	tokens := &fakeTokens{tokens: []string{"a", "b"}}
	c := newTestClient(ts.URL, tokens)
	_, err := c.Do(context.Background(), Request{Path: "/x", Operation: "cutout"})
	var subErr *domain.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if !subErr.Unauthorized() || subErr.Body != "denied" {
		t.Fatalf("unexpected error: %+v", subErr)
	}
	if tokens.invalidated != 1 {
		t.Fatalf("expected a single renewal, got %d", tokens.invalidated)
	}
}

func TestDoRetriesTransientStatus(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"img"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, &fakeTokens{tokens: []string{"t"}})
	resp, err := c.Do(context.Background(), Request{Path: "/x", Operation: "upload"})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if string(resp.Body) != `{"id":"img"}` {
		t.Fatalf("unexpected body: %s", resp.Body)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestDoRejectionCarriesRawBody(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":"validation_error","message":"bad size"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, &fakeTokens{tokens: []string{"t"}})
	_, err := c.Submit(context.Background(), "expand", "/v1/images/expand", map[string]int{"n": 1}, nil)
	var subErr *domain.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if subErr.Status != http.StatusBadRequest || !strings.Contains(subErr.Body, "bad size") {
		t.Fatalf("unexpected error: %+v", subErr)
	}
	if subErr.Operation != "expand" || subErr.Service != "firefly" {
		t.Fatalf("missing context: %+v", subErr)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", got)
	}
}

func TestDoAnonymousOmitsCredentials(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" || r.Header.Get("x-api-key") != "" {
			t.Fatalf("credentials leaked to pre-signed link")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := newTestClient("", &fakeTokens{tokens: []string{"t"}})
	if _, err := c.Do(context.Background(), Request{Method: http.MethodPut, Path: ts.URL + "/upload", Anonymous: true}); err != nil {
		t.Fatalf("Do error: %v", err)
	}
}

func TestDoAddsRequestHeaders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Goog-Api-Key"); got != "key-1" {
			t.Fatalf("unexpected header %q", got)
		}
		if r.Header.Get("Authorization") != "" {
			t.Fatal("unexpected authorization without a token source")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL, nil)
	if _, err := c.Do(context.Background(), Request{Path: "/x", Operation: "get", Header: http.Header{"X-Goog-Api-Key": []string{"key-1"}}}); err != nil {
		t.Fatalf("Do: %v", err)
	}
}
