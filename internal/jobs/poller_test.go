package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fireflow/internal/domain"
	"fireflow/internal/transport"
)

func scriptedServer(t *testing.T, calls *int32, bodies ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("unexpected method %s", r.Method)
		}
		n := int(atomic.AddInt32(calls, 1)) - 1
		if n >= len(bodies) {
			n = len(bodies) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(bodies[n]))
	}))
}

func testPoller(opts Options) *Poller {
	if opts.Interval == 0 {
		opts.Interval = time.Millisecond
	}
	client := transport.NewClient(transport.Options{Service: "photoshop", RetryInterval: time.Millisecond})
	return NewPoller(client, opts)
}

func TestWaitReturnsFinalPayloadAfterScriptedSequence(t *testing.T) {
	var calls int32
	ts := scriptedServer(t, &calls,
		`{"status":"running"}`,
		`{"status":"running"}`,
		`{"status":"succeeded","output":{"href":"/out/knockout.png","storage":"dropbox"}}`,
	)
	defer ts.Close()

	res, err := testPoller(Options{}).Wait(context.Background(), Handle{ID: "j1", StatusURL: ts.URL + "/status/j1", Service: "photoshop", Kind: domain.JobKindRemoveBackground})
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected exactly 3 GETs, got %d", got)
	}
	if res.Status != domain.JobStatusSucceeded || res.Attempts != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Outputs) != 1 || res.Outputs[0].URL != "/out/knockout.png" || res.Outputs[0].Storage != domain.StorageDropbox {
		t.Fatalf("unexpected outputs: %+v", res.Outputs)
	}
}

func TestWaitReadsNestedOutputsShape(t *testing.T) {
	var calls int32
	ts := scriptedServer(t, &calls,
		`{"jobId":"j2","outputs":[{"input":"/in.psd","status":"pending"}]}`,
		`{"jobId":"j2","outputs":[{"input":"/in.psd","status":"succeeded","_links":{"renditions":[{"href":"/a.jpg","storage":"dropbox"},{"href":"/b.jpg","storage":"dropbox"}]}}]}`,
	)
	defer ts.Close()

	res, err := testPoller(Options{}).Wait(context.Background(), Handle{ID: "j2", StatusURL: ts.URL})
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if res.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", res.Status)
	}
	if len(res.Outputs) != 2 || res.Outputs[1].URL != "/b.jpg" {
		t.Fatalf("unexpected outputs: %+v", res.Outputs)
	}
}

func TestWaitNormalizesDocumentServiceShape(t *testing.T) {
	var calls int32
	ts := scriptedServer(t, &calls,
		`{"status":"in progress"}`,
		`{"status":"done","asset":{"assetID":"urn:aaid:1","downloadUri":"https://dl.example/doc.pdf"}}`,
	)
	defer ts.Close()

	res, err := testPoller(Options{}).Wait(context.Background(), Handle{ID: "d1", StatusURL: ts.URL})
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if res.Status != domain.JobStatusSucceeded || len(res.Outputs) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Outputs[0].ID != "urn:aaid:1" || res.Outputs[0].URL != "https://dl.example/doc.pdf" {
		t.Fatalf("unexpected asset: %+v", res.Outputs[0])
	}
}

func TestWaitReturnsFailedAsData(t *testing.T) {
	var calls int32
	ts := scriptedServer(t, &calls,
		`{"status":"running"}`,
		`{"status":"running"}`,
		`{"status":"failed","error":{"code":"InputValidationError"}}`,
	)
	defer ts.Close()

	h := Handle{ID: "j3", StatusURL: ts.URL, Service: "photoshop", Kind: domain.JobKindRemoveBackground}
	res, err := testPoller(Options{}).Wait(context.Background(), h)
	if err != nil {
		t.Fatalf("failed status must not be an error, got %v", err)
	}
	if res.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	var jobErr *domain.JobFailedError
	if !errors.As(res.Failed(h), &jobErr) {
		t.Fatalf("expected JobFailedError from Failed()")
	}
	if jobErr.JobID != "j3" || jobErr.Detail != `{"code":"InputValidationError"}` {
		t.Fatalf("unexpected failure detail: %+v", jobErr)
	}
}

func TestWaitBoundedByMaxAttempts(t *testing.T) {
	var calls int32
	ts := scriptedServer(t, &calls, `{"status":"running"}`)
	defer ts.Close()

	_, err := testPoller(Options{MaxAttempts: 4}).Wait(context.Background(), Handle{ID: "j4", StatusURL: ts.URL})
	var timeoutErr *domain.PollTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected PollTimeoutError, got %v", err)
	}
	if timeoutErr.Attempts != 4 || timeoutErr.LastStatus != "running" {
		t.Fatalf("unexpected timeout error: %+v", timeoutErr)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("expected 4 GETs, got %d", got)
	}
}

func TestWaitBoundedByElapsedTime(t *testing.T) {
	var calls int32
	ts := scriptedServer(t, &calls, `{"status":"pending"}`)
	defer ts.Close()

	p := testPoller(Options{Interval: 20 * time.Millisecond, Timeout: 50 * time.Millisecond})
	_, err := p.Wait(context.Background(), Handle{ID: "j5", StatusURL: ts.URL})
	var timeoutErr *domain.PollTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected PollTimeoutError, got %v", err)
	}
}

func TestWaitStopsOnCancel(t *testing.T) {
	var calls int32
	ts := scriptedServer(t, &calls, `{"status":"running"}`)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := testPoller(Options{Interval: time.Hour, Timeout: 2 * time.Hour})
	done := make(chan error, 1)
	go func() {
		_, err := p.Wait(ctx, Handle{ID: "j6", StatusURL: ts.URL})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Wait did not return after cancel")
	}
}

func TestNextIntervalIsMonotonicAndCapped(t *testing.T) {
	p := NewPoller(nil, Options{Interval: time.Second, MaxInterval: 4 * time.Second, Multiplier: 2})
	got := []time.Duration{time.Second}
	for i := 0; i < 4; i++ {
		got = append(got, p.next(got[len(got)-1]))
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("interval %d: want %s got %s", i, want[i], got[i])
		}
	}
}

func TestDecodeStatusRequiresStatus(t *testing.T) {
	if _, _, err := decodeStatus([]byte(`{"outputs":[]}`)); !errors.Is(err, ErrMissingStatus) {
		t.Fatalf("expected ErrMissingStatus, got %v", err)
	}
}

func TestWaitLabelsErrorsWithoutKind(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"gone"}`))
	}))
	defer ts.Close()

	_, err := testPoller(Options{}).Wait(context.Background(), Handle{ID: "j1", StatusURL: ts.URL + "/status/j1", Service: "photoshop"})
	var sub *domain.SubmissionError
	if !errors.As(err, &sub) {
		t.Fatalf("expected submission error, got %v", err)
	}
	if sub.Operation != "status" {
		t.Fatalf("unexpected operation %q", sub.Operation)
	}
}
