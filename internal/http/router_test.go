package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fireflow/internal/domain"
	"fireflow/internal/firefly"
	"fireflow/internal/http/handlers"
	"fireflow/internal/infra"
	"fireflow/internal/storage"
)

type fakeImages struct {
	got firefly.GenerateRequest
	err error
}

func (f *fakeImages) Generate(_ context.Context, req firefly.GenerateRequest) ([]firefly.Output, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	out := make([]firefly.Output, 0, req.N)
	for i := 0; i < req.N; i++ {
		out = append(out, firefly.Output{Seed: int64(100 + i), ImageID: "img", URL: "https://ff/out"})
	}
	return out, nil
}

type fakeDocs struct {
	template string
	format   string
	data     json.RawMessage
}

func (f *fakeDocs) Generate(_ context.Context, template, format string, data json.RawMessage) (domain.AssetReference, error) {
	f.template, f.format, f.data = template, format, data
	return domain.AssetReference{ID: "asset-1", URL: "https://pdf/dl"}, nil
}

type fakeJobs struct {
	jobs   map[string]*domain.Job
	failed []domain.UnitOutcome
}

func (f *fakeJobs) Create(context.Context, *domain.Job) error { return nil }

func (f *fakeJobs) Close(context.Context, string, domain.JobStatus, *string, []byte) error {
	return nil
}

func (f *fakeJobs) GetByID(_ context.Context, id string) (*domain.Job, error) {
	if job, ok := f.jobs[id]; ok {
		return job, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeJobs) ListOpen(context.Context, time.Duration) ([]domain.Job, error) { return nil, nil }

func (f *fakeJobs) RecordUnit(context.Context, *domain.UnitOutcome) error { return nil }

func (f *fakeJobs) ListFailedUnits(context.Context, string) ([]domain.UnitOutcome, error) {
	return f.failed, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(_ context.Context, url, dst string) (storage.Checksum, error) {
	return storage.Checksum{}, os.WriteFile(dst, []byte(url), 0o644)
}

func newTestRouter(t *testing.T, app *handlers.App) http.Handler {
	t.Helper()
	cfg := &infra.Config{RateLimitPerMin: 100, CORSAllowedOrigins: []string{"http://localhost:3000"}}
	return NewRouter(app, cfg, infra.NopLogger())
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsServices(t *testing.T) {
	rec := do(t, newTestRouter(t, &handlers.App{Images: &fakeImages{}}), http.MethodGet, "/v1/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body struct {
		Status   string          `json:"status"`
		Services map[string]bool `json:"services"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || !body.Services["images"] || body.Services["ledger"] {
		t.Fatalf("unexpected body %+v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestImagesGenerate(t *testing.T) {
	images := &fakeImages{}
	h := newTestRouter(t, &handlers.App{Images: images})
	rec := do(t, h, http.MethodPost, "/v1/images/generate", `{"prompt":"a cat sleeping in a sunbeam","n":9,"size":"1792x1024","styles":["golden_hour"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if images.got.N != 4 || images.got.ContentClass != "photo" || images.got.Size.Width != 1792 {
		t.Fatalf("unexpected request %+v", images.got)
	}
	var body struct {
		Outputs []struct {
			Name string `json:"name"`
			Seed int64  `json:"seed"`
		} `json:"outputs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Outputs) != 4 || body.Outputs[0].Name == body.Outputs[1].Name {
		t.Fatalf("unexpected outputs %+v", body.Outputs)
	}
}

func TestImagesGenerateValidation(t *testing.T) {
	h := newTestRouter(t, &handlers.App{Images: &fakeImages{}})
	for _, body := range []string{`{`, `{"prompt":"  "}`, `{"prompt":"x","size":"huge"}`, `{"prompt":"x","content_class":"video"}`} {
		if rec := do(t, h, http.MethodPost, "/v1/images/generate", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestImagesGenerateMapsRemoteErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&domain.AuthError{Service: "firefly", Status: 400}, http.StatusBadGateway},
		{&domain.SubmissionError{Service: "firefly", Status: 400, Body: "bad prompt"}, http.StatusUnprocessableEntity},
		{&domain.SubmissionError{Service: "firefly", Status: 503}, http.StatusBadGateway},
		{&domain.PollTimeoutError{StatusURL: "x"}, http.StatusGatewayTimeout},
		{&domain.ConfigError{Missing: []string{"CLIENT_ID"}}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		h := newTestRouter(t, &handlers.App{Images: &fakeImages{err: tc.err}})
		rec := do(t, h, http.MethodPost, "/v1/images/generate", `{"prompt":"x"}`)
		if rec.Code != tc.want {
			t.Fatalf("%T: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}

func TestImagesGenerateZip(t *testing.T) {
	scratchDir := t.TempDir()
	scratch, err := storage.NewFileStore(scratchDir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	h := newTestRouter(t, &handlers.App{Images: &fakeImages{}, Fetcher: fakeFetcher{}, Scratch: scratch})
	rec := do(t, h, http.MethodPost, "/v1/images/generate?format=zip", `{"prompt":"dunes","n":2}`)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(zr.File))
	}
	left, err := os.ReadDir(scratchDir)
	if err != nil || len(left) != 0 {
		t.Fatalf("archive downloads left behind: %v %v", left, err)
	}
}

func TestImagesGenerateNotConfigured(t *testing.T) {
	rec := do(t, newTestRouter(t, &handlers.App{}), http.MethodPost, "/v1/images/generate", `{"prompt":"x"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestDocumentsGenerate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "contract.docx"), []byte("docx"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	templates, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	docs := &fakeDocs{}
	h := newTestRouter(t, &handlers.App{Documents: docs, Templates: templates})

	rec := do(t, h, http.MethodPost, "/v1/documents/generate", `{"template":"contract.docx","data":{"name":"Ana"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if docs.format != "pdf" || filepath.Base(docs.template) != "contract.docx" || string(docs.data) != `{"name":"Ana"}` {
		t.Fatalf("unexpected call %+v", docs)
	}
	if !strings.Contains(rec.Body.String(), "https://pdf/dl") {
		t.Fatalf("expected download url, got %s", rec.Body.String())
	}

	if rec := do(t, h, http.MethodPost, "/v1/documents/generate", `{"template":"missing.docx","data":{}}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/documents/generate", `{"template":"contract.docx","data":[1]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/documents/generate", `{"template":"contract.docx","output_format":"odt","data":{}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestJobStatus(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*domain.Job{
		"j1": {ID: "j1", RunID: "r1", Unit: "product=shoe.png", Stage: "remove_background", Status: domain.JobStatusFailed, ErrorMessage: "no subject", ResultJSON: []byte(`{"status":"failed"}`)},
	}, failed: []domain.UnitOutcome{
		{RunID: "r1", Unit: "product=shoe.png", Params: map[string]string{"product": "shoe.png"}, Stage: "remove_background", Outcome: "failed", Error: "photoshop remove_background: http 400"},
	}}
	h := newTestRouter(t, &handlers.App{Jobs: jobs})

	rec := do(t, h, http.MethodGet, "/v1/jobs/j1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "failed" || body["error"] != "no subject" || body["result"] == nil {
		t.Fatalf("unexpected body %v", body)
	}

	if rec := do(t, h, http.MethodGet, "/v1/jobs/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/v1/runs/r1/failed-units", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected failed units status %d", rec.Code)
	}
	var units struct {
		RunID       string `json:"run_id"`
		FailedUnits []struct {
			Unit    string            `json:"unit"`
			Params  map[string]string `json:"params"`
			Stage   string            `json:"stage"`
			Outcome string            `json:"outcome"`
			Error   string            `json:"error"`
		} `json:"failed_units"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &units); err != nil {
		t.Fatalf("decode units: %v", err)
	}
	if units.RunID != "r1" || len(units.FailedUnits) != 1 {
		t.Fatalf("unexpected failed units %s", rec.Body.String())
	}
	u := units.FailedUnits[0]
	if u.Unit != "product=shoe.png" || u.Stage != "remove_background" || u.Params["product"] != "shoe.png" || !strings.Contains(u.Error, "http 400") {
		t.Fatalf("unexpected unit %+v", u)
	}
}

func TestJobStatusWithoutLedger(t *testing.T) {
	if rec := do(t, newTestRouter(t, &handlers.App{}), http.MethodGet, "/v1/jobs/j1", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/v1/images/generate", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	newTestRouter(t, &handlers.App{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("unexpected preflight %d %v", rec.Code, rec.Header())
	}
}

func TestDocsListsRoutes(t *testing.T) {
	rec := do(t, newTestRouter(t, &handlers.App{}), http.MethodGet, "/v1/docs", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected docs response %d %v", rec.Code, rec.Header())
	}
	body := rec.Body.String()
	for _, want := range []string{
		"/v1/images/generate",
		"/v1/documents/generate",
		"/v1/runs/{run_id}/failed-units",
		"#paths/~1v1~1images~1generate/post",
		`spec-url="/v1/openapi.json"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("docs page missing %q", want)
		}
	}
}

func TestRateLimitIgnoresForwardedForWithoutTrustedProxy(t *testing.T) {
	cfg := &infra.Config{RateLimitPerMin: 1}
	h := NewRouter(&handlers.App{}, cfg, infra.NopLogger())
	codes := make([]int, 0, 2)
	for _, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/images/generate", strings.NewReader(`{"prompt":"x"}`))
		req.RemoteAddr = "198.51.100.10:1234"
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] == http.StatusTooManyRequests || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected the second request to be limited, got %v", codes)
	}
}
