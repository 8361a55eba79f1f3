package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"fireflow/internal/domain"
	"fireflow/internal/firefly"
	"fireflow/internal/jobs"
	"fireflow/internal/naming"
	"fireflow/internal/photoshop"
	"fireflow/internal/storage"
)

type fakeImages struct {
	mu        sync.Mutex
	generated []firefly.GenerateRequest
	expanded  []firefly.ExpandRequest
}

func (f *fakeImages) Upload(_ context.Context, path string) (domain.AssetReference, error) {
	return domain.AssetReference{ID: "ref-" + filepath.Base(path), Storage: domain.StorageFirefly}, nil
}

func (f *fakeImages) Generate(_ context.Context, req firefly.GenerateRequest) ([]firefly.Output, error) {
	f.mu.Lock()
	f.generated = append(f.generated, req)
	f.mu.Unlock()
	return []firefly.Output{{Seed: 7, ImageID: "gen-" + req.Prompt, URL: "https://ff/gen"}}, nil
}

func (f *fakeImages) Expand(_ context.Context, req firefly.ExpandRequest) ([]firefly.Output, error) {
	f.mu.Lock()
	f.expanded = append(f.expanded, req)
	f.mu.Unlock()
	return []firefly.Output{{Seed: 8, ImageID: "exp", URL: "https://ff/" + req.ImageID + "/" + req.Size.String()}}, nil
}

type fakeEditing struct {
	mu         sync.Mutex
	failHref   string
	cutouts    []photoshop.Location
	composites []photoshop.CompositeRequest
}

func (f *fakeEditing) RemoveBackground(_ context.Context, in, _ photoshop.Location) (jobs.Handle, error) {
	f.mu.Lock()
	f.cutouts = append(f.cutouts, in)
	f.mu.Unlock()
	return jobs.Handle{ID: in.Href, Service: "photoshop", Kind: domain.JobKindRemoveBackground}, nil
}

func (f *fakeEditing) Composite(_ context.Context, req photoshop.CompositeRequest) (jobs.Handle, error) {
	if _, err := photoshop.BuildComposite(req); err != nil {
		return jobs.Handle{}, err
	}
	f.mu.Lock()
	f.composites = append(f.composites, req)
	f.mu.Unlock()
	return jobs.Handle{ID: "composite", Service: "photoshop", Kind: domain.JobKindComposite}, nil
}

func (f *fakeEditing) Wait(_ context.Context, h jobs.Handle) (jobs.Result, error) {
	if f.failHref != "" && strings.Contains(h.ID, f.failHref) {
		return jobs.Result{Status: domain.JobStatusFailed, Detail: "no subject found"}, nil
	}
	return jobs.Result{Status: domain.JobStatusSucceeded}, nil
}

type fakeStager struct {
	mu      sync.Mutex
	uploads []string
	writes  []string
}

func (f *fakeStager) Kind() domain.StorageKind { return domain.StorageDropbox }

func (f *fakeStager) Upload(_ context.Context, _, remote string) (domain.AssetReference, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, remote)
	f.mu.Unlock()
	return domain.AssetReference{Path: remote, Storage: domain.StorageDropbox}, nil
}

func (f *fakeStager) Download(context.Context, string, string) (storage.Checksum, error) {
	return storage.Checksum{}, nil
}

func (f *fakeStager) ReadLink(_ context.Context, remote string) (string, error) {
	return "https://read" + remote, nil
}

func (f *fakeStager) WriteLink(_ context.Context, remote string) (string, error) {
	f.mu.Lock()
	f.writes = append(f.writes, remote)
	f.mu.Unlock()
	return "https://write" + remote, nil
}

func (f *fakeStager) List(context.Context, string) ([]storage.Entry, error) { return nil, nil }

type fakeFetcher struct {
	mu    sync.Mutex
	files []string
}

func (f *fakeFetcher) Fetch(_ context.Context, _, dst string) (storage.Checksum, error) {
	f.mu.Lock()
	f.files = append(f.files, dst)
	f.mu.Unlock()
	return storage.Checksum{SHA256: "abc", Bytes: 3}, os.WriteFile(dst, []byte("img"), 0o644)
}

func writeBannerManifest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	products := filepath.Join(dir, "products")
	if err := os.MkdirAll(products, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"a.png", "b.png", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(products, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	files := map[string]string{
		"ref.jpg":          "x",
		"prompts.txt":      "desert dunes\n\nsnowy peaks\n",
		"translations.txt": "en,Run further\nfr,Courez, plus loin\n",
		"banner.yaml": `prompts_file: prompts.txt
translations_file: translations.txt
products_dir: products
reference_image: ref.jpg
template: /templates/banner.psd
remote_root: demo/
sizes: ["1024x1024", "1792x1024"]
concurrency: 2
`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return filepath.Join(dir, "banner.yaml")
}

func TestBannerPipelineSkipsCompositesOfFailedProduct(t *testing.T) {
	m, err := LoadManifest(writeBannerManifest(t))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	images := &fakeImages{}
	editing := &fakeEditing{failHref: "a.png"}
	stager := &fakeStager{}
	fetcher := &fakeFetcher{}
	rec := &fakeRecorder{}

	p, err := NewBannerPipeline(m, BannerDeps{
		Images:   images,
		Editing:  editing,
		Stager:   stager,
		Fetcher:  fetcher,
		Store:    store,
		Composer: NewComposer(Options{Concurrency: m.Concurrency, Recorder: rec}),
	})
	if err != nil {
		t.Fatalf("NewBannerPipeline: %v", err)
	}
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Knockouts) != 2 || !res.Knockouts[0].Failed() || res.Knockouts[1].Failed() {
		t.Fatalf("unexpected knockouts %+v", res.Knockouts)
	}
	if len(res.Backgrounds) != 2 {
		t.Fatalf("expected one background unit per prompt, got %d", len(res.Backgrounds))
	}
	for _, g := range images.generated {
		if g.ReferenceImageID != "ref-ref.jpg" || g.ContentClass != "photo" || g.Size.String() != "2048x2048" {
			t.Fatalf("unexpected generate request %+v", g)
		}
	}
	if len(images.expanded) != 4 {
		t.Fatalf("expected 4 expand calls, got %d", len(images.expanded))
	}
	if len(fetcher.files) != 4 {
		t.Fatalf("expected 4 saved backgrounds, got %d", len(fetcher.files))
	}

	// 2 prompts x 2 languages x 2 products.
	if len(res.Composites) != 8 {
		t.Fatalf("expected 8 composite reports, got %d", len(res.Composites))
	}
	ok, failed, skipped := Summarize(res.Composites)
	if ok != 4 || failed != 0 || skipped != 4 {
		t.Fatalf("unexpected composite summary %d/%d/%d", ok, failed, skipped)
	}
	for _, r := range res.Composites {
		if r.Params["product"] == "a.png" && r.Outcome != OutcomeSkipped {
			t.Fatalf("composite for failed product ran: %+v", r)
		}
	}

	if len(editing.composites) != 4 {
		t.Fatalf("expected 4 composite jobs, got %d", len(editing.composites))
	}
	for _, req := range editing.composites {
		if req.Template.Href != "https://read/templates/banner.psd" {
			t.Fatalf("unexpected template %+v", req.Template)
		}
		if req.Product.Href != "https://read/demo/knockout/b.png" || req.Product.Storage != domain.StorageDropbox {
			t.Fatalf("unexpected product %+v", req.Product)
		}
		if req.Text != "Run further" && req.Text != "Courez, plus loin" {
			t.Fatalf("unexpected text %q", req.Text)
		}
		for _, size := range req.Sizes {
			if !strings.HasSuffix(req.Backgrounds[size], "/"+size.String()) {
				t.Fatalf("background for %s is %q", size, req.Backgrounds[size])
			}
		}
		for _, out := range req.Outputs {
			if !strings.HasPrefix(out.Href, "https://write/demo/output/") {
				t.Fatalf("unexpected output %+v", out)
			}
		}
	}

	outputs := map[string]bool{}
	for _, w := range stager.writes {
		if strings.HasPrefix(w, "/demo/output/") {
			if outputs[w] {
				t.Fatalf("output name %s reused", w)
			}
			outputs[w] = true
		}
	}
	// 4 composites x 2 sizes, all distinct.
	if len(outputs) != 8 {
		t.Fatalf("expected 8 distinct outputs, got %d", len(outputs))
	}

	// 2 cutouts + 4 composites went through the ledger.
	if len(rec.opened) != 6 || len(rec.closed) != 6 {
		t.Fatalf("unexpected ledger activity %d/%d", len(rec.opened), len(rec.closed))
	}
	skippedUnits := 0
	for _, u := range rec.units {
		if u.Outcome == string(OutcomeSkipped) {
			skippedUnits++
		}
	}
	if len(rec.units) != 12 || skippedUnits != 4 {
		t.Fatalf("expected 12 unit outcomes with 4 skipped, got %d/%d", len(rec.units), skippedUnits)
	}
	if len(res.Reports()) != 12 {
		t.Fatalf("expected 12 reports, got %d", len(res.Reports()))
	}
}

func TestBannerPipelineOutputNamesIncludeProduct(t *testing.T) {
	size := naming.Size{Width: 1024, Height: 1024}
	a := naming.OutputName(naming.Key{Language: "en", Product: "a", Prompt: "dunes", Size: size, Run: "r"})
	b := naming.OutputName(naming.Key{Language: "en", Product: "b", Prompt: "dunes", Size: size, Run: "r"})
	if a == b {
		t.Fatalf("products share output name %s", a)
	}
}

func TestNewBannerPipelineRequiresDependencies(t *testing.T) {
	if _, err := NewBannerPipeline(&Manifest{}, BannerDeps{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}
