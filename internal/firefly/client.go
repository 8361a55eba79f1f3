// Package firefly calls the generative image service: upload, text-to-image,
// generative expand and generative fill.
package firefly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
	"fireflow/internal/ims"
	"fireflow/internal/naming"
	"fireflow/internal/storage"
	"fireflow/internal/transport"
)

const service = "firefly"

// Client wraps the authenticated transport for the image service.
type Client struct {
	api    *transport.Client
	logger *infra.Logger
}

// New wraps an existing transport client.
func New(api *transport.Client, logger *infra.Logger) *Client {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{api: api, logger: logger}
}

// NewFromConfig builds the token provider and transport from configuration.
func NewFromConfig(cfg *infra.Config, logger *infra.Logger) (*Client, error) {
	if err := cfg.RequireFirefly(); err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	tokens := ims.NewProvider(ims.Options{
		Service:      service,
		TokenURL:     cfg.IMSTokenURL,
		ClientID:     cfg.FireflyClientID,
		ClientSecret: cfg.FireflyClientSecret,
		Scope:        cfg.FireflyScopes,
		HTTPClient:   httpClient,
		Logger:       logger,
	})
	api := transport.NewClient(transport.Options{
		Service:     service,
		BaseURL:     cfg.FireflyBaseURL,
		Tokens:      tokens,
		HTTPClient:  httpClient,
		Logger:      logger,
		MaxAttempts: cfg.RetryMaxAttempts,
	})
	return New(api, logger), nil
}

// Upload sends a local image and returns its service-side id.
func (c *Client) Upload(ctx context.Context, path string) (domain.AssetReference, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.AssetReference{}, &domain.TransferError{Op: "firefly upload", Target: path, Err: err}
	}
	var doc uploadDoc
	_, err = c.api.JSON(ctx, transport.Request{
		Method:        http.MethodPost,
		Path:          "/v2/storage/image",
		Operation:     string(domain.JobKindUpload),
		Open:          func() (io.ReadCloser, error) { return os.Open(path) },
		ContentType:   imageType(path),
		ContentLength: info.Size(),
	}, &doc)
	if err != nil {
		return domain.AssetReference{}, err
	}
	if len(doc.Images) == 0 || doc.Images[0].ID == "" {
		return domain.AssetReference{}, fmt.Errorf("firefly upload %s: %w", path, domain.ErrMissingOutputs)
	}
	c.logger.Debug().Str("path", path).Str("image_id", doc.Images[0].ID).Msg("firefly: uploaded")
	return domain.AssetReference{ID: doc.Images[0].ID, Storage: domain.StorageFirefly}, nil
}

// Generate runs text-to-image.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) ([]Output, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("firefly generate: prompt is required")
	}
	body := generateBody{
		N:            max(req.N, 1),
		Prompt:       req.Prompt,
		ContentClass: req.ContentClass,
		Size:         newSize(req.Size),
		Seeds:        req.Seeds,
	}
	if len(req.Presets) > 0 || req.ReferenceImageID != "" {
		body.Styles = &stylesBody{Presets: req.Presets}
		if req.ReferenceImageID != "" {
			body.Styles.ReferenceImage = &idRef{ID: req.ReferenceImageID}
		}
	}
	if req.StructureImageID != "" {
		body.Structure = &structureBody{}
		body.Structure.ImageReference.Source.UploadID = req.StructureImageID
	}
	return c.submit(ctx, domain.JobKindGenerate, "/v2/images/generate", body)
}

// Expand outpaints one image to one size.
func (c *Client) Expand(ctx context.Context, req ExpandRequest) ([]Output, error) {
	if req.ImageID == "" {
		return nil, fmt.Errorf("firefly expand: image id is required")
	}
	body := expandBody{
		N:      max(req.N, 1),
		Image:  idRef{ID: req.ImageID},
		Size:   newSize(req.Size),
		Prompt: req.Prompt,
		Seeds:  req.Seeds,
	}
	if req.Alignment != nil {
		body.Placement = &placementBody{Alignment: *req.Alignment}
	}
	return c.submit(ctx, domain.JobKindExpand, "/v1/images/expand", body)
}

// ExpandEach issues one expand call per size, in order. A failed size does
// not stop the others; the returned error joins every per-size failure.
func (c *Client) ExpandEach(ctx context.Context, req ExpandRequest, sizes []naming.Size) ([]Batch, error) {
	batches := make([]Batch, 0, len(sizes))
	var errs []error
	for _, size := range sizes {
		r := req
		r.Size = size
		outputs, err := c.Expand(ctx, r)
		if err != nil {
			err = fmt.Errorf("expand to %s: %w", size, err)
			errs = append(errs, err)
		}
		batches = append(batches, Batch{Size: size, Outputs: outputs, Err: err})
	}
	return batches, errors.Join(errs...)
}

// GenerateEach issues one generate call per style set. Like ExpandEach it
// keeps going past failures.
func (c *Client) GenerateEach(ctx context.Context, req GenerateRequest, styleSets [][]string) ([]Batch, error) {
	batches := make([]Batch, 0, len(styleSets))
	var errs []error
	for _, presets := range styleSets {
		r := req
		r.Presets = presets
		outputs, err := c.Generate(ctx, r)
		if err != nil {
			err = fmt.Errorf("generate with styles %q: %w", strings.Join(presets, ","), err)
			errs = append(errs, err)
		}
		batches = append(batches, Batch{Size: req.Size, Presets: presets, Outputs: outputs, Err: err})
	}
	return batches, errors.Join(errs...)
}

// Fill inpaints the masked region of a source image.
func (c *Client) Fill(ctx context.Context, req FillRequest) ([]Output, error) {
	if req.SourceID == "" || req.MaskID == "" {
		return nil, fmt.Errorf("firefly fill: source and mask ids are required")
	}
	body := fillBody{
		NumVariations: max(req.N, 1),
		Size:          newSize(req.Size),
		Prompt:        req.Prompt,
	}
	body.Image.Mask.UploadID = req.MaskID
	body.Image.Source.UploadID = req.SourceID
	return c.submit(ctx, domain.JobKindFill, "/v3/images/fill", body)
}

func (c *Client) submit(ctx context.Context, kind domain.JobKind, path string, body any) ([]Output, error) {
	var doc resultDoc
	if _, err := c.api.Submit(ctx, string(kind), path, body, &doc); err != nil {
		return nil, err
	}
	outputs := doc.normalize()
	if len(outputs) == 0 {
		return nil, fmt.Errorf("firefly %s: %w", kind, domain.ErrMissingOutputs)
	}
	c.logger.Debug().Str("operation", string(kind)).Int("outputs", len(outputs)).Msg("firefly: completed")
	return outputs, nil
}

// Saved is an output written to local disk.
type Saved struct {
	Output   Output
	Key      string
	Path     string
	Checksum storage.Checksum
}

// SaveOutputs downloads every output into store, naming each file from key
// with the output's seed filled in.
func SaveOutputs(ctx context.Context, t *storage.Transfer, store *storage.FileStore, outputs []Output, key naming.Key) ([]Saved, error) {
	saved := make([]Saved, 0, len(outputs))
	for _, out := range outputs {
		if out.URL == "" {
			return saved, fmt.Errorf("output seed %d: %w", out.Seed, domain.ErrMissingOutputs)
		}
		k := key
		k.Seed = out.Seed
		name := naming.OutputName(k)
		dst, err := store.Path(name)
		if err != nil {
			return saved, err
		}
		sum, err := t.Fetch(ctx, out.URL, dst)
		if err != nil {
			return saved, err
		}
		saved = append(saved, Saved{Output: out, Key: name, Path: dst, Checksum: sum})
	}
	return saved, nil
}

// SaveBatches saves the outputs of every successful batch. Size and style of
// each batch override the matching fields of key. Failed batches are skipped
// and a failed save does not stop the remaining batches.
func SaveBatches(ctx context.Context, t *storage.Transfer, store *storage.FileStore, batches []Batch, key naming.Key) ([]Saved, error) {
	var (
		saved []Saved
		errs  []error
	)
	for i, b := range batches {
		if b.Err != nil {
			continue
		}
		k := key
		if b.Size != (naming.Size{}) {
			k.Size = b.Size
		}
		if len(b.Presets) > 0 {
			k.Style = strings.Join(b.Presets, "+")
		}
		s, err := SaveOutputs(ctx, t, store, b.Outputs, k)
		saved = append(saved, s...)
		if err != nil {
			errs = append(errs, fmt.Errorf("save batch %d: %w", i, err))
		}
	}
	return saved, errors.Join(errs...)
}

func imageType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
