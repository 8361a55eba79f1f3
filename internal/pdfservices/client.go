// Package pdfservices merges JSON data into document templates through the
// document-generation service.
package pdfservices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
	"fireflow/internal/ims"
	"fireflow/internal/jobs"
	"fireflow/internal/transport"
)

const service = "pdfservices"

// DocxMediaType is the media type of Word templates.
const DocxMediaType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Asset is an uploaded template.
type Asset struct {
	ID        string `json:"assetID"`
	UploadURI string `json:"uploadUri"`
}

// Client talks to the document-generation service.
type Client struct {
	api    *transport.Client
	poller *jobs.Poller
	logger *infra.Logger
}

// New wraps a transport client.
func New(api *transport.Client, pollOpts jobs.Options, logger *infra.Logger) *Client {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{api: api, poller: jobs.NewPoller(api, pollOpts), logger: logger}
}

// NewFromConfig builds the client from configuration. The service has its own
// token endpoint and takes no scope.
func NewFromConfig(cfg *infra.Config, logger *infra.Logger) (*Client, error) {
	if err := cfg.RequirePDF(); err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	tokens := ims.NewProvider(ims.Options{
		Service:      service,
		TokenURL:     cfg.PDFTokenURL,
		ClientID:     cfg.PDFClientID,
		ClientSecret: cfg.PDFClientSecret,
		HTTPClient:   httpClient,
		Logger:       logger,
	})
	api := transport.NewClient(transport.Options{
		Service:     service,
		BaseURL:     cfg.PDFBaseURL,
		Tokens:      tokens,
		HTTPClient:  httpClient,
		Logger:      logger,
		MaxAttempts: cfg.RetryMaxAttempts,
	})
	opts := jobs.OptionsFromConfig(cfg, logger)
	return New(api, opts, logger), nil
}

// UploadAsset registers an asset and streams the local file to the upload
// URI the service hands back.
func (c *Client) UploadAsset(ctx context.Context, file, mediaType string) (Asset, error) {
	info, err := os.Stat(file)
	if err != nil {
		return Asset{}, &domain.TransferError{Op: "pdfservices upload", Target: file, Err: err}
	}
	if mediaType == "" {
		mediaType = MediaType(file)
	}
	var asset Asset
	if _, err := c.api.Submit(ctx, "asset", "/assets", map[string]string{"mediaType": mediaType}, &asset); err != nil {
		return Asset{}, err
	}
	if asset.ID == "" || asset.UploadURI == "" {
		return Asset{}, fmt.Errorf("pdfservices asset: %w", domain.ErrMissingOutputs)
	}
	_, err = c.api.Do(ctx, transport.Request{
		Method:        http.MethodPut,
		Path:          asset.UploadURI,
		Operation:     "asset upload",
		Open:          func() (io.ReadCloser, error) { return os.Open(file) },
		ContentType:   mediaType,
		ContentLength: info.Size(),
		Anonymous:     true,
	})
	if err != nil {
		return Asset{}, err
	}
	c.logger.Debug().Str("asset_id", asset.ID).Str("file", file).Msg("pdfservices: asset uploaded")
	return asset, nil
}

// GenerateDocument submits a merge of data into the template asset. The
// status URL comes from the Location header.
func (c *Client) GenerateDocument(ctx context.Context, assetID, outputFormat string, data json.RawMessage) (jobs.Handle, error) {
	if outputFormat == "" {
		outputFormat = "pdf"
	}
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	body := struct {
		AssetID          string          `json:"assetID"`
		OutputFormat     string          `json:"outputFormat"`
		JSONDataForMerge json.RawMessage `json:"jsonDataForMerge"`
	}{assetID, outputFormat, data}

	resp, err := c.api.Submit(ctx, string(domain.JobKindDocument), "/operation/documentgeneration", body, nil)
	if err != nil {
		return jobs.Handle{}, err
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return jobs.Handle{}, fmt.Errorf("pdfservices documentgeneration: response has no Location header")
	}
	id := path.Base(location)
	if id == "status" {
		id = path.Base(path.Dir(location))
	}
	return jobs.Handle{ID: id, StatusURL: location, Service: service, Kind: domain.JobKindDocument}, nil
}

// Wait polls the job until it is done or failed.
func (c *Client) Wait(ctx context.Context, h jobs.Handle) (jobs.Result, error) {
	return c.poller.Wait(ctx, h)
}

// Generate uploads the template, merges data and waits for the result. A
// failed job is returned as a JobFailedError.
func (c *Client) Generate(ctx context.Context, template, outputFormat string, data json.RawMessage) (domain.AssetReference, error) {
	asset, err := c.UploadAsset(ctx, template, "")
	if err != nil {
		return domain.AssetReference{}, err
	}
	h, err := c.GenerateDocument(ctx, asset.ID, outputFormat, data)
	if err != nil {
		return domain.AssetReference{}, err
	}
	res, err := c.Wait(ctx, h)
	if err != nil {
		return domain.AssetReference{}, err
	}
	if err := res.Failed(h); err != nil {
		return domain.AssetReference{}, err
	}
	if len(res.Outputs) == 0 {
		return domain.AssetReference{}, fmt.Errorf("pdfservices %s: %w", h.ID, domain.ErrMissingOutputs)
	}
	return res.Outputs[0], nil
}

// MediaType guesses the template media type from the extension.
func MediaType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".docx":
		return DocxMediaType
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
