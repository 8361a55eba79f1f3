// Package photoshop submits image-editing jobs (background removal, masks,
// action playback and template composites) and waits for them.
package photoshop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
	"fireflow/internal/ims"
	"fireflow/internal/jobs"
	"fireflow/internal/transport"
)

const service = "photoshop"

// Client submits jobs and polls them through the same transport.
type Client struct {
	api    *transport.Client
	poller *jobs.Poller
	logger *infra.Logger
}

// New wraps a transport client; the poller reuses it for status calls.
func New(api *transport.Client, pollOpts jobs.Options, logger *infra.Logger) *Client {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{api: api, poller: jobs.NewPoller(api, pollOpts), logger: logger}
}

// NewFromConfig builds the token provider, transport and poller.
func NewFromConfig(cfg *infra.Config, logger *infra.Logger) (*Client, error) {
	if err := cfg.RequirePhotoshop(); err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	tokens := ims.NewProvider(ims.Options{
		Service:      service,
		TokenURL:     cfg.IMSTokenURL,
		ClientID:     cfg.PhotoshopClientID,
		ClientSecret: cfg.PhotoshopClientSecret,
		Scope:        cfg.PhotoshopScopes,
		HTTPClient:   httpClient,
		Logger:       logger,
	})
	api := transport.NewClient(transport.Options{
		Service:     service,
		BaseURL:     cfg.PhotoshopBaseURL,
		Tokens:      tokens,
		HTTPClient:  httpClient,
		Logger:      logger,
		MaxAttempts: cfg.RetryMaxAttempts,
	})
	return New(api, jobs.OptionsFromConfig(cfg, logger), logger), nil
}

// RemoveBackground submits a cutout job writing the knockout to out.
func (c *Client) RemoveBackground(ctx context.Context, in, out Location) (jobs.Handle, error) {
	body := senseiBody{Input: in, Output: Output{Href: out.Href, Storage: out.Storage, Overwrite: true}}
	return c.submit(ctx, domain.JobKindRemoveBackground, "/sensei/cutout", body)
}

// CreateMask submits a mask job writing the subject mask to out.
func (c *Client) CreateMask(ctx context.Context, in, out Location) (jobs.Handle, error) {
	body := senseiBody{Input: in, Output: Output{Href: out.Href, Storage: out.Storage, Overwrite: true}}
	return c.submit(ctx, domain.JobKindMask, "/sensei/mask", body)
}

// PlayActions runs a recorded action list against in and renders to out.
func (c *Client) PlayActions(ctx context.Context, in, out Location, actions json.RawMessage, outputType string) (jobs.Handle, error) {
	if !json.Valid(actions) {
		return jobs.Handle{}, fmt.Errorf("photoshop action: action list is not valid json")
	}
	if outputType == "" {
		outputType = "image/png"
	}
	var body actionBody
	body.Inputs = []Location{in}
	body.Options.ActionJSON = actions
	body.Outputs = []Output{{Href: out.Href, Storage: out.Storage, Type: outputType}}
	return c.submit(ctx, domain.JobKindAction, "/pie/psdService/actionJSON", body)
}

// Composite builds and submits a template document-operations job.
func (c *Client) Composite(ctx context.Context, req CompositeRequest) (jobs.Handle, error) {
	body, err := BuildComposite(req)
	if err != nil {
		return jobs.Handle{}, err
	}
	return c.submit(ctx, domain.JobKindComposite, "/pie/psdService/documentOperations", body)
}

// Wait polls h until it is terminal. A failed job is returned as data.
func (c *Client) Wait(ctx context.Context, h jobs.Handle) (jobs.Result, error) {
	return c.poller.Wait(ctx, h)
}

// LoadActions reads an action list from a JSON file.
func LoadActions(file string) (json.RawMessage, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s: not valid json", file)
	}
	return json.RawMessage(raw), nil
}

type submitDoc struct {
	JobID string `json:"jobId"`
	Links struct {
		Self struct {
			Href string `json:"href"`
		} `json:"self"`
	} `json:"_links"`
}

func (c *Client) submit(ctx context.Context, kind domain.JobKind, endpoint string, body any) (jobs.Handle, error) {
	var doc submitDoc
	if _, err := c.api.Submit(ctx, string(kind), endpoint, body, &doc); err != nil {
		return jobs.Handle{}, err
	}
	if doc.Links.Self.Href == "" {
		return jobs.Handle{}, fmt.Errorf("photoshop %s: response has no status link", kind)
	}
	id := doc.JobID
	if id == "" {
		id = path.Base(doc.Links.Self.Href)
	}
	h := jobs.Handle{ID: id, StatusURL: doc.Links.Self.Href, Service: service, Kind: kind}
	c.logger.Info().Str("service", service).Str("operation", string(kind)).Str("job_id", id).Msg("photoshop: job submitted")
	return h, nil
}
