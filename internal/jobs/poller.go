// Package jobs waits on asynchronous remote jobs until they reach a
// terminal status.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
	"fireflow/internal/transport"
)

// Handle identifies a submitted job and the URL its status is read from.
type Handle struct {
	ID        string
	StatusURL string
	Service   string
	Kind      domain.JobKind
}

// Result is the last status document observed for a job. A failed job is
// reported here, not as an error.
type Result struct {
	Status   domain.JobStatus
	Outputs  []domain.AssetReference
	Detail   string
	Raw      json.RawMessage
	Attempts int
}

// Failed converts a failed result into the error callers abort on.
func (r Result) Failed(h Handle) error {
	if r.Status != domain.JobStatusFailed {
		return nil
	}
	detail := r.Detail
	if detail == "" {
		detail = string(r.Raw)
	}
	return &domain.JobFailedError{Service: h.Service, Operation: string(h.Kind), JobID: h.ID, Detail: detail}
}

// Getter performs the authenticated status call.
type Getter interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Options bounds a poll loop. Zero values fall back to the defaults used by
// the command-line tools.
type Options struct {
	Interval    time.Duration
	MaxInterval time.Duration
	// Multiplier grows the interval after every non-terminal answer. Values
	// <= 1 keep a fixed interval.
	Multiplier  float64
	MaxAttempts int
	Timeout     time.Duration
	Logger      *infra.Logger
}

// Poller issues status GETs through one service client.
type Poller struct {
	client Getter
	opts   Options
	logger *infra.Logger
	now    func() time.Time
}

// NewPoller constructs a poller for a service client.
func NewPoller(client Getter, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.MaxInterval < opts.Interval {
		opts.MaxInterval = opts.Interval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 200
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Poller{client: client, opts: opts, logger: logger, now: time.Now}
}

// OptionsFromConfig maps the poll settings of the loaded configuration.
func OptionsFromConfig(cfg *infra.Config, logger *infra.Logger) Options {
	return Options{
		Interval:    cfg.PollInterval,
		MaxInterval: cfg.PollMaxInterval,
		Multiplier:  1.5,
		MaxAttempts: cfg.PollMaxAttempts,
		Timeout:     cfg.PollTimeout,
		Logger:      logger,
	}
}

// Wait polls the handle until the job succeeds or fails, the attempt or time
// bound is exhausted (PollTimeoutError), or ctx is cancelled.
func (p *Poller) Wait(ctx context.Context, h Handle) (Result, error) {
	if h.StatusURL == "" {
		return Result{}, fmt.Errorf("%s %s: job handle has no status url", h.Service, h.Kind)
	}
	start := p.now()
	deadline := start.Add(p.opts.Timeout)
	interval := p.opts.Interval
	last := ""
	operation := "status"
	if h.Kind != "" {
		operation = string(h.Kind) + " status"
	}

	for attempt := 1; ; attempt++ {
		resp, err := p.client.Do(ctx, transport.Request{
			Method:    http.MethodGet,
			Path:      h.StatusURL,
			Operation: operation,
		})
		if err != nil {
			return Result{Attempts: attempt}, err
		}
		status, doc, err := decodeStatus(resp.Body)
		if err != nil {
			return Result{Attempts: attempt, Raw: resp.Body}, fmt.Errorf("%s %s: decode status: %w", h.Service, h.Kind, err)
		}
		last = string(status)

		p.logger.Debug().
			Str("service", h.Service).
			Str("job_id", h.ID).
			Str("status", last).
			Int("attempt", attempt).
			Msg("jobs: status")

		if status.Terminal() {
			return Result{
				Status:   status,
				Outputs:  doc.outputs(),
				Detail:   doc.detail(),
				Raw:      json.RawMessage(resp.Body),
				Attempts: attempt,
			}, nil
		}

		elapsed := p.now().Sub(start)
		if attempt >= p.opts.MaxAttempts || p.now().Add(interval).After(deadline) {
			return Result{Status: status, Raw: resp.Body, Attempts: attempt}, &domain.PollTimeoutError{
				StatusURL:  h.StatusURL,
				Attempts:   attempt,
				Elapsed:    elapsed,
				LastStatus: last,
			}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Status: status, Attempts: attempt}, ctx.Err()
		case <-timer.C:
		}
		interval = p.next(interval)
	}
}

func (p *Poller) next(interval time.Duration) time.Duration {
	if p.opts.Multiplier <= 1 {
		return interval
	}
	grown := time.Duration(float64(interval) * p.opts.Multiplier)
	if grown > p.opts.MaxInterval {
		return p.opts.MaxInterval
	}
	return grown
}
