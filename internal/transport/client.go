// Package transport issues authenticated JSON calls against the remote
// services with bounded retries and a per-service circuit breaker.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
)

// TokenSource supplies the bearer token and API key for a service.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
	ClientID() string
}

// Options configures a Client.
type Options struct {
	Service     string
	BaseURL     string
	Tokens      TokenSource
	HTTPClient  *http.Client
	Logger      *infra.Logger
	MaxAttempts int
	// RetryInterval is the first backoff delay; it grows exponentially.
	RetryInterval time.Duration
}

// Client performs authenticated requests for one remote service.
type Client struct {
	service       string
	baseURL       string
	tokens        TokenSource
	httpClient    *http.Client
	logger        *infra.Logger
	maxAttempts   int
	retryInterval time.Duration
	breaker       *gobreaker.CircuitBreaker
}

// Request describes one call. Body is JSON encoded unless Open is set, in
// which case the raw stream returned by Open is sent; Open is called again on
// every attempt so retries resend the whole payload.
type Request struct {
	Method        string
	Path          string
	Operation     string
	Body          any
	Open          func() (io.ReadCloser, error)
	ContentType   string
	ContentLength int64
	// Anonymous skips the Authorization and x-api-key headers (pre-signed links).
	Anonymous bool
	// Header is added to every attempt, e.g. a key-authenticated service.
	Header http.Header
}

// Response holds a fully read response body.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the body into out.
func (r *Response) Decode(out any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return domain.ErrEmptyResponse
	}
	return json.Unmarshal(r.Body, out)
}

// NewClient builds a client with defaults for anything left unset.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 4
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	service := opts.Service
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("service", name).Str("from", from.String()).Str("to", to.String()).Msg("transport: breaker state changed")
		},
	})
	return &Client{
		service:       service,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		tokens:        opts.Tokens,
		httpClient:    httpClient,
		logger:        logger,
		maxAttempts:   attempts,
		retryInterval: interval,
		breaker:       breaker,
	}
}

// Service returns the configured service name.
func (c *Client) Service() string {
	return c.service
}

// Do sends the request and returns the response when the status is 2xx.
// Transient failures are retried with exponential backoff; a 401 drops the
// cached token and the call is repeated once with a fresh one. Any other
// non-2xx status becomes a SubmissionError carrying the raw body.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.attempt(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized && !req.Anonymous && c.tokens != nil {
		c.logger.Info().Str("service", c.service).Str("operation", req.Operation).Msg("transport: token rejected, renewing")
		c.tokens.Invalidate()
		resp, err = c.attempt(ctx, req)
		if err != nil {
			return nil, err
		}
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return resp, &domain.SubmissionError{
			Service:   c.service,
			Operation: req.Operation,
			Status:    resp.Status,
			Body:      string(resp.Body),
		}
	}
	return resp, nil
}

// Submit POSTs a JSON payload to path and decodes the 2xx body into out.
func (c *Client) Submit(ctx context.Context, operation, path string, body, out any) (*Response, error) {
	return c.JSON(ctx, Request{Method: http.MethodPost, Path: path, Operation: operation, Body: body}, out)
}

// JSON sends the request and decodes a 2xx body into out.
func (c *Client) JSON(ctx context.Context, req Request, out any) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	if out == nil {
		return resp, nil
	}
	if err := resp.Decode(out); err != nil {
		return resp, fmt.Errorf("%s %s: decode response: %w", c.service, req.Operation, err)
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.MaxInterval = 10 * c.retryInterval

	tries := 0
	operation := func() (*Response, error) {
		tries++
		out, err := c.breaker.Execute(func() (interface{}, error) {
			resp, err := c.send(ctx, req)
			if err != nil {
				return nil, err
			}
			if retryableStatus(resp.Status) {
				return resp, &statusError{resp: resp}
			}
			return resp, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backoff.Permanent(fmt.Errorf("%s %s: service unavailable: %w", c.service, req.Operation, err))
		}
		var se *statusError
		if errors.As(err, &se) {
			c.logger.Warn().Str("service", c.service).Str("operation", req.Operation).Int("status", se.resp.Status).Int("attempt", tries).Msg("transport: transient status")
			return se.resp, err
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			var permanent *permanentError
			if errors.As(err, &permanent) {
				return nil, backoff.Permanent(permanent.err)
			}
			c.logger.Warn().Err(err).Str("service", c.service).Str("operation", req.Operation).Int("attempt", tries).Msg("transport: request failed")
			return nil, err
		}
		return out.(*Response), nil
	}

	resp, err := backoff.Retry(ctx, operation, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(c.maxAttempts)))
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			// Out of retries on a 5xx/429: surface it as a normal response
			// so Do reports the remote body.
			return se.resp, nil
		}
		return nil, &domain.TransferError{Op: c.service + " " + req.Operation, Target: c.url(req.Path), Err: err}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	body, err := c.body(req)
	if err != nil {
		return nil, &permanentError{err: err}
	}
	if body != nil {
		defer body.Close()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.url(req.Path), body)
	if err != nil {
		return nil, &permanentError{err: fmt.Errorf("build request: %w", err)}
	}
	if req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}
	if ct := c.contentType(req); ct != "" {
		httpReq.Header.Set("Content-Type", ct)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if !req.Anonymous && c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, &permanentError{err: err}
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("x-api-key", c.tokens.ClientID())
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: raw}, nil
}

func (c *Client) body(req Request) (io.ReadCloser, error) {
	if req.Open != nil {
		return req.Open()
	}
	if req.Body == nil {
		return nil, nil
	}
	raw, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (c *Client) contentType(req Request) string {
	if req.ContentType != "" {
		return req.ContentType
	}
	if req.Body != nil && req.Open == nil {
		return "application/json"
	}
	return ""
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

type statusError struct {
	resp *Response
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d", e.resp.Status)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
