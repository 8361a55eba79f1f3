// Package ims exchanges client credentials for short-lived bearer tokens.
package ims

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
)

// Options configures a token provider for one set of credentials.
type Options struct {
	// Service names the credentials in errors and logs ("firefly", "photoshop").
	Service      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Scope is sent verbatim; the identity service expects a comma separated list.
	Scope      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Provider caches one bearer token and refreshes it when it expires or when
// a caller reports it was rejected. Safe for concurrent use.
type Provider struct {
	service    string
	cfg        clientcredentials.Config
	httpClient *http.Client
	logger     *infra.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewProvider builds a provider. Missing credentials are reported on the
// first Token call as an AuthError.
func NewProvider(opts Options) *Provider {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	params := url.Values{}
	if scope := strings.TrimSpace(opts.Scope); scope != "" {
		params.Set("scope", scope)
	}
	return &Provider{
		service: opts.Service,
		cfg: clientcredentials.Config{
			ClientID:       strings.TrimSpace(opts.ClientID),
			ClientSecret:   strings.TrimSpace(opts.ClientSecret),
			TokenURL:       opts.TokenURL,
			EndpointParams: params,
			AuthStyle:      oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		logger:     logger,
	}
}

// ClientID is sent as the x-api-key header alongside the bearer token.
func (p *Provider) ClientID() string {
	return p.cfg.ClientID
}

// Token returns a cached token or performs one credential exchange.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != nil && p.token.Valid() {
		return p.token.AccessToken, nil
	}
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return "", &domain.AuthError{Service: p.service, Err: errors.New("client id and secret are required")}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.cfg.Token(ctx)
	if err != nil {
		return "", p.authError(err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return "", &domain.AuthError{Service: p.service, Err: errors.New("response lacks access_token")}
	}
	p.token = tok
	p.logger.Debug().Str("service", p.service).Time("expires", tok.Expiry).Msg("ims: token acquired")
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next Token call re-authenticates.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.token = nil
	p.mu.Unlock()
}

func (p *Provider) authError(err error) error {
	authErr := &domain.AuthError{Service: p.service, Err: err}
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		authErr.Body = string(retrieve.Body)
		if retrieve.Response != nil {
			authErr.Status = retrieve.Response.StatusCode
		}
		authErr.Err = errors.New("token request rejected")
	}
	return authErr
}
