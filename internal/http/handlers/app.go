// Package handlers exposes the generation services over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"fireflow/internal/domain"
	"fireflow/internal/firefly"
	"fireflow/internal/infra"
	"fireflow/internal/middleware"
	"fireflow/internal/storage"
)

// ImageGenerator is the text-to-image call behind POST /v1/images/generate.
type ImageGenerator interface {
	Generate(ctx context.Context, req firefly.GenerateRequest) ([]firefly.Output, error)
}

// DocumentGenerator merges JSON data into a template document.
type DocumentGenerator interface {
	Generate(ctx context.Context, template, outputFormat string, data json.RawMessage) (domain.AssetReference, error)
}

// Fetcher downloads generated outputs for archive responses.
type Fetcher interface {
	Fetch(ctx context.Context, url, dst string) (storage.Checksum, error)
}

// App holds the handler dependencies. Nil services answer 503 so the API can
// run with a subset of credentials configured.
type App struct {
	Images    ImageGenerator
	Documents DocumentGenerator
	Jobs      domain.JobRepository
	Fetcher   Fetcher
	// Templates resolves template names for document generation.
	Templates *storage.FileStore
	// Scratch receives downloads that are streamed back as archives.
	Scratch *storage.FileStore
	Logger  *infra.Logger
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]errorBody{"error": {Code: errCode, Message: message}})
}

func (a *App) logger() *infra.Logger {
	if a.Logger == nil {
		return infra.NopLogger()
	}
	return a.Logger
}

// log returns the request-scoped logger tagged with the request id.
func (a *App) log(r *http.Request) *infra.Logger {
	return middleware.LoggerFromContext(r.Context(), a.logger())
}
