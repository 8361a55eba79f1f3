package handlers

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"fireflow/internal/firefly"
	"fireflow/internal/middleware"
	"fireflow/internal/naming"
	"fireflow/pkg/zip"
)

const maxImagesPerRequest = 4

type imageGenerateRequest struct {
	Prompt           string   `json:"prompt"`
	N                int      `json:"n"`
	ContentClass     string   `json:"content_class"`
	Size             string   `json:"size"`
	Styles           []string `json:"styles"`
	Seeds            []int64  `json:"seeds"`
	ReferenceImageID string   `json:"reference_image_id"`
}

type imageOutput struct {
	Name    string `json:"name"`
	Seed    int64  `json:"seed"`
	ImageID string `json:"image_id"`
	URL     string `json:"url"`
}

// ImagesGenerate runs one text-to-image job. With ?format=zip the outputs are
// downloaded and streamed back as an archive instead of returned as links.
func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	if a.Images == nil {
		a.error(w, http.StatusServiceUnavailable, "not_configured", "image generation is not configured")
		return
	}
	var req imageGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}
	if req.N <= 0 {
		req.N = 1
	}
	if req.N > maxImagesPerRequest {
		req.N = maxImagesPerRequest
	}
	if req.ContentClass == "" {
		req.ContentClass = "photo"
	}
	if req.ContentClass != "photo" && req.ContentClass != "art" {
		a.error(w, http.StatusBadRequest, "bad_request", "content_class must be photo or art")
		return
	}
	var size naming.Size
	if req.Size != "" {
		var err error
		if size, err = naming.ParseSize(req.Size); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}

	outputs, err := a.Images.Generate(r.Context(), firefly.GenerateRequest{
		Prompt:           req.Prompt,
		N:                req.N,
		ContentClass:     req.ContentClass,
		Size:             size,
		Presets:          req.Styles,
		Seeds:            req.Seeds,
		ReferenceImageID: req.ReferenceImageID,
	})
	if err != nil {
		a.log(r).Error().Err(err).Msg("images: generate failed")
		a.remoteError(w, err)
		return
	}

	style := strings.Join(req.Styles, "+")
	resp := make([]imageOutput, 0, len(outputs))
	for _, out := range outputs {
		resp = append(resp, imageOutput{
			Name:    naming.OutputName(naming.Key{Prompt: req.Prompt, Style: style, Size: size, Seed: out.Seed}),
			Seed:    out.Seed,
			ImageID: out.ImageID,
			URL:     out.URL,
		})
	}

	if r.URL.Query().Get("format") == "zip" {
		a.writeArchive(w, r, resp)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"outputs": resp})
}

func (a *App) writeArchive(w http.ResponseWriter, r *http.Request, outputs []imageOutput) {
	if a.Fetcher == nil || a.Scratch == nil {
		a.error(w, http.StatusServiceUnavailable, "not_configured", "archive downloads are not configured")
		return
	}
	dir := middleware.RequestIDFromContext(r.Context())
	if dir == "" {
		dir = uuid.NewString()
	}
	defer func() {
		if err := a.Scratch.Remove(dir); err != nil {
			a.log(r).Warn().Err(err).Str("dir", dir).Msg("images: archive cleanup failed")
		}
	}()
	entries := make([]zip.Entry, 0, len(outputs))
	for _, out := range outputs {
		dst, err := a.Scratch.Path(path.Join(dir, out.Name))
		if err != nil {
			a.error(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		if _, err := a.Fetcher.Fetch(r.Context(), out.URL, dst); err != nil {
			a.remoteError(w, err)
			return
		}
		entries = append(entries, zip.Entry{Name: out.Name, Path: dst})
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="images.zip"`)
	if err := zip.Write(w, entries); err != nil {
		// Headers are gone; the truncated archive is all the client gets.
		a.log(r).Error().Err(err).Msg("images: archive write failed")
	}
}
