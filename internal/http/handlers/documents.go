package handlers

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"
)

type documentGenerateRequest struct {
	Template     string          `json:"template"`
	OutputFormat string          `json:"output_format"`
	Data         json.RawMessage `json:"data"`
}

// DocumentsGenerate merges data into a stored template and returns the
// download link of the generated document.
func (a *App) DocumentsGenerate(w http.ResponseWriter, r *http.Request) {
	if a.Documents == nil || a.Templates == nil {
		a.error(w, http.StatusServiceUnavailable, "not_configured", "document generation is not configured")
		return
	}
	var req documentGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Template) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "template is required")
		return
	}
	if req.OutputFormat == "" {
		req.OutputFormat = "pdf"
	}
	if req.OutputFormat != "pdf" && req.OutputFormat != "docx" {
		a.error(w, http.StatusBadRequest, "bad_request", "output_format must be pdf or docx")
		return
	}
	if len(req.Data) == 0 || !json.Valid(req.Data) || req.Data[0] != '{' {
		a.error(w, http.StatusBadRequest, "bad_request", "data must be a JSON object")
		return
	}
	file, err := a.Templates.Path(req.Template)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		a.error(w, http.StatusNotFound, "not_found", "template not found")
		return
	}

	asset, err := a.Documents.Generate(r.Context(), file, req.OutputFormat, req.Data)
	if err != nil {
		a.log(r).Error().Err(err).Str("template", req.Template).Msg("documents: generate failed")
		a.remoteError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{
		"asset_id":      asset.ID,
		"download_url":  asset.URL,
		"output_format": req.OutputFormat,
	})
}
