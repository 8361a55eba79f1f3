package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fireflow/internal/domain"
)

type jobResponse struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Unit      string          `json:"unit"`
	Stage     string          `json:"stage"`
	Service   string          `json:"service"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	StatusURL string          `json:"status_url"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JobStatus reads one ledger record.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	if a.Jobs == nil {
		a.error(w, http.StatusServiceUnavailable, "not_configured", "job ledger is not configured")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	resp := jobResponse{
		ID:        job.ID,
		RunID:     job.RunID,
		Unit:      job.Unit,
		Stage:     job.Stage,
		Service:   job.Service,
		Kind:      string(job.Kind),
		Status:    string(job.Status),
		StatusURL: job.StatusURL,
		Error:     job.ErrorMessage,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if len(job.ResultJSON) > 0 {
		resp.Result = json.RawMessage(job.ResultJSON)
	}
	a.json(w, http.StatusOK, resp)
}

type unitResponse struct {
	Unit      string            `json:"unit"`
	Params    map[string]string `json:"params,omitempty"`
	Stage     string            `json:"stage"`
	Outcome   string            `json:"outcome"`
	Error     string            `json:"error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// FailedUnits lists the units of a run that failed or were skipped, with the
// stage each stopped at, so they can be re-run on their own.
func (a *App) FailedUnits(w http.ResponseWriter, r *http.Request) {
	if a.Jobs == nil {
		a.error(w, http.StatusServiceUnavailable, "not_configured", "job ledger is not configured")
		return
	}
	runID := chi.URLParam(r, "run_id")
	units, err := a.Jobs.ListFailedUnits(r.Context(), runID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load units")
		return
	}
	resp := make([]unitResponse, 0, len(units))
	for _, u := range units {
		resp = append(resp, unitResponse{
			Unit:      u.Unit,
			Params:    u.Params,
			Stage:     u.Stage,
			Outcome:   u.Outcome,
			Error:     u.Error,
			UpdatedAt: u.UpdatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"run_id": runID, "failed_units": resp})
}
