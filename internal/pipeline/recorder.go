package pipeline

import (
	"context"
	"encoding/json"

	"fireflow/internal/domain"
)

// Recorder keeps the job ledger: one record per submitted handle, closed
// with the terminal status once it is observed, and one outcome per unit.
type Recorder interface {
	Open(ctx context.Context, job *domain.Job) error
	Close(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string, resultJSON []byte) error
	RecordUnit(ctx context.Context, unit *domain.UnitOutcome) error
}

// LedgerRecorder writes through a job repository.
type LedgerRecorder struct {
	repo domain.JobRepository
}

// NewLedgerRecorder wraps repo.
func NewLedgerRecorder(repo domain.JobRepository) *LedgerRecorder {
	return &LedgerRecorder{repo: repo}
}

func (r *LedgerRecorder) Open(ctx context.Context, job *domain.Job) error {
	return r.repo.Create(ctx, job)
}

func (r *LedgerRecorder) Close(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string, resultJSON []byte) error {
	return r.repo.Close(ctx, jobID, status, errMsg, resultJSON)
}

func (r *LedgerRecorder) RecordUnit(ctx context.Context, unit *domain.UnitOutcome) error {
	return r.repo.RecordUnit(ctx, unit)
}

// NopRecorder is used when no database is configured.
type NopRecorder struct{}

func (NopRecorder) Open(context.Context, *domain.Job) error { return nil }

func (NopRecorder) Close(context.Context, string, domain.JobStatus, *string, []byte) error {
	return nil
}

func (NopRecorder) RecordUnit(context.Context, *domain.UnitOutcome) error { return nil }

func resultJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}
