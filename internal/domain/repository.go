package domain

import (
	"context"
	"time"
)

// JobRepository persists the job ledger.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Close(ctx context.Context, jobID string, status JobStatus, errMsg *string, resultJSON []byte) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	ListOpen(ctx context.Context, olderThan time.Duration) ([]Job, error)
	RecordUnit(ctx context.Context, unit *UnitOutcome) error
	ListFailedUnits(ctx context.Context, runID string) ([]UnitOutcome, error)
}
