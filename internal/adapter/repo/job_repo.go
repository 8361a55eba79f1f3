package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
	"fireflow/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a ledger backed by PostgreSQL. db is normally an
// *infra.SQLRunner wrapping the pool.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// EnsureSchema creates the ledger table when it does not exist.
func (r *JobRepositoryPG) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, sqlinline.QJobsEnsureSchema)
	return err
}

// Create opens a ledger record. A missing ID is assigned.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	row := r.db.QueryRow(ctx, sqlinline.QJobsInsert,
		job.ID,
		job.RunID,
		job.Unit,
		job.Stage,
		job.Service,
		string(job.Kind),
		job.StatusURL,
		string(job.Status),
	)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return fmt.Errorf("ledger create %s: %w", job.ID, err)
	}
	return nil
}

// Close records the terminal status, and optionally error and result payloads.
func (r *JobRepositoryPG) Close(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string, resultJSON []byte) error {
	tag, err := r.db.Exec(ctx, sqlinline.QJobsClose, jobID, string(status), errMsg, nullableBytes(resultJSON))
	if err != nil {
		return fmt.Errorf("ledger close %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QJobsGetByID, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListOpen returns jobs still pending or running that were opened more than
// olderThan ago.
func (r *JobRepositoryPG) ListOpen(ctx context.Context, olderThan time.Duration) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, sqlinline.QJobsListOpen, olderThan.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// RecordUnit stores how a unit ended. Recording the same unit of a run again
// replaces the earlier outcome.
func (r *JobRepositoryPG) RecordUnit(ctx context.Context, unit *domain.UnitOutcome) error {
	params, err := json.Marshal(unit.Params)
	if err != nil {
		return fmt.Errorf("ledger unit %s: %w", unit.Unit, err)
	}
	if unit.Params == nil {
		params = []byte("{}")
	}
	row := r.db.QueryRow(ctx, sqlinline.QUnitsUpsert,
		unit.RunID,
		unit.Unit,
		params,
		unit.Stage,
		unit.Outcome,
		unit.Error,
	)
	if err := row.Scan(&unit.UpdatedAt); err != nil {
		return fmt.Errorf("ledger unit %s: %w", unit.Unit, err)
	}
	return nil
}

// ListFailedUnits returns the units of a run that failed or were skipped,
// with the stage and cause of each.
func (r *JobRepositoryPG) ListFailedUnits(ctx context.Context, runID string) ([]domain.UnitOutcome, error) {
	rows, err := r.db.Query(ctx, sqlinline.QJobsListFailedUnits, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []domain.UnitOutcome
	for rows.Next() {
		u := domain.UnitOutcome{RunID: runID}
		var params []byte
		if err := rows.Scan(&u.Unit, &params, &u.Stage, &u.Outcome, &u.Error, &u.UpdatedAt); err != nil {
			return nil, err
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &u.Params); err != nil {
				return nil, fmt.Errorf("ledger unit %s params: %w", u.Unit, err)
			}
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job    domain.Job
		kind   string
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.RunID,
		&job.Unit,
		&job.Stage,
		&job.Service,
		&kind,
		&job.StatusURL,
		&status,
		&job.ResultJSON,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
