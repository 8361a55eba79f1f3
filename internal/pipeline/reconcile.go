package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
	"fireflow/internal/jobs"
)

// OpenJobLister is the part of the job ledger the reconciler reads.
type OpenJobLister interface {
	ListOpen(ctx context.Context, olderThan time.Duration) ([]domain.Job, error)
}

// Reconciler re-polls ledger records a run left open (the process exited or
// polling gave up) and closes those that have since reached a terminal
// status.
type Reconciler struct {
	ledger   OpenJobLister
	recorder Recorder
	waiters  map[string]Waiter
	logger   *infra.Logger
}

// NewReconciler maps service names to the clients that can poll them.
func NewReconciler(ledger OpenJobLister, recorder Recorder, waiters map[string]Waiter, logger *infra.Logger) *Reconciler {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Reconciler{ledger: ledger, recorder: recorder, waiters: waiters, logger: logger}
}

// ReconcileStats counts what one pass did. Errored records could not be
// polled this pass and stay open for the next one.
type ReconcileStats struct {
	Checked   int
	Closed    int
	StillOpen int
	Skipped   int
	Errored   int
}

// Reconcile checks every record open for longer than olderThan. A record
// whose status URL no longer resolves is closed as failed; other poll errors
// are logged and the pass moves on to the next record.
func (r *Reconciler) Reconcile(ctx context.Context, olderThan time.Duration) (ReconcileStats, error) {
	var stats ReconcileStats
	open, err := r.ledger.ListOpen(ctx, olderThan)
	if err != nil {
		return stats, err
	}
	for _, job := range open {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		log := r.logger.With().Str("job_id", job.ID).Str("service", job.Service).Str("unit", job.Unit).Logger()
		w, ok := r.waiters[job.Service]
		if !ok || job.StatusURL == "" {
			stats.Skipped++
			log.Warn().Msg("reconcile: no poller for service")
			continue
		}
		stats.Checked++
		kind := job.Kind
		if kind == "" {
			kind = domain.JobKind(job.Stage)
		}
		res, err := w.Wait(ctx, jobs.Handle{ID: job.ID, StatusURL: job.StatusURL, Service: job.Service, Kind: kind})
		if err != nil {
			var (
				timeout *domain.PollTimeoutError
				sub     *domain.SubmissionError
			)
			switch {
			case errors.As(err, &timeout):
				stats.StillOpen++
				log.Info().Str("status", timeout.LastStatus).Msg("reconcile: still running")
				continue
			case errors.As(err, &sub) && (sub.Status == http.StatusNotFound || sub.Status == http.StatusGone):
				res = jobs.Result{Status: domain.JobStatusFailed, Detail: sub.Error()}
			case ctx.Err() != nil:
				return stats, ctx.Err()
			default:
				stats.Errored++
				log.Error().Err(err).Msg("reconcile: poll failed")
				continue
			}
		}
		var errMsg *string
		if res.Status == domain.JobStatusFailed {
			detail := res.Detail
			errMsg = &detail
		}
		if err := r.recorder.Close(ctx, job.ID, res.Status, errMsg, resultJSON(res.Raw)); err != nil {
			stats.Errored++
			log.Error().Err(err).Msg("reconcile: close failed")
			continue
		}
		stats.Closed++
		log.Info().Str("status", string(res.Status)).Msg("reconcile: closed")
	}
	return stats, nil
}
