// Package pipeline chains remote operations into per-unit stage lists and
// runs independent units with bounded concurrency.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
	"fireflow/internal/jobs"
)

// StageFunc consumes the previous stage's references and returns its own.
type StageFunc func(ctx context.Context, step *Step, in []domain.AssetReference) ([]domain.AssetReference, error)

// Stage is one named step of a unit.
type Stage struct {
	Name string
	Run  StageFunc
}

// Unit is an independent chain of stages, identified by the parameters that
// produced it so a failed unit can be re-run on its own.
type Unit struct {
	Params map[string]string
	Inputs []domain.AssetReference
	Stages []Stage
}

// Key renders the unit parameters as "k=v k=v" in key order.
func (u Unit) Key() string {
	keys := make([]string, 0, len(u.Params))
	for k := range u.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+u.Params[k])
	}
	return strings.Join(parts, " ")
}

// Outcome classifies a unit report.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Report describes how one unit ended. Stage names the failed stage, or the
// last stage on success.
type Report struct {
	Unit     string
	Params   map[string]string
	Stage    string
	Outcome  Outcome
	Outputs  []domain.AssetReference
	Err      error
	Duration time.Duration
}

// Failed reports whether the unit did not complete.
func (r Report) Failed() bool {
	return r.Outcome != OutcomeSucceeded
}

// Skipped builds the report for a unit that never ran because an input it
// needed came from a failed unit.
func Skipped(params map[string]string, stage string, cause error) Report {
	u := Unit{Params: params}
	return Report{Unit: u.Key(), Params: params, Stage: stage, Outcome: OutcomeSkipped, Err: cause}
}

// Options configures a Composer.
type Options struct {
	RunID       string
	Concurrency int
	Recorder    Recorder
	Logger      *infra.Logger
}

// Composer runs units. Stages within a unit run in order; units are
// independent and a failure never stops a sibling.
type Composer struct {
	runID       string
	concurrency int
	recorder    Recorder
	logger      *infra.Logger
}

// NewComposer applies defaults: sequential execution and no ledger.
func NewComposer(opts Options) *Composer {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Recorder == nil {
		opts.Recorder = NopRecorder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Composer{runID: opts.RunID, concurrency: opts.Concurrency, recorder: opts.Recorder, logger: logger}
}

// RunID identifies the run in the ledger.
func (c *Composer) RunID() string { return c.runID }

// Run executes every unit and returns one report per unit, in input order.
func (c *Composer) Run(ctx context.Context, units []Unit) []Report {
	reports := make([]Report, len(units))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i := range units {
		g.Go(func() error {
			reports[i] = c.runUnit(ctx, units[i])
			return nil
		})
	}
	_ = g.Wait()
	c.Record(ctx, reports...)
	return reports
}

// Record stores the outcome of each report in the ledger. Run records its own
// reports; callers record units they skipped without running.
func (c *Composer) Record(ctx context.Context, reports ...Report) {
	if len(reports) == 0 {
		return
	}
	// Outcomes are written even when the run was interrupted.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, r := range reports {
		unit := &domain.UnitOutcome{
			RunID:   c.runID,
			Unit:    r.Unit,
			Params:  r.Params,
			Stage:   r.Stage,
			Outcome: string(r.Outcome),
		}
		if r.Err != nil {
			unit.Error = r.Err.Error()
		}
		if err := c.recorder.RecordUnit(ctx, unit); err != nil {
			c.logger.Warn().Err(err).Str("run_id", c.runID).Str("unit", r.Unit).Msg("pipeline: ledger unit failed")
		}
	}
}

func (c *Composer) runUnit(ctx context.Context, u Unit) Report {
	start := time.Now()
	key := u.Key()
	report := Report{Unit: key, Params: u.Params, Outcome: OutcomeSucceeded}
	refs := u.Inputs
	log := c.logger.With().Str("run_id", c.runID).Str("unit", key).Logger()

	for _, stage := range u.Stages {
		report.Stage = stage.Name
		if err := ctx.Err(); err != nil {
			report.Outcome, report.Err = OutcomeFailed, err
			break
		}
		step := &Step{composer: c, unit: key, stage: stage.Name, logger: &log}
		out, err := stage.Run(ctx, step, refs)
		if err != nil {
			report.Outcome = OutcomeFailed
			report.Err = fmt.Errorf("%s: %w", stage.Name, err)
			log.Error().Err(err).Str("stage", stage.Name).Msg("pipeline: unit aborted")
			break
		}
		log.Debug().Str("stage", stage.Name).Int("outputs", len(out)).Msg("pipeline: stage done")
		refs = out
	}
	if report.Outcome == OutcomeSucceeded {
		report.Outputs = refs
		log.Info().Dur("elapsed", time.Since(start)).Msg("pipeline: unit completed")
	}
	report.Duration = time.Since(start)
	return report
}

// Waiter polls a submitted job.
type Waiter interface {
	Wait(ctx context.Context, h jobs.Handle) (jobs.Result, error)
}

// Step is handed to a running stage so asynchronous jobs it submits are
// recorded against the right run, unit and stage.
type Step struct {
	composer *Composer
	unit     string
	stage    string
	logger   *infra.Logger
}

// Logger carries run, unit and stage fields.
func (s *Step) Logger() *infra.Logger { return s.logger }

// Await records h in the ledger, waits for a terminal status and closes the
// record. A failed job comes back as a JobFailedError so the unit aborts;
// a job that is still running when polling gives up stays open in the
// ledger.
func (s *Step) Await(ctx context.Context, h jobs.Handle, w Waiter) (jobs.Result, error) {
	job := &domain.Job{
		ID:        uuid.NewString(),
		RunID:     s.composer.runID,
		Unit:      s.unit,
		Stage:     s.stage,
		Service:   h.Service,
		Kind:      h.Kind,
		StatusURL: h.StatusURL,
		Status:    domain.JobStatusRunning,
	}
	recorded := true
	if err := s.composer.recorder.Open(ctx, job); err != nil {
		recorded = false
		s.logger.Warn().Err(err).Str("job_id", h.ID).Msg("pipeline: ledger open failed")
	}

	res, err := w.Wait(ctx, h)
	if err != nil {
		var timeout *domain.PollTimeoutError
		if errors.As(err, &timeout) {
			s.logger.Warn().Str("job_id", h.ID).Str("status_url", h.StatusURL).Msg("pipeline: job left open")
		}
		return res, err
	}

	if recorded {
		var errMsg *string
		if res.Status == domain.JobStatusFailed {
			detail := res.Detail
			errMsg = &detail
		}
		// Close even when ctx was cancelled after the terminal status arrived.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.composer.recorder.Close(closeCtx, job.ID, res.Status, errMsg, resultJSON(res.Raw)); err != nil {
			s.logger.Warn().Err(err).Str("job_id", h.ID).Msg("pipeline: ledger close failed")
		}
	}
	if err := res.Failed(h); err != nil {
		return res, err
	}
	return res, nil
}

// Summarize counts outcomes.
func Summarize(reports []Report) (succeeded, failed, skipped int) {
	for _, r := range reports {
		switch r.Outcome {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeSkipped:
			skipped++
		default:
			failed++
		}
	}
	return succeeded, failed, skipped
}
