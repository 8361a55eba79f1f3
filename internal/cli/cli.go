// Package cli holds the start-up plumbing shared by the command binaries.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fireflow/internal/adapter/repo"
	"fireflow/internal/domain"
	"fireflow/internal/infra"
	"fireflow/internal/pipeline"
	"fireflow/internal/storage"
)

// Bootstrap loads configuration and a logger and returns a context that is
// cancelled on SIGINT or SIGTERM. Configuration errors end the process.
func Bootstrap() (context.Context, context.CancelFunc, *infra.Config, *infra.Logger) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	appEnv := cfg.AppEnv
	if appEnv == "development" {
		appEnv = "cli"
	}
	logger := infra.NewLogger(appEnv)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx, stop, cfg, &logger
}

// Ledger is the optional job ledger. Repo is nil when no database is
// configured and Recorder is then a no-op.
type Ledger struct {
	Recorder pipeline.Recorder
	Repo     *repo.JobRepositoryPG
	close    func()
}

// Close releases the database pool, if any.
func (l *Ledger) Close() {
	if l.close != nil {
		l.close()
	}
}

// OpenLedger connects to DATABASE_URL when it is set and makes sure the
// ledger table exists.
func OpenLedger(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Ledger, error) {
	if cfg.DatabaseURL == "" {
		logger.Debug().Msg("ledger: DATABASE_URL unset, jobs are not recorded")
		return &Ledger{Recorder: pipeline.NopRecorder{}}, nil
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	jobs := repo.NewJobRepository(infra.NewSQLRunner(pool, *logger))
	if err := jobs.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger schema: %w", err)
	}
	return &Ledger{Recorder: pipeline.NewLedgerRecorder(jobs), Repo: jobs, close: pool.Close}, nil
}

// NewTransfer builds the downloader with the configured retry budget.
func NewTransfer(cfg *infra.Config, logger *infra.Logger) *storage.Transfer {
	return storage.NewTransfer(storage.TransferOptions{
		HTTPClient:  &http.Client{Timeout: 5 * cfg.RequestTimeout},
		MaxAttempts: cfg.RetryMaxAttempts,
		Logger:      logger,
	})
}

// OutputStore opens dir, falling back to OUTPUT_DIR.
func OutputStore(cfg *infra.Config, dir string) (*storage.FileStore, error) {
	if dir == "" {
		dir = cfg.OutputDir
	}
	return storage.NewFileStore(dir)
}

// Report logs one line per unit and a summary, and returns the process exit
// code: 0 when every unit succeeded, 1 otherwise.
func Report(logger *infra.Logger, reports []pipeline.Report) int {
	for _, r := range reports {
		ev := logger.Info()
		if r.Failed() {
			ev = logger.Error().Err(r.Err)
		}
		ev.Str("unit", r.Unit).Str("stage", r.Stage).Str("outcome", string(r.Outcome)).
			Int("outputs", len(r.Outputs)).Dur("elapsed", r.Duration).Msg("unit")
	}
	ok, failed, skipped := pipeline.Summarize(reports)
	logger.Info().Int("succeeded", ok).Int("failed", failed).Int("skipped", skipped).Msg("run finished")
	if failed+skipped > 0 {
		return 1
	}
	return 0
}

type unitSummary struct {
	Unit      string            `json:"unit"`
	Params    map[string]string `json:"params,omitempty"`
	Stage     string            `json:"stage"`
	Outcome   string            `json:"outcome"`
	Error     string            `json:"error,omitempty"`
	Outputs   []string          `json:"outputs,omitempty"`
	ElapsedMS int64             `json:"elapsed_ms"`
}

type runSummary struct {
	RunID     string        `json:"run_id"`
	Finished  time.Time     `json:"finished_at"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Units     []unitSummary `json:"units"`
}

// WriteSummary stores runs/<runID>.json in store: one entry per unit with
// its outcome, stage and outputs. It is the record of a run when no
// database ledger is configured.
func WriteSummary(ctx context.Context, store *storage.FileStore, runID string, reports []pipeline.Report) (string, error) {
	sum := runSummary{RunID: runID, Finished: time.Now().UTC(), Units: make([]unitSummary, 0, len(reports))}
	sum.Succeeded, sum.Failed, sum.Skipped = pipeline.Summarize(reports)
	for _, r := range reports {
		u := unitSummary{
			Unit:      r.Unit,
			Params:    r.Params,
			Stage:     r.Stage,
			Outcome:   string(r.Outcome),
			ElapsedMS: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			u.Error = r.Err.Error()
		}
		for _, out := range r.Outputs {
			u.Outputs = append(u.Outputs, out.Href())
		}
		sum.Units = append(sum.Units, u)
	}
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return "", err
	}
	return store.Write(ctx, "runs/"+runID+".json", data)
}

// Exit logs err with context and ends the process. Configuration errors use
// exit code 2 so scripts can tell them from remote failures.
func Exit(logger *infra.Logger, err error, msg string) {
	logger.Error().Err(err).Msg(msg)
	code := 1
	var cfgErr *domain.ConfigError
	if errors.As(err, &cfgErr) {
		code = 2
	}
	os.Exit(code)
}
