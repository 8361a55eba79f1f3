// Command reconcile closes job ledger records left open by interrupted or
// timed-out runs, once per invocation or in a loop with -every.
package main

import (
	"errors"
	"flag"
	"time"

	"fireflow/internal/cli"
	"fireflow/internal/domain"
	"fireflow/internal/pdfservices"
	"fireflow/internal/photoshop"
	"fireflow/internal/pipeline"
)

func main() {
	olderThan := flag.Duration("older-than", 5*time.Minute, "only check records open at least this long")
	every := flag.Duration("every", 0, "repeat at this interval until interrupted (0 runs once)")
	flag.Parse()

	ctx, stop, cfg, logger := cli.Bootstrap()
	defer stop()

	if cfg.DatabaseURL == "" {
		cli.Exit(logger, &domain.ConfigError{Missing: []string{"DATABASE_URL"}, Reason: "job ledger"}, "reconcile: no ledger")
	}
	ledger, err := cli.OpenLedger(ctx, cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "reconcile: ledger")
	}
	defer ledger.Close()

	// Only services with credentials can be polled; records of the others
	// are reported as skipped.
	waiters := map[string]pipeline.Waiter{}
	if ps, err := photoshop.NewFromConfig(cfg, logger); err == nil {
		waiters["photoshop"] = ps
	}
	if pdf, err := pdfservices.NewFromConfig(cfg, logger); err == nil {
		waiters["pdfservices"] = pdf
	}
	reconciler := pipeline.NewReconciler(ledger.Repo, ledger.Recorder, waiters, logger)

	for {
		stats, err := reconciler.Reconcile(ctx, *olderThan)
		if err != nil && !errors.Is(err, ctx.Err()) {
			logger.Error().Err(err).Msg("reconcile: pass failed")
		}
		logger.Info().Int("checked", stats.Checked).Int("closed", stats.Closed).
			Int("still_open", stats.StillOpen).Int("skipped", stats.Skipped).Int("errored", stats.Errored).Msg("reconcile: pass done")
		if *every <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*every):
		}
	}
}
