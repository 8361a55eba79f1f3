// Command pipeline runs the localized banner pipeline described by a YAML
// manifest.
package main

import (
	"flag"
	"fmt"
	"os"

	"fireflow/internal/cli"
	"fireflow/internal/firefly"
	"fireflow/internal/photoshop"
	"fireflow/internal/pipeline"
	"fireflow/internal/storage"
)

func main() {
	manifestPath := flag.String("manifest", "banner.yaml", "pipeline manifest")
	concurrency := flag.Int("concurrency", 0, "units processed in parallel (overrides the manifest)")
	out := flag.String("out", "", "local directory for background copies (default OUTPUT_DIR)")
	flag.Parse()

	manifest, err := pipeline.LoadManifest(*manifestPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *concurrency > 0 {
		manifest.Concurrency = *concurrency
	}

	ctx, stop, cfg, logger := cli.Bootstrap()
	defer stop()

	images, err := firefly.NewFromConfig(cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "pipeline: image client")
	}
	editing, err := photoshop.NewFromConfig(cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "pipeline: editing client")
	}
	stager, err := storage.New(ctx, cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "pipeline: storage")
	}
	store, err := cli.OutputStore(cfg, *out)
	if err != nil {
		cli.Exit(logger, err, "pipeline: output directory")
	}
	ledger, err := cli.OpenLedger(ctx, cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "pipeline: ledger")
	}
	defer ledger.Close()

	composer := pipeline.NewComposer(pipeline.Options{Concurrency: manifest.Concurrency, Recorder: ledger.Recorder, Logger: logger})
	banner, err := pipeline.NewBannerPipeline(manifest, pipeline.BannerDeps{
		Images:   images,
		Editing:  editing,
		Stager:   stager,
		Fetcher:  cli.NewTransfer(cfg, logger),
		Store:    store,
		Composer: composer,
		Logger:   logger,
	})
	if err != nil {
		cli.Exit(logger, err, "pipeline: setup")
	}

	log := logger.With().Str("run_id", composer.RunID()).Logger()
	log.Info().Int("prompts", len(manifest.Prompts)).Int("languages", len(manifest.Translations)).
		Int("concurrency", manifest.Concurrency).Msg("pipeline: starting")
	result, err := banner.Run(ctx)
	if key, sumErr := cli.WriteSummary(ctx, store, composer.RunID(), result.Reports()); sumErr != nil {
		log.Warn().Err(sumErr).Msg("pipeline: run summary not written")
	} else {
		log.Info().Str("summary", key).Msg("pipeline: run summary written")
	}
	if err != nil {
		cli.Report(&log, result.Reports())
		cli.Exit(&log, err, "pipeline: run aborted")
	}
	code := cli.Report(&log, result.Reports())
	ledger.Close()
	os.Exit(code)
}
