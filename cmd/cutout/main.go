// Command cutout removes the background of every image in a storage folder.
package main

import (
	"context"
	"flag"
	"os"
	"path"
	"path/filepath"

	"fireflow/internal/cli"
	"fireflow/internal/domain"
	"fireflow/internal/photoshop"
	"fireflow/internal/pipeline"
	"fireflow/internal/storage"
)

func main() {
	input := flag.String("input", "/fireflow/input", "storage folder holding the source images")
	output := flag.String("output", "/fireflow/output", "storage folder for the knockouts")
	download := flag.String("download", "", "also download knockouts into this local directory")
	concurrency := flag.Int("concurrency", 1, "images processed in parallel")
	flag.Parse()

	ctx, stop, cfg, logger := cli.Bootstrap()
	defer stop()

	editing, err := photoshop.NewFromConfig(cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "cutout: editing client")
	}
	stager, err := storage.New(ctx, cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "cutout: storage")
	}
	ledger, err := cli.OpenLedger(ctx, cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "cutout: ledger")
	}
	defer ledger.Close()

	entries, err := stager.List(ctx, *input)
	if err != nil {
		cli.Exit(logger, err, "cutout: list input")
	}
	units := make([]pipeline.Unit, 0, len(entries))
	for _, e := range entries {
		units = append(units, cutoutUnit(editing, stager, e, path.Join(*output, e.Name), *download))
	}
	logger.Info().Int("images", len(units)).Str("input", *input).Msg("cutout: starting")

	composer := pipeline.NewComposer(pipeline.Options{Concurrency: *concurrency, Recorder: ledger.Recorder, Logger: logger})
	reports := composer.Run(ctx, units)
	store, err := cli.OutputStore(cfg, "")
	if err == nil {
		_, err = cli.WriteSummary(ctx, store, composer.RunID(), reports)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("cutout: run summary not written")
	}
	code := cli.Report(logger, reports)
	ledger.Close()
	os.Exit(code)
}

func cutoutUnit(editing *photoshop.Client, stager storage.Stager, e storage.Entry, dst, download string) pipeline.Unit {
	stages := []pipeline.Stage{
		{Name: "remove_background", Run: func(ctx context.Context, step *pipeline.Step, _ []domain.AssetReference) ([]domain.AssetReference, error) {
			in, err := stager.ReadLink(ctx, e.Path)
			if err != nil {
				return nil, err
			}
			out, err := stager.WriteLink(ctx, dst)
			if err != nil {
				return nil, err
			}
			h, err := editing.RemoveBackground(ctx,
				photoshop.Location{Href: in, Storage: stager.Kind()},
				photoshop.Location{Href: out, Storage: stager.Kind()})
			if err != nil {
				return nil, err
			}
			if _, err := step.Await(ctx, h, editing); err != nil {
				return nil, err
			}
			return []domain.AssetReference{{Path: dst, Storage: stager.Kind()}}, nil
		}},
	}
	if download != "" {
		stages = append(stages, pipeline.Stage{Name: "download", Run: func(ctx context.Context, step *pipeline.Step, in []domain.AssetReference) ([]domain.AssetReference, error) {
			local := filepath.Join(download, e.Name)
			if err := os.MkdirAll(download, 0o755); err != nil {
				return nil, err
			}
			sum, err := stager.Download(ctx, in[0].Path, local)
			if err != nil {
				return nil, err
			}
			step.Logger().Info().Str("file", local).Str("sha256", sum.SHA256).Msg("cutout: downloaded")
			return append(in, domain.AssetReference{Path: local, Storage: domain.StorageLocal}), nil
		}})
	}
	return pipeline.Unit{Params: map[string]string{"image": e.Name}, Stages: stages}
}
