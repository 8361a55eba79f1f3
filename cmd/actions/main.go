// Command actions masks every image in a storage folder and plays a recorded
// action list against the mask, e.g. to invert it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"strings"

	"fireflow/internal/cli"
	"fireflow/internal/domain"
	"fireflow/internal/jobs"
	"fireflow/internal/photoshop"
	"fireflow/internal/pipeline"
	"fireflow/internal/storage"
)

func main() {
	input := flag.String("input", "/fireflow/input", "storage folder holding the source images")
	work := flag.String("work", "/fireflow/masks", "storage folder for intermediate masks")
	output := flag.String("output", "/fireflow/output", "storage folder for the rendered results")
	actionsFile := flag.String("actions", "", "JSON action list to play on each mask")
	concurrency := flag.Int("concurrency", 1, "images processed in parallel")
	flag.Parse()
	if *actionsFile == "" {
		fmt.Fprintln(os.Stderr, "-actions is required")
		os.Exit(2)
	}
	actions, err := photoshop.LoadActions(*actionsFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop, cfg, logger := cli.Bootstrap()
	defer stop()

	editing, err := photoshop.NewFromConfig(cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "actions: editing client")
	}
	stager, err := storage.New(ctx, cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "actions: storage")
	}
	ledger, err := cli.OpenLedger(ctx, cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "actions: ledger")
	}
	defer ledger.Close()

	entries, err := stager.List(ctx, *input)
	if err != nil {
		cli.Exit(logger, err, "actions: list input")
	}
	units := make([]pipeline.Unit, 0, len(entries))
	for _, e := range entries {
		base := strings.TrimSuffix(e.Name, path.Ext(e.Name)) + ".png"
		mask := path.Join(*work, base)
		result := path.Join(*output, base)
		units = append(units, pipeline.Unit{
			Params: map[string]string{"image": e.Name},
			Stages: []pipeline.Stage{
				{Name: "mask", Run: editStage(stager, editing, e.Path, mask, editing.CreateMask)},
				{Name: "action", Run: editStage(stager, editing, mask, result, func(ctx context.Context, in, out photoshop.Location) (jobs.Handle, error) {
					return editing.PlayActions(ctx, in, out, actions, "image/png")
				})},
			},
		})
	}

	composer := pipeline.NewComposer(pipeline.Options{Concurrency: *concurrency, Recorder: ledger.Recorder, Logger: logger})
	reports := composer.Run(ctx, units)
	store, err := cli.OutputStore(cfg, "")
	if err == nil {
		_, err = cli.WriteSummary(ctx, store, composer.RunID(), reports)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("actions: run summary not written")
	}
	code := cli.Report(logger, reports)
	ledger.Close()
	os.Exit(code)
}

type submitFunc func(ctx context.Context, in, out photoshop.Location) (jobs.Handle, error)

// editStage links src for reading and dst for writing, submits the job and
// waits for it.
func editStage(stager storage.Stager, w pipeline.Waiter, src, dst string, submit submitFunc) pipeline.StageFunc {
	return func(ctx context.Context, step *pipeline.Step, _ []domain.AssetReference) ([]domain.AssetReference, error) {
		in, err := stager.ReadLink(ctx, src)
		if err != nil {
			return nil, err
		}
		out, err := stager.WriteLink(ctx, dst)
		if err != nil {
			return nil, err
		}
		h, err := submit(ctx,
			photoshop.Location{Href: in, Storage: stager.Kind()},
			photoshop.Location{Href: out, Storage: stager.Kind()})
		if err != nil {
			return nil, err
		}
		if _, err := step.Await(ctx, h, w); err != nil {
			return nil, err
		}
		return []domain.AssetReference{{Path: dst, Storage: stager.Kind()}}, nil
	}
}
