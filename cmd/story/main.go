// Command story illustrates a short story and merges it into a Word
// template. The story is drafted by Gemini unless -paragraphs names a text
// file with blank-line separated paragraphs, each optionally ending in a
// "Summary:" line used as the illustration prompt.
package main

import (
	"flag"
	"fmt"
	"os"

	"fireflow/internal/cli"
	"fireflow/internal/firefly"
	"fireflow/internal/gemini"
	"fireflow/internal/naming"
	"fireflow/internal/pdfservices"
	"fireflow/internal/pipeline"
)

func main() {
	template := flag.String("template", "story.docx", "Word template with a paragraphs section")
	paragraphsFile := flag.String("paragraphs", "", "story text file (skips the writer)")
	prompt := flag.String("prompt", gemini.StoryPrompt, "writer prompt")
	format := flag.String("format", "pdf", "output format: pdf or docx")
	class := flag.String("class", "art", "content class: photo or art")
	size := flag.String("size", "1024x1024", "illustration size WxH")
	concurrency := flag.Int("concurrency", 1, "paragraphs illustrated in parallel")
	out := flag.String("out", "", "output directory (default OUTPUT_DIR)")
	flag.Parse()

	imageSize, err := naming.ParseSize(*size)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if _, err := os.Stat(*template); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	var text string
	if *paragraphsFile != "" {
		raw, err := os.ReadFile(*paragraphsFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		text = string(raw)
	}

	ctx, stop, cfg, logger := cli.Bootstrap()
	defer stop()

	deps := pipeline.StoryDeps{Fetcher: cli.NewTransfer(cfg, logger), Logger: logger}
	if text == "" {
		writer, err := gemini.NewFromConfig(cfg, logger)
		if err != nil {
			cli.Exit(logger, err, "story: writer")
		}
		deps.Writer = writer
	}
	images, err := firefly.NewFromConfig(cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "story: image client")
	}
	deps.Images = images
	docs, err := pdfservices.NewFromConfig(cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "story: document client")
	}
	deps.Documents = docs
	if deps.Store, err = cli.OutputStore(cfg, *out); err != nil {
		cli.Exit(logger, err, "story: output directory")
	}
	ledger, err := cli.OpenLedger(ctx, cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "story: ledger")
	}
	defer ledger.Close()
	deps.Composer = pipeline.NewComposer(pipeline.Options{Concurrency: *concurrency, Recorder: ledger.Recorder, Logger: logger})

	story, err := pipeline.NewStoryPipeline(pipeline.StoryOptions{
		Text:         text,
		Prompt:       *prompt,
		Template:     *template,
		OutputFormat: *format,
		ContentClass: *class,
		Size:         imageSize,
	}, deps)
	if err != nil {
		cli.Exit(logger, err, "story: setup")
	}

	log := logger.With().Str("run_id", deps.Composer.RunID()).Logger()
	result, err := story.Run(ctx)
	if key, sumErr := cli.WriteSummary(ctx, deps.Store, deps.Composer.RunID(), result.Reports()); sumErr != nil {
		log.Warn().Err(sumErr).Msg("story: run summary not written")
	} else {
		log.Info().Str("summary", key).Msg("story: run summary written")
	}
	if err != nil {
		cli.Exit(&log, err, "story: run aborted")
	}
	if result.File != "" {
		log.Info().Str("file", result.File).Int("paragraphs", len(result.Paragraphs)).Msg("story: document saved")
	}
	code := cli.Report(&log, result.Reports())
	ledger.Close()
	os.Exit(code)
}
