// Command fill inpaints the masked area of a local image.
package main

import (
	"flag"
	"fmt"
	"os"

	"fireflow/internal/cli"
	"fireflow/internal/firefly"
	"fireflow/internal/naming"
)

func main() {
	source := flag.String("source", "", "local source image")
	mask := flag.String("mask", "", "local mask image, white marks the area to fill")
	prompt := flag.String("prompt", "", "what to paint into the masked area")
	size := flag.String("size", "", "output size WxH")
	n := flag.Int("n", 1, "number of variations (1-4)")
	out := flag.String("out", "", "output directory (default OUTPUT_DIR)")
	flag.Parse()
	if *source == "" || *mask == "" {
		fmt.Fprintln(os.Stderr, "-source and -mask are required")
		os.Exit(2)
	}
	if *n < 1 || *n > 4 {
		fmt.Fprintln(os.Stderr, "-n must be between 1 and 4")
		os.Exit(2)
	}
	var outSize naming.Size
	if *size != "" {
		var err error
		if outSize, err = naming.ParseSize(*size); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	ctx, stop, cfg, logger := cli.Bootstrap()
	defer stop()

	client, err := firefly.NewFromConfig(cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "fill: image client")
	}
	store, err := cli.OutputStore(cfg, *out)
	if err != nil {
		cli.Exit(logger, err, "fill: output directory")
	}
	src, err := client.Upload(ctx, *source)
	if err != nil {
		cli.Exit(logger, err, "fill: upload source")
	}
	msk, err := client.Upload(ctx, *mask)
	if err != nil {
		cli.Exit(logger, err, "fill: upload mask")
	}
	outputs, err := client.Fill(ctx, firefly.FillRequest{SourceID: src.ID, MaskID: msk.ID, Prompt: *prompt, Size: outSize, N: *n})
	if err != nil {
		cli.Exit(logger, err, "fill: request failed")
	}
	saved, err := firefly.SaveOutputs(ctx, cli.NewTransfer(cfg, logger), store, outputs, naming.Key{Prompt: *prompt, Style: "fill", Size: outSize})
	if err != nil {
		cli.Exit(logger, err, "fill: save outputs")
	}
	for _, s := range saved {
		logger.Info().Str("file", s.Path).Int64("seed", s.Output.Seed).Msg("saved")
	}
}
