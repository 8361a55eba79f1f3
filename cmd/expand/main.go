// Command expand outpaints one local image to several sizes.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"fireflow/internal/cli"
	"fireflow/internal/firefly"
	"fireflow/internal/naming"
	"fireflow/internal/pipeline"
)

func main() {
	image := flag.String("image", "", "local source image")
	sizes := flag.String("sizes", strings.Join(pipeline.DefaultSizes, ","), "comma separated WxH list")
	prompt := flag.String("prompt", "", "optional prompt for the new area")
	align := flag.String("align", "", "horizontal,vertical anchor, e.g. center,bottom")
	out := flag.String("out", "", "output directory (default OUTPUT_DIR)")
	flag.Parse()
	if *image == "" {
		fmt.Fprintln(os.Stderr, "-image is required")
		os.Exit(2)
	}
	targets, err := naming.ParseSizes(*sizes)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop, cfg, logger := cli.Bootstrap()
	defer stop()

	client, err := firefly.NewFromConfig(cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "expand: image client")
	}
	store, err := cli.OutputStore(cfg, *out)
	if err != nil {
		cli.Exit(logger, err, "expand: output directory")
	}
	source, err := client.Upload(ctx, *image)
	if err != nil {
		cli.Exit(logger, err, "expand: upload")
	}

	req := firefly.ExpandRequest{ImageID: source.ID, Prompt: *prompt}
	if *align != "" {
		h, v, _ := strings.Cut(*align, ",")
		req.Alignment = &firefly.Alignment{Horizontal: h, Vertical: v}
	}
	batches, err := client.ExpandEach(ctx, req, targets)
	for _, b := range batches {
		if b.Err != nil {
			logger.Error().Err(b.Err).Str("size", b.Size.String()).Msg("expand: size failed")
		}
	}
	// Sizes that succeeded are saved even when others failed.
	saved, saveErr := firefly.SaveBatches(ctx, cli.NewTransfer(cfg, logger), store, batches, naming.Key{Prompt: *prompt})
	for _, s := range saved {
		logger.Info().Str("file", s.Path).Str("sha256", s.Checksum.SHA256).Msg("saved")
	}
	if err := errors.Join(err, saveErr); err != nil {
		cli.Exit(logger, err, "expand: some sizes failed")
	}
}
