// Command generate renders images from a text prompt and saves them locally.
//
//	generate [flags] prompt [count] [style,style]
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"fireflow/internal/cli"
	"fireflow/internal/firefly"
	"fireflow/internal/naming"
)

func main() {
	class := flag.String("class", "photo", "content class: photo or art")
	reference := flag.String("reference", "", "local style reference image")
	out := flag.String("out", "", "output directory (default OUTPUT_DIR)")
	size := flag.String("size", "", "output size WxH")
	perStyle := flag.Bool("per-style", false, "one request per style instead of combining them")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: generate [flags] prompt [count] [style,style]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 || flag.NArg() > 3 {
		flag.Usage()
		os.Exit(2)
	}
	prompt := flag.Arg(0)
	count := 1
	if flag.NArg() > 1 {
		n, err := strconv.Atoi(flag.Arg(1))
		if err != nil || n < 1 || n > 4 {
			fmt.Fprintln(os.Stderr, "count must be between 1 and 4")
			os.Exit(2)
		}
		count = n
	}
	var styles []string
	if flag.NArg() > 2 {
		for _, s := range strings.Split(flag.Arg(2), ",") {
			if s = strings.TrimSpace(s); s != "" {
				styles = append(styles, s)
			}
		}
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
		cli.Exit(logger, err, "generate: image client")
	}
	store, err := cli.OutputStore(cfg, *out)
	if err != nil {
		cli.Exit(logger, err, "generate: output directory")
	}
	transfer := cli.NewTransfer(cfg, logger)

	req := firefly.GenerateRequest{Prompt: prompt, N: count, ContentClass: *class, Size: outSize, Presets: styles}
	if *reference != "" {
		ref, err := client.Upload(ctx, *reference)
		if err != nil {
			cli.Exit(logger, err, "generate: upload reference")
		}
		req.ReferenceImageID = ref.ID
	}

	styleSets := [][]string{styles}
	if *perStyle && len(styles) > 1 {
		styleSets = styleSets[:0]
		for _, s := range styles {
			styleSets = append(styleSets, []string{s})
		}
	}
	batches, err := client.GenerateEach(ctx, req, styleSets)
	for _, b := range batches {
		if b.Err != nil {
			logger.Error().Err(b.Err).Strs("styles", b.Presets).Msg("generate: style failed")
		}
	}
	saved, saveErr := firefly.SaveBatches(ctx, transfer, store, batches, naming.Key{Prompt: prompt, Size: outSize})
	for _, s := range saved {
		logger.Info().Str("file", s.Path).Int64("seed", s.Output.Seed).Str("sha256", s.Checksum.SHA256).Msg("saved")
	}
	if err := errors.Join(err, saveErr); err != nil {
		cli.Exit(logger, err, "generate: some requests failed")
	}
}
