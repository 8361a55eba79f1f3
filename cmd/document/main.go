// Command document merges a JSON data file into a Word template and
// downloads the generated document.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fireflow/internal/cli"
	"fireflow/internal/pdfservices"
)

func main() {
	template := flag.String("template", "", "local .docx template")
	dataFile := flag.String("data", "", "JSON file with the merge data")
	format := flag.String("format", "pdf", "output format: pdf or docx")
	out := flag.String("out", "", "output directory (default OUTPUT_DIR)")
	flag.Parse()
	if *template == "" || *dataFile == "" {
		fmt.Fprintln(os.Stderr, "-template and -data are required")
		os.Exit(2)
	}
	data, err := os.ReadFile(*dataFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop, cfg, logger := cli.Bootstrap()
	defer stop()

	client, err := pdfservices.NewFromConfig(cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "document: client")
	}
	store, err := cli.OutputStore(cfg, *out)
	if err != nil {
		cli.Exit(logger, err, "document: output directory")
	}
	asset, err := client.Generate(ctx, *template, *format, data)
	if err != nil {
		cli.Exit(logger, err, "document: generation failed")
	}
	name := strings.TrimSuffix(filepath.Base(*template), filepath.Ext(*template)) + "." + *format
	dst, err := store.Path(name)
	if err != nil {
		cli.Exit(logger, err, "document: output path")
	}
	sum, err := cli.NewTransfer(cfg, logger).Fetch(ctx, asset.URL, dst)
	if err != nil {
		cli.Exit(logger, err, "document: download")
	}
	logger.Info().Str("file", dst).Str("asset_id", asset.ID).Str("sha256", sum.SHA256).Msg("saved")
}
