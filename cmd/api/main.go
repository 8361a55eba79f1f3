package main

import (
	"path/filepath"

	"fireflow/internal/cli"
	"fireflow/internal/firefly"
	httpapi "fireflow/internal/http"
	"fireflow/internal/http/handlers"
	"fireflow/internal/infra"
	"fireflow/internal/pdfservices"
	"fireflow/internal/storage"
)

func main() {
	ctx, stop, cfg, logger := cli.Bootstrap()
	defer stop()

	app := &handlers.App{Fetcher: cli.NewTransfer(cfg, logger), Logger: logger}

	// Each service is optional; routes without credentials answer 503.
	if images, err := firefly.NewFromConfig(cfg, logger); err == nil {
		app.Images = images
	} else {
		logger.Warn().Err(err).Msg("api: image generation disabled")
	}
	if docs, err := pdfservices.NewFromConfig(cfg, logger); err == nil {
		app.Documents = docs
	} else {
		logger.Warn().Err(err).Msg("api: document generation disabled")
	}

	var err error
	if app.Templates, err = storage.NewFileStore(filepath.Join(cfg.OutputDir, "templates")); err != nil {
		cli.Exit(logger, err, "api: template directory")
	}
	if app.Scratch, err = storage.NewFileStore(filepath.Join(cfg.OutputDir, "archives")); err != nil {
		cli.Exit(logger, err, "api: scratch directory")
	}

	ledger, err := cli.OpenLedger(ctx, cfg, logger)
	if err != nil {
		cli.Exit(logger, err, "api: ledger")
	}
	defer ledger.Close()
	if ledger.Repo != nil {
		app.Jobs = ledger.Repo
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, cfg, logger), logger)
	if err := server.Run(ctx, nil); err != nil {
		cli.Exit(logger, err, "api: http server")
	}
}
