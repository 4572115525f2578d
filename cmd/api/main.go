package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanwahyu/vulnrisk/internal/bootstrap"
	"github.com/bryanwahyu/vulnrisk/internal/config"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("configuration rejected", "error", err)
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Fatalw("startup failed", "error", err)
	}
	defer app.Close()

	if err := app.Serve(ctx); err != nil {
		log.Errorw("server stopped", "error", err)
	}
}
