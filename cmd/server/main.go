package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sentra/internal/alerting"
	"sentra/internal/api"
	"sentra/internal/config"
	"sentra/internal/dashboard"
	"sentra/internal/detector"
	"sentra/internal/logging"
	"sentra/internal/metrics"
	"sentra/internal/pipeline"
	"sentra/internal/schema"
	"sentra/internal/storage"
	"sentra/internal/tenant"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sentra %s\n", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfgManager, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting sentra", "version", version, "config", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	registry := schema.NewRegistry()
	directory, err := tenant.NewDirectory(store, 256)
	if err != nil {
		return fmt.Errorf("tenant directory: %w", err)
	}
	stats := metrics.NewStore()
	pipe := pipeline.New(registry, directory, store, stats, logger, cfg.Ingest.MaxBatch)

	var dispatcher *pipeline.Dispatcher
	if cfg.Dispatch.Enabled {
		dispatcher = pipeline.NewDispatcher(cfg.Dispatch, logger)
		defer dispatcher.Close()
	}

	det := detector.New(cfg.Detection.Threshold, cfg.Detection.Window, cfg.Detection.Capacity, nil)
	alerts := alerting.NewService(store, logger)
	dash := dashboard.NewService(store, cfg.Dashboard.TopN)

	server := api.NewServer(api.Options{
		Config:     cfgManager,
		Pipeline:   pipe,
		Dispatcher: dispatcher,
		Dashboard:  dash,
		Alerting:   alerts,
		Detector:   det,
		Store:      store,
		Stats:      stats,
		Identity:   api.HeaderIdentity{},
		Logger:     logger,
		Version:    version,
	})
	api.Start(ctx, server)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())
	cancel()
	return nil
}
