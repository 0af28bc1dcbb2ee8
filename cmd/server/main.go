package main

// Package main is the entry point for the fieldsense-telemetry server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Open the SQLite store and apply pending migrations
//   - Wire the ingest pipeline, alert manager, and forecast orchestrator
//   - Start the HTTP API, Prometheus metrics, and the WebSocket live feed
//   - Run the background retention sweeper
//   - Implement graceful shutdown with context cancellation
//
// The learned forecaster is an optional sidecar: when no model endpoint is
// configured the service starts in degraded mode and every forecast uses the
// deterministic fallback.

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsense/fieldsense-telemetry/internal/alerting"
	"github.com/fieldsense/fieldsense-telemetry/internal/config"
	"github.com/fieldsense/fieldsense-telemetry/internal/forecast"
	"github.com/fieldsense/fieldsense-telemetry/internal/forecast/model"
	"github.com/fieldsense/fieldsense-telemetry/internal/ingest"
	"github.com/fieldsense/fieldsense-telemetry/internal/logging"
	"github.com/fieldsense/fieldsense-telemetry/internal/server"
	"github.com/fieldsense/fieldsense-telemetry/internal/store"
)

// defaultDeviceID is registered on startup when absent.
const defaultDeviceID = "NodeMCU_001"

func main() {
	configPath := flag.String("config", "/etc/fieldsense/config.yaml", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fieldsense-telemetry: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	// Load configuration
	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return err
	}
	cfg := mgr.Get(ctx)

	// Logging
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.FilePath = cfg.Logging.FilePath
	logCfg.Console = cfg.Logging.Console
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logger.Sync()

	// Persistence
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Seed the default device so a fresh install has a working registry entry.
	if err := st.EnsureDevice(ctx, defaultDeviceID); err != nil {
		return fmt.Errorf("seed default device: %w", err)
	}

	// Forecaster sidecar; absent endpoint means degraded mode.
	var invoker model.Invoker
	if cfg.Forecast.ModelBaseURL != "" {
		invoker = model.NewClient(cfg.Forecast.ModelBaseURL,
			time.Duration(cfg.Forecast.TimeoutSeconds)*time.Second)
		logger.Info("forecaster model endpoint configured",
			zap.String("base_url", cfg.Forecast.ModelBaseURL))
	} else {
		logger.Warn("no forecaster model endpoint configured, running degraded")
	}

	// Core components
	alerts := alerting.NewManager(st, logger)
	forecasts := forecast.NewOrchestrator(st, invoker, logger)
	hub := server.NewHub(cfg.Server.AllowedOrigins, logger)
	pipeline := ingest.NewPipeline(st, alerts, hub, logger)

	srv, err := server.NewServer(cfg, st, pipeline, alerts, forecasts, hub, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	// Surface config file edits in the log; applying them needs a restart.
	go func() {
		for updated := range mgr.Watch(ctx) {
			logger.Info("configuration file changed",
				zap.String("log_level", updated.Logging.Level))
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// openStore opens the SQLite store, creating the data directory first.
func openStore(cfg *config.Config) (store.Store, error) {
	if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
