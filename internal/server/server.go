// Package server exposes the telemetry service over HTTP: sensor intake,
// history and stats queries, forecasts, alert management, the device
// registry, and a WebSocket live feed.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fieldsense/fieldsense-telemetry/internal/alerting"
	"github.com/fieldsense/fieldsense-telemetry/internal/config"
	"github.com/fieldsense/fieldsense-telemetry/internal/forecast"
	"github.com/fieldsense/fieldsense-telemetry/internal/ingest"
	"github.com/fieldsense/fieldsense-telemetry/internal/store"
)

// staleAfter is how long after the last reading a device's current data is
// reported as stale.
const staleAfter = 30 * time.Second

// Server represents the fieldsense telemetry server.
type Server struct {
	config *config.Config

	// Core components
	store     store.Store
	pipeline  *ingest.Pipeline
	alerts    *alerting.Manager
	forecasts *forecast.Orchestrator
	hub       *Hub

	logger *zap.Logger

	// HTTP server
	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer creates a new telemetry server. hub may be nil, in which case a
// fresh live-feed hub is created; pass the hub the ingest pipeline broadcasts
// through so clients see accepted readings.
func NewServer(cfg *config.Config, st store.Store, pipeline *ingest.Pipeline, alerts *alerting.Manager, forecasts *forecast.Orchestrator, hub *Hub, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if hub == nil {
		hub = NewHub(cfg.Server.AllowedOrigins, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config:    cfg,
		store:     st,
		pipeline:  pipeline,
		alerts:    alerts,
		forecasts: forecasts,
		hub:       hub,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		running:   false,
	}

	return srv, nil
}

// Hub returns the WebSocket live-feed hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start starts the server.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	// Live feed hub
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	// Retention sweeper
	if s.config.Retention.SweepIntervalMinutes > 0 && s.pipeline != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runRetentionSweeper()
		}()
	}

	// Setup HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start HTTP server
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP server listening", zap.Int("port", s.config.Server.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.logger.Info("fieldsense telemetry server started",
		zap.Bool("forecast_degraded", s.forecasts != nil && s.forecasts.Degraded()),
		zap.Int("retention_sweep_minutes", s.config.Retention.SweepIntervalMinutes),
	)

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping fieldsense telemetry server")

	// Shutdown HTTP server
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error shutting down HTTP server", zap.Error(err))
		}
	}

	// Cancel context
	s.cancel()

	// Wait for goroutines
	s.wg.Wait()

	s.logger.Info("fieldsense telemetry server stopped")
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// runRetentionSweeper purges expired readings on the configured interval.
func (s *Server) runRetentionSweeper() {
	interval := time.Duration(s.config.Retention.SweepIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			purged, err := s.pipeline.SweepRetention(s.ctx)
			if err != nil {
				s.logger.Error("retention sweep failed", zap.Error(err))
				continue
			}
			if purged > 0 {
				s.logger.Info("retention sweep complete", zap.Int64("purged", purged))
			}
		}
	}
}

// routes builds the HTTP handler.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	s.registerHandlers(mux)
	return mux
}

// registerHandlers registers HTTP handlers.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	// Sensor endpoints
	mux.HandleFunc("/api/sensors/data", s.handleSensorData)
	mux.HandleFunc("/api/sensors/current", s.handleSensorCurrent)
	mux.HandleFunc("/api/sensors/history", s.handleSensorHistory)
	mux.HandleFunc("/api/sensors/stats", s.handleSensorStats)
	mux.HandleFunc("/api/sensors/predictions", s.handleSensorPredictions)

	// Alert endpoints
	mux.HandleFunc("/api/alerts", s.handleAlertList)
	mux.HandleFunc("/api/alerts/", s.handleAlertAcknowledge)

	// Device registry
	mux.HandleFunc("/api/devices", s.handleDeviceList)
	mux.HandleFunc("/api/devices/", s.handleDevice)

	// Health check
	mux.HandleFunc("/api/health", s.handleHealth)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Live feed
	mux.HandleFunc("/ws", s.handleWebSocket)
}
