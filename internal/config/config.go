package config

import "context"

// Package config provides configuration management for fieldsense-telemetry.
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (FIELDSENSE_* prefix)
//   2. YAML config file (default: /etc/fieldsense/config.yaml)
//   3. Built-in defaults
//
// Per-device threshold configuration is NOT process configuration; it lives
// in the device registry and is edited through the API.

// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port int
		// AllowedOrigins is a list of origins permitted to open WebSocket
		// connections. Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Forecast configuration
	Forecast struct {
		// ModelBaseURL is the forecaster sidecar endpoint. Empty runs the
		// service in degraded mode (fallback forecasts only).
		ModelBaseURL string
		// TimeoutSeconds bounds each model invocation.
		TimeoutSeconds int
	}

	// Retention configuration
	Retention struct {
		// SweepIntervalMinutes is how often expired readings are purged.
		// 0 disables the sweeper.
		SweepIntervalMinutes int
	}

	// Logging configuration
	Logging struct {
		Level    string
		FilePath string
		Console  bool
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/fieldsense/config.yaml")
}
