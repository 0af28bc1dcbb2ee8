package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	// Validate database configuration
	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	// Validate forecast configuration. An empty model URL is valid: the
	// service runs degraded on fallback forecasts only.
	if c.Forecast.ModelBaseURL != "" {
		u, err := url.Parse(c.Forecast.ModelBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ValidationError{
				Field:   "forecast.model_base_url",
				Message: fmt.Sprintf("invalid URL: %s", c.Forecast.ModelBaseURL),
			})
		}
	}
	if c.Forecast.TimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "forecast.timeout_seconds",
			Message: fmt.Sprintf("timeout must be at least 1 second, got %d", c.Forecast.TimeoutSeconds),
		})
	}

	// Validate retention configuration
	if c.Retention.SweepIntervalMinutes < 0 {
		errs = append(errs, &ValidationError{
			Field:   "retention.sweep_interval_minutes",
			Message: fmt.Sprintf("sweep interval cannot be negative, got %d", c.Retention.SweepIntervalMinutes),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	return errs
}
