package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 5001
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/fieldsense/telemetry.db"

	// Forecast defaults: no model endpoint means degraded mode
	cfg.Forecast.ModelBaseURL = ""
	cfg.Forecast.TimeoutSeconds = 10

	// Retention defaults
	cfg.Retention.SweepIntervalMinutes = 60

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.FilePath = "logs/fieldsense.log"
	cfg.Logging.Console = true

	return cfg
}
