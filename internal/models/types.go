package models

import "time"

// Package models defines the core data types used throughout
// fieldsense-telemetry: sensor readings, device configuration,
// alerts, and forecast output.

// Severity is the ordinal urgency classification of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertType identifies which rule produced an alert.
//
// HIGH_SOIL_MOISTURE, DEVICE_OFFLINE and DEVICE_BACK_ONLINE are part of the
// taxonomy but are never produced by the threshold evaluator.
type AlertType string

const (
	AlertHighTemperature  AlertType = "HIGH_TEMPERATURE"
	AlertLowTemperature   AlertType = "LOW_TEMPERATURE"
	AlertHighHumidity     AlertType = "HIGH_HUMIDITY"
	AlertLowHumidity      AlertType = "LOW_HUMIDITY"
	AlertLowSoilMoisture  AlertType = "LOW_SOIL_MOISTURE"
	AlertHighSoilMoisture AlertType = "HIGH_SOIL_MOISTURE"
	AlertDeviceOffline    AlertType = "DEVICE_OFFLINE"
	AlertDeviceBackOnline AlertType = "DEVICE_BACK_ONLINE"
)

// ForecastSource tags which path produced a forecast point.
type ForecastSource string

const (
	SourceModel    ForecastSource = "model"
	SourceFallback ForecastSource = "fallback"
)

// Reading is a single timestamped sensor sample. Immutable once created.
type Reading struct {
	ID           int64     `json:"id,omitempty"`
	DeviceID     string    `json:"deviceId"`
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	SoilMoisture float64   `json:"soilMoisture"`
	Location     string    `json:"location,omitempty"`
	RSSI         *int      `json:"rssi,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ThresholdConfig holds the per-device alert boundaries. The evaluator
// always receives a whole-struct snapshot, never partial reads.
type ThresholdConfig struct {
	TemperatureMax  float64 `json:"temperatureMax"`
	TemperatureMin  float64 `json:"temperatureMin"`
	HumidityMax     float64 `json:"humidityMax"`
	HumidityMin     float64 `json:"humidityMin"`
	SoilMoistureMin float64 `json:"soilMoistureMin"`
}

// DefaultThresholds returns the factory threshold configuration.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		TemperatureMax:  35,
		TemperatureMin:  10,
		HumidityMax:     80,
		HumidityMin:     30,
		SoilMoistureMin: 30,
	}
}

// DeviceSettings are the operator-tunable device options.
type DeviceSettings struct {
	ReadingInterval    int             `json:"readingInterval"` // seconds
	DataRetentionDays  int             `json:"dataRetention"`   // days
	AlertSound         bool            `json:"alertSound"`
	EmailNotifications bool            `json:"emailNotifications"`
	Thresholds         ThresholdConfig `json:"thresholds"`
}

// DefaultDeviceSettings returns the factory device settings.
func DefaultDeviceSettings() DeviceSettings {
	return DeviceSettings{
		ReadingInterval:   5,
		DataRetentionDays: 30,
		AlertSound:        true,
		Thresholds:        DefaultThresholds(),
	}
}

// Device is a registered field sensor device.
type Device struct {
	DeviceID        string         `json:"deviceId"`
	Name            string         `json:"deviceName"`
	LocationZone    string         `json:"locationZone"`
	LocationName    string         `json:"locationName"`
	FirmwareVersion string         `json:"firmwareVersion,omitempty"`
	Active          bool           `json:"isActive"`
	Settings        DeviceSettings `json:"settings"`
	LastSeen        time.Time      `json:"lastSeen"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Alert is a persisted threshold breach. Severity is fixed at creation time
// and never recomputed. State machine: OPEN → ACKNOWLEDGED (one-way).
//
// AutoResolved/ResolvedAt are persisted but no code path writes them; an
// auto-resolution policy has not been specified.
type Alert struct {
	ID             int64      `json:"id"`
	DeviceID       string     `json:"deviceId"`
	Type           AlertType  `json:"alertType"`
	Message        string     `json:"message"`
	Value          float64    `json:"value"`
	Threshold      float64    `json:"threshold"`
	Severity       Severity   `json:"severity"`
	Timestamp      time.Time  `json:"timestamp"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	AutoResolved   bool       `json:"autoResolved"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

// AlertCandidate is an unpersisted alert produced by the threshold
// evaluator. The lifecycle manager assigns identity and persists it.
type AlertCandidate struct {
	DeviceID  string
	Type      AlertType
	Message   string
	Value     float64
	Threshold float64
	Severity  Severity
}

// ForecastPoint is one predicted future sample. Ephemeral, never persisted.
type ForecastPoint struct {
	Timestamp    time.Time      `json:"timestamp"`
	Temperature  float64        `json:"temperature"`
	Humidity     float64        `json:"humidity"`
	SoilMoisture float64        `json:"soilMoisture"`
	Confidence   float64        `json:"confidence"`
	Source       ForecastSource `json:"source"`
}

// MetricSummary is min/avg/max for one metric over a stats window.
type MetricSummary struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// StatsSummary aggregates a device's readings over a time window.
// Count == 0 means the window was empty; the metric fields are then zero
// and must not be interpreted as measurements.
type StatsSummary struct {
	Count        int           `json:"count"`
	Temperature  MetricSummary `json:"temperature"`
	Humidity     MetricSummary `json:"humidity"`
	SoilMoisture MetricSummary `json:"soilMoisture"`
}

// Empty reports whether the window contained no readings.
func (s StatsSummary) Empty() bool { return s.Count == 0 }
