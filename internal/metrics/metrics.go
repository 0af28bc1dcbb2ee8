package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry service metrics for production monitoring
var (
	// Ingestion metrics
	ReadingsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsense_readings_received_total",
			Help: "Total number of sensor readings accepted",
		},
	)

	ReadingsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_readings_rejected_total",
			Help: "Total number of sensor readings rejected before persistence",
		},
		[]string{"reason"}, // reason: validation/store
	)

	// Alerting metrics
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_alerts_raised_total",
			Help: "Total number of alerts raised",
		},
		[]string{"type", "severity"},
	)

	AlertStoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsense_alert_store_failures_total",
			Help: "Total number of alerts dropped because persistence failed",
		},
	)

	// Forecast metrics
	ForecastRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_forecast_requests_total",
			Help: "Total number of forecast requests",
		},
		[]string{"source", "status"}, // source: model/fallback/none
	)

	ModelInvocationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fieldsense_model_invocation_duration_seconds",
			Help:    "Forecaster model invocation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
	)

	ModelInvocationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_model_invocation_failures_total",
			Help: "Total number of failed forecaster model invocations",
		},
		[]string{"reason"}, // reason: transport/status/malformed/mismatch/timeout
	)

	// Retention metrics
	ReadingsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsense_readings_purged_total",
			Help: "Total number of readings removed by retention sweeps",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsense_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)
