package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsense/fieldsense-telemetry/internal/alerting"
	"github.com/fieldsense/fieldsense-telemetry/internal/config"
	"github.com/fieldsense/fieldsense-telemetry/internal/forecast"
	"github.com/fieldsense/fieldsense-telemetry/internal/ingest"
	"github.com/fieldsense/fieldsense-telemetry/internal/models"
	"github.com/fieldsense/fieldsense-telemetry/internal/store"
)

type testEnv struct {
	server  *Server
	handler http.Handler
	store   store.Store
}

// newTestEnv wires a full server against an in-memory store with the
// forecaster in degraded mode.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zap.NewNop()
	alerts := alerting.NewManager(st, logger)
	forecasts := forecast.NewOrchestrator(st, nil, logger)
	pipeline := ingest.NewPipeline(st, alerts, nil, logger)

	srv, err := NewServer(config.DefaultConfig(), st, pipeline, alerts, forecasts, nil, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	return &testEnv{server: srv, handler: srv.routes(), store: st}
}

// do performs a request against the handler. A non-nil body is sent as JSON.
func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return m
}

// seedReadings inserts n readings for the device, oldest first, spaced one
// minute apart and ending at now.
func (e *testEnv) seedReadings(t *testing.T, deviceID string, n int, temp func(i int) float64) {
	t.Helper()
	ctx := context.Background()
	if err := e.store.EnsureDevice(ctx, deviceID); err != nil {
		t.Fatalf("EnsureDevice: %v", err)
	}
	base := time.Now().UTC().Add(-time.Duration(n-1) * time.Minute)
	for i := 0; i < n; i++ {
		r := &models.Reading{
			DeviceID:     deviceID,
			Temperature:  temp(i),
			Humidity:     55,
			SoilMoisture: 40,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := e.store.InsertReading(ctx, r); err != nil {
			t.Fatalf("InsertReading: %v", err)
		}
	}
}

func TestSensorDataIntake(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/sensors/data", models.Reading{
		DeviceID:     "NodeMCU_001",
		Temperature:  24.5,
		Humidity:     60,
		SoilMoisture: 45,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/sensors/current?deviceId=NodeMCU_001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("current status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["isStale"] != false {
		t.Errorf("isStale = %v, want false", body["isStale"])
	}
	data := body["data"].(map[string]any)
	if data["deviceId"] != "NodeMCU_001" {
		t.Errorf("deviceId = %v", data["deviceId"])
	}
	if data["temperature"] != 24.5 {
		t.Errorf("temperature = %v, want 24.5", data["temperature"])
	}
}

func TestSensorDataValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		method   string
		body     any
		wantCode int
	}{
		{"missing device ID", http.MethodPost, models.Reading{Temperature: 20}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, "/api/sensors/data", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decodeBody(t, rec)
			if body["error"] == "" {
				t.Error("expected error envelope")
			}
		})
	}

	// Malformed JSON
	req := httptest.NewRequest(http.MethodPost, "/api/sensors/data", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestSensorCurrentUnknownDevice(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/sensors/current?deviceId=ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/sensors/current", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing deviceId status = %d, want 400", rec.Code)
	}
}

func TestSensorCurrentStale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.store.EnsureDevice(ctx, "dev1"); err != nil {
		t.Fatal(err)
	}
	old := &models.Reading{
		DeviceID:    "dev1",
		Temperature: 20,
		Timestamp:   time.Now().UTC().Add(-2 * time.Minute),
	}
	if err := env.store.InsertReading(ctx, old); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/api/sensors/current?deviceId=dev1", nil)
	body := decodeBody(t, rec)
	if body["isStale"] != true {
		t.Errorf("isStale = %v, want true", body["isStale"])
	}
	if age := body["dataAge"].(float64); age < 60 {
		t.Errorf("dataAge = %v, want >= 60", age)
	}
}

func TestSensorHistory(t *testing.T) {
	env := newTestEnv(t)
	env.seedReadings(t, "dev1", 3, func(i int) float64 { return float64(10 + i) })

	rec := env.do(t, http.MethodGet, "/api/sensors/history?deviceId=dev1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["count"].(float64) != 3 {
		t.Fatalf("count = %v, want 3", body["count"])
	}

	// Oldest first
	data := body["data"].([]any)
	for i, want := range []float64{10, 11, 12} {
		got := data[i].(map[string]any)["temperature"].(float64)
		if got != want {
			t.Errorf("data[%d].temperature = %v, want %v", i, got, want)
		}
	}

	// Limit keeps the newest readings
	rec = env.do(t, http.MethodGet, "/api/sensors/history?deviceId=dev1&limit=2", nil)
	body = decodeBody(t, rec)
	data = body["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("limited count = %d, want 2", len(data))
	}
	if got := data[0].(map[string]any)["temperature"].(float64); got != 11 {
		t.Errorf("limited data[0].temperature = %v, want 11", got)
	}
}

func TestSensorStats(t *testing.T) {
	env := newTestEnv(t)
	env.seedReadings(t, "dev1", 3, func(i int) float64 { return float64(10 * (i + 1)) })

	rec := env.do(t, http.MethodGet, "/api/sensors/stats?deviceId=dev1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	stats := body["stats"].(map[string]any)
	if stats["count"].(float64) != 3 {
		t.Errorf("count = %v, want 3", stats["count"])
	}
	temp := stats["temperature"].(map[string]any)
	if temp["min"].(float64) != 10 || temp["avg"].(float64) != 20 || temp["max"].(float64) != 30 {
		t.Errorf("temperature summary = %v", temp)
	}
}

func TestSensorStatsEmptyWindow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/sensors/stats?deviceId=ghost", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	if stats, present := body["stats"]; !present || stats != nil {
		t.Errorf("stats = %v, want explicit null", stats)
	}
}

func TestPredictionsInsufficientData(t *testing.T) {
	env := newTestEnv(t)
	env.seedReadings(t, "dev1", 5, func(i int) float64 { return 20 })

	rec := env.do(t, http.MethodGet, "/api/sensors/predictions?deviceId=dev1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["needed"].(float64) != 10 {
		t.Errorf("needed = %v, want 10", body["needed"])
	}
	if body["available"].(float64) != 5 {
		t.Errorf("available = %v, want 5", body["available"])
	}
}

func TestPredictionsFallback(t *testing.T) {
	env := newTestEnv(t)
	env.seedReadings(t, "dev1", 10, func(i int) float64 { return 22 })

	rec := env.do(t, http.MethodGet, "/api/sensors/predictions?deviceId=dev1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["count"].(float64) != 6 {
		t.Fatalf("count = %v, want default 6", body["count"])
	}
	preds := body["predictions"].([]any)
	first := preds[0].(map[string]any)
	if first["source"] != "fallback" {
		t.Errorf("source = %v, want fallback", first["source"])
	}
	if first["confidence"].(float64) != 95 {
		t.Errorf("confidence = %v, want 95", first["confidence"])
	}
}

func TestAlertFlow(t *testing.T) {
	env := newTestEnv(t)

	// Critical overheat: more than 5 over the default 35 max.
	rec := env.do(t, http.MethodPost, "/api/sensors/data", models.Reading{
		DeviceID:     "dev1",
		Temperature:  42,
		Humidity:     55,
		SoilMoisture: 50,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("intake status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/alerts?deviceId=dev1", nil)
	body := decodeBody(t, rec)
	alerts := body["alerts"].([]any)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	alert := alerts[0].(map[string]any)
	if alert["alertType"] != "HIGH_TEMPERATURE" || alert["severity"] != "critical" {
		t.Errorf("alert = %v", alert)
	}
	id := strconv.FormatInt(int64(alert["id"].(float64)), 10)

	// Acknowledge with no body falls back to the default actor.
	rec = env.do(t, http.MethodPost, "/api/alerts/"+id+"/acknowledge", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ack status = %d: %s", rec.Code, rec.Body.String())
	}
	acked := decodeBody(t, rec)["alert"].(map[string]any)
	if acked["acknowledged"] != true || acked["acknowledgedBy"] != "User" {
		t.Errorf("acknowledged alert = %v", acked)
	}

	// Re-acknowledging with an explicit actor overwrites.
	rec = env.do(t, http.MethodPost, "/api/alerts/"+id+"/acknowledge",
		map[string]string{"acknowledgedBy": "ops"})
	acked = decodeBody(t, rec)["alert"].(map[string]any)
	if acked["acknowledgedBy"] != "ops" {
		t.Errorf("acknowledgedBy = %v, want ops", acked["acknowledgedBy"])
	}

	// No open alerts remain.
	rec = env.do(t, http.MethodGet, "/api/alerts?acknowledged=false", nil)
	if got := decodeBody(t, rec)["count"].(float64); got != 0 {
		t.Errorf("open alerts = %v, want 0", got)
	}
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/alerts/9999/acknowledge", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/alerts/abc/acknowledge", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}
}

func TestDeviceRegistryAndSettings(t *testing.T) {
	env := newTestEnv(t)

	// Devices self-register on first reading.
	env.do(t, http.MethodPost, "/api/sensors/data", models.Reading{
		DeviceID: "dev1", Temperature: 20, Humidity: 50, SoilMoisture: 40,
	})

	rec := env.do(t, http.MethodGet, "/api/devices", nil)
	if got := decodeBody(t, rec)["count"].(float64); got != 1 {
		t.Fatalf("device count = %v, want 1", got)
	}

	// Partial settings update leaves the rest untouched.
	rec = env.do(t, http.MethodPut, "/api/devices/dev1", map[string]any{
		"readingInterval": 10,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	device := decodeBody(t, rec)["device"].(map[string]any)
	settings := device["settings"].(map[string]any)
	if settings["readingInterval"].(float64) != 10 {
		t.Errorf("readingInterval = %v, want 10", settings["readingInterval"])
	}
	thresholds := settings["thresholds"].(map[string]any)
	if thresholds["temperatureMax"].(float64) != 35 {
		t.Errorf("temperatureMax = %v, want factory 35", thresholds["temperatureMax"])
	}

	rec = env.do(t, http.MethodGet, "/api/devices/dev1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get device status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/api/devices/ghost", map[string]any{"readingInterval": 10})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown device status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	// No model endpoint wired in the test env.
	if body["degraded"] != true {
		t.Errorf("degraded = %v, want true", body["degraded"])
	}
}
