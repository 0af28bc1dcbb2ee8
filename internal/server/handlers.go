package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsense/fieldsense-telemetry/internal/analytics/stats"
	"github.com/fieldsense/fieldsense-telemetry/internal/forecast"
	"github.com/fieldsense/fieldsense-telemetry/internal/models"
	"github.com/fieldsense/fieldsense-telemetry/internal/store"
)

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// requireDeviceID extracts the deviceId query parameter.
func requireDeviceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId query parameter is required")
		return "", false
	}
	return deviceID, true
}

// ─── Sensor handlers ─────────────────────────────────────────────────────────

// handleSensorData handles POST /api/sensors/data, the device intake endpoint.
func (s *Server) handleSensorData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var reading models.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if reading.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	if err := s.pipeline.OnReading(r.Context(), &reading); err != nil {
		s.logger.Error("reading intake failed",
			zap.String("device_id", reading.DeviceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store reading")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      reading.ID,
	})
}

// handleSensorCurrent handles GET /api/sensors/current. The latest reading is
// flagged stale when it is older than staleAfter.
func (s *Server) handleSensorCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}

	reading, err := s.store.LatestReading(r.Context(), deviceID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no readings for device")
		return
	}
	if err != nil {
		s.logger.Error("failed to load latest reading", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load reading")
		return
	}

	age := time.Since(reading.Timestamp)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    reading,
		"isStale": age > staleAfter,
		"dataAge": int64(age.Seconds()),
	})
}

// handleSensorHistory handles GET /api/sensors/history. Results are returned
// oldest first so they can be charted without client-side sorting.
func (s *Server) handleSensorHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	hours := queryInt(r, "hours", 24)
	limit := queryInt(r, "limit", 100)

	readings, err := s.store.QueryReadings(r.Context(), store.ReadingQuery{
		DeviceID: deviceID,
		Since:    time.Now().UTC().Add(-time.Duration(hours) * time.Hour),
		Limit:    limit,
	})
	if err != nil {
		s.logger.Error("failed to query readings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query readings")
		return
	}

	// Store returns newest first
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(readings),
		"data":    readings,
	})
}

// handleSensorStats handles GET /api/sensors/stats. An empty window is a
// successful response with a null stats payload, not an error.
func (s *Server) handleSensorStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	hours := queryInt(r, "hours", 24)

	readings, err := s.store.QueryReadings(r.Context(), store.ReadingQuery{
		DeviceID: deviceID,
		Since:    time.Now().UTC().Add(-time.Duration(hours) * time.Hour),
	})
	if err != nil {
		s.logger.Error("failed to query readings for stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query readings")
		return
	}

	summary := stats.Summarize(readings)
	if summary.Empty() {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"stats":   nil,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   summary,
	})
}

// handleSensorPredictions handles GET /api/sensors/predictions.
func (s *Server) handleSensorPredictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	steps := queryInt(r, "steps", forecast.DefaultSteps)

	points, err := s.forecasts.Forecast(r.Context(), deviceID, steps)
	if err != nil {
		var insufficient *forecast.InsufficientDataError
		if errors.As(err, &insufficient) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":     insufficient.Error(),
				"needed":    insufficient.Needed,
				"available": insufficient.Available,
			})
			return
		}
		s.logger.Error("forecast failed",
			zap.String("device_id", deviceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "forecast failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"count":       len(points),
		"predictions": points,
	})
}

// ─── Alert handlers ──────────────────────────────────────────────────────────

// handleAlertList handles GET /api/alerts.
func (s *Server) handleAlertList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := store.AlertQuery{
		DeviceID: r.URL.Query().Get("deviceId"),
		Limit:    queryInt(r, "limit", 0),
	}
	if raw := r.URL.Query().Get("acknowledged"); raw != "" {
		ack, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "acknowledged must be true or false")
			return
		}
		q.Acknowledged = &ack
	}

	alerts, err := s.alerts.List(r.Context(), q)
	if err != nil {
		s.logger.Error("failed to list alerts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(alerts),
		"alerts":  alerts,
	})
}

// handleAlertAcknowledge handles POST /api/alerts/{id}/acknowledge.
func (s *Server) handleAlertAcknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/alerts/")
	idStr, found := strings.CutSuffix(rest, "/acknowledge")
	if !found {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert ID")
		return
	}

	// The body is optional; a bare POST acknowledges as the default actor.
	var body struct {
		AcknowledgedBy string `json:"acknowledgedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := s.alerts.Acknowledge(r.Context(), id, body.AcknowledgedBy)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to acknowledge alert",
			zap.Int64("alert_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to acknowledge alert")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"alert":   alert,
	})
}

// ─── Device handlers ─────────────────────────────────────────────────────────

// handleDeviceList handles GET /api/devices.
func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(devices),
		"devices": devices,
	})
}

// handleDevice handles GET and PUT /api/devices/{deviceId}.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getDevice(w, r, deviceID)
	case http.MethodPut:
		s.updateDeviceSettings(w, r, deviceID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request, deviceID string) {
	device, err := s.store.GetDevice(r.Context(), deviceID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load device", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"device":  device,
	})
}

// updateDeviceSettings merges the request body over the device's current
// settings, so a partial body leaves omitted fields unchanged.
func (s *Server) updateDeviceSettings(w http.ResponseWriter, r *http.Request, deviceID string) {
	device, err := s.store.GetDevice(r.Context(), deviceID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load device", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load device")
		return
	}

	settings := device.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.store.UpdateDeviceSettings(r.Context(), deviceID, settings)
	if err != nil {
		s.logger.Error("failed to update device settings",
			zap.String("device_id", deviceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update device settings")
		return
	}

	s.logger.Info("device settings updated", zap.String("device_id", deviceID))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"device":  updated,
	})
}

// ─── Health ──────────────────────────────────────────────────────────────────

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  "database unreachable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"degraded":  s.forecasts != nil && s.forecasts.Degraded(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
