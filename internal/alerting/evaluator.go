// Package alerting contains the threshold evaluator and the alert
// lifecycle manager.
package alerting

import (
	"fmt"

	"github.com/fieldsense/fieldsense-telemetry/internal/models"
)

// Soil moisture below this level is graded critical regardless of the
// configured minimum threshold.
const criticalSoilMoisture = 15.0

// Evaluate applies the threshold rules to a single reading and returns the
// resulting alert candidates. It is a pure function: same reading and
// thresholds always produce the same candidates, in metric order
// (temperature, humidity, soil moisture).
//
// Each metric produces at most one candidate. For temperature and humidity
// the high-bound rule takes precedence over the low-bound rule.
func Evaluate(r models.Reading, tc models.ThresholdConfig) []models.AlertCandidate {
	var out []models.AlertCandidate

	if r.Temperature > tc.TemperatureMax {
		severity := models.SeverityHigh
		if r.Temperature > tc.TemperatureMax+5 {
			severity = models.SeverityCritical
		}
		out = append(out, models.AlertCandidate{
			DeviceID:  r.DeviceID,
			Type:      models.AlertHighTemperature,
			Message:   fmt.Sprintf("Temperature %.1f°C exceeded maximum threshold %.1f°C", r.Temperature, tc.TemperatureMax),
			Value:     r.Temperature,
			Threshold: tc.TemperatureMax,
			Severity:  severity,
		})
	} else if r.Temperature < tc.TemperatureMin {
		out = append(out, models.AlertCandidate{
			DeviceID:  r.DeviceID,
			Type:      models.AlertLowTemperature,
			Message:   fmt.Sprintf("Temperature %.1f°C below minimum threshold %.1f°C", r.Temperature, tc.TemperatureMin),
			Value:     r.Temperature,
			Threshold: tc.TemperatureMin,
			Severity:  models.SeverityMedium,
		})
	}

	if r.Humidity > tc.HumidityMax {
		out = append(out, models.AlertCandidate{
			DeviceID:  r.DeviceID,
			Type:      models.AlertHighHumidity,
			Message:   fmt.Sprintf("Humidity %.1f%% exceeded maximum threshold %.1f%%", r.Humidity, tc.HumidityMax),
			Value:     r.Humidity,
			Threshold: tc.HumidityMax,
			Severity:  models.SeverityMedium,
		})
	} else if r.Humidity < tc.HumidityMin {
		out = append(out, models.AlertCandidate{
			DeviceID:  r.DeviceID,
			Type:      models.AlertLowHumidity,
			Message:   fmt.Sprintf("Humidity %.1f%% below minimum threshold %.1f%%", r.Humidity, tc.HumidityMin),
			Value:     r.Humidity,
			Threshold: tc.HumidityMin,
			Severity:  models.SeverityMedium,
		})
	}

	if r.SoilMoisture < tc.SoilMoistureMin {
		severity := models.SeverityHigh
		if r.SoilMoisture < criticalSoilMoisture {
			severity = models.SeverityCritical
		}
		out = append(out, models.AlertCandidate{
			DeviceID:  r.DeviceID,
			Type:      models.AlertLowSoilMoisture,
			Message:   fmt.Sprintf("Soil moisture %.1f%% below minimum threshold %.1f%% - irrigation recommended", r.SoilMoisture, tc.SoilMoistureMin),
			Value:     r.SoilMoisture,
			Threshold: tc.SoilMoistureMin,
			Severity:  severity,
		})
	}

	return out
}
