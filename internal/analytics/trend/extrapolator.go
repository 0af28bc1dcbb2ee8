// Package trend implements the deterministic linear-trend forecast used
// when the learned model is unavailable or rejects a request.
package trend

import (
	"math"
	"time"

	"github.com/fieldsense/fieldsense-telemetry/internal/models"
)

const (
	// WindowSize is how many trailing readings feed the trend estimate.
	WindowSize = 10

	// StepInterval is the spacing between consecutive forecast points.
	StepInterval = 30 * time.Minute
)

// Physical bounds per metric.
const (
	tempMin, tempMax = 0, 50
	pctMin, pctMax   = 0, 100
)

// Extrapolate projects the per-metric linear trend of the trailing
// WindowSize readings forward for the requested number of steps.
//
// Readings must be ordered oldest to newest and contain at least WindowSize
// entries. Point i (1-based) is last + trend*i, clamped to physical bounds,
// stamped now + StepInterval*i, and tagged as fallback output. Confidence is
// left for the caller to assign.
func Extrapolate(readings []*models.Reading, steps int, now time.Time) []models.ForecastPoint {
	window := readings
	if len(window) > WindowSize {
		window = window[len(window)-WindowSize:]
	}
	first, last := window[0], window[len(window)-1]
	n := float64(len(window))

	tempTrend := (last.Temperature - first.Temperature) / n
	humTrend := (last.Humidity - first.Humidity) / n
	soilTrend := (last.SoilMoisture - first.SoilMoisture) / n

	points := make([]models.ForecastPoint, 0, steps)
	for i := 1; i <= steps; i++ {
		k := float64(i)
		points = append(points, models.ForecastPoint{
			Timestamp:    now.Add(time.Duration(i) * StepInterval),
			Temperature:  round1(clamp(last.Temperature+tempTrend*k, tempMin, tempMax)),
			Humidity:     round1(clamp(last.Humidity+humTrend*k, pctMin, pctMax)),
			SoilMoisture: round1(clamp(last.SoilMoisture+soilTrend*k, pctMin, pctMax)),
			Source:       models.SourceFallback,
		})
	}
	return points
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
