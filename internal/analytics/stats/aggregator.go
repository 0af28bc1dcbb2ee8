// Package stats computes windowed summary statistics over sensor readings.
package stats

import (
	"github.com/fieldsense/fieldsense-telemetry/internal/models"
)

// Summarize computes count/min/avg/max per metric for the given readings.
// An empty input yields a summary with Count 0 and zeroed metrics; callers
// must check Empty() before treating the values as measurements.
func Summarize(readings []*models.Reading) models.StatsSummary {
	if len(readings) == 0 {
		return models.StatsSummary{}
	}

	temp := newAccumulator()
	hum := newAccumulator()
	soil := newAccumulator()
	for _, r := range readings {
		temp.add(r.Temperature)
		hum.add(r.Humidity)
		soil.add(r.SoilMoisture)
	}

	return models.StatsSummary{
		Count:        len(readings),
		Temperature:  temp.summary(),
		Humidity:     hum.summary(),
		SoilMoisture: soil.summary(),
	}
}

type accumulator struct {
	min, max, sum float64
	n             int
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

func (a *accumulator) add(v float64) {
	if a.n == 0 || v < a.min {
		a.min = v
	}
	if a.n == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.n++
}

func (a *accumulator) summary() models.MetricSummary {
	return models.MetricSummary{
		Min: a.min,
		Avg: a.sum / float64(a.n),
		Max: a.max,
	}
}
