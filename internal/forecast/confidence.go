package forecast

import "math"

const (
	confidenceCeiling = 95
	confidenceFloor   = 50
	confidenceDecay   = 7
)

// StepConfidence returns the default confidence for the 0-based forecast
// step i: a linear decay from 95 with a floor of 50. It applies whenever the
// model did not report its own confidence, and to every fallback point.
func StepConfidence(i int) float64 {
	return math.Max(confidenceFloor, confidenceCeiling-confidenceDecay*float64(i))
}
