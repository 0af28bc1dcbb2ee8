// Package forecast orchestrates forecast generation: a learned model as the
// primary path with a deterministic linear-trend fallback.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldsense/fieldsense-telemetry/internal/analytics/trend"
	"github.com/fieldsense/fieldsense-telemetry/internal/forecast/model"
	"github.com/fieldsense/fieldsense-telemetry/internal/metrics"
	"github.com/fieldsense/fieldsense-telemetry/internal/models"
	"github.com/fieldsense/fieldsense-telemetry/internal/store"
)

const (
	// MinWindow is the hard minimum number of readings a forecast needs.
	// Below it the request fails; the fallback is never used to paper over
	// missing history.
	MinWindow = 10

	// FetchWindow is how many recent readings are offered to the model.
	FetchWindow = 50

	// DefaultSteps is the number of points produced when the caller does
	// not specify one.
	DefaultSteps = 6
)

// InsufficientDataError reports that a device has too little history to
// forecast. It carries the counts so API responses can tell the operator how
// much more data is needed.
type InsufficientDataError struct {
	Needed    int
	Available int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for forecast: need %d readings, have %d", e.Needed, e.Available)
}

// Orchestrator produces forecasts for a device. A nil Invoker puts it in
// degraded mode where every forecast uses the fallback path.
type Orchestrator struct {
	readings store.ReadingStore
	invoker  model.Invoker
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestrator creates a forecast orchestrator. invoker may be nil.
func NewOrchestrator(rs store.ReadingStore, invoker model.Invoker, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		readings: rs,
		invoker:  invoker,
		logger:   logger,
		now:      time.Now,
	}
}

// Degraded reports whether no model endpoint is wired in.
func (o *Orchestrator) Degraded() bool { return o.invoker == nil }

// Forecast produces steps future points for the device. steps <= 0 defaults
// to DefaultSteps.
//
// The model path is attempted first; any model failure other than caller
// cancellation silently degrades to the deterministic fallback. Caller
// cancellation surfaces as context.Canceled and never produces fallback
// output.
func (o *Orchestrator) Forecast(ctx context.Context, deviceID string, steps int) ([]models.ForecastPoint, error) {
	if steps <= 0 {
		steps = DefaultSteps
	}
	requestID := uuid.NewString()

	recent, err := o.readings.QueryReadings(ctx, store.ReadingQuery{DeviceID: deviceID, Limit: FetchWindow})
	if err != nil {
		metrics.ForecastRequests.WithLabelValues("none", "error").Inc()
		return nil, fmt.Errorf("load reading window: %w", err)
	}
	if len(recent) < MinWindow {
		metrics.ForecastRequests.WithLabelValues("none", "insufficient_data").Inc()
		return nil, &InsufficientDataError{Needed: MinWindow, Available: len(recent)}
	}

	// Store returns newest first; the model and the extrapolator both want
	// oldest first.
	window := make([]*models.Reading, len(recent))
	for i, r := range recent {
		window[len(recent)-1-i] = r
	}

	if o.invoker != nil {
		points, err := o.tryModel(ctx, window, steps)
		if err == nil {
			metrics.ForecastRequests.WithLabelValues("model", "ok").Inc()
			return points, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
			metrics.ForecastRequests.WithLabelValues("none", "canceled").Inc()
			return nil, fmt.Errorf("forecast canceled: %w", err)
		}
		o.logger.Warn("model forecast failed, using fallback",
			zap.String("request_id", requestID),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}

	points := trend.Extrapolate(window, steps, o.now().UTC())
	for i := range points {
		points[i].Confidence = StepConfidence(i)
	}
	metrics.ForecastRequests.WithLabelValues("fallback", "ok").Inc()
	o.logger.Info("forecast produced",
		zap.String("request_id", requestID),
		zap.String("device_id", deviceID),
		zap.String("source", string(models.SourceFallback)),
		zap.Int("steps", steps),
	)
	return points, nil
}

// tryModel invokes the learned model and validates its output. Exactly steps
// predictions are required; anything else is an error.
func (o *Orchestrator) tryModel(ctx context.Context, window []*models.Reading, steps int) ([]models.ForecastPoint, error) {
	predictions, err := o.invoker.Predict(ctx, window, steps)
	if err != nil {
		return nil, err
	}
	if len(predictions) != steps {
		metrics.ModelInvocationFailures.WithLabelValues("mismatch").Inc()
		return nil, fmt.Errorf("model returned %d predictions, want %d", len(predictions), steps)
	}

	now := o.now().UTC()
	points := make([]models.ForecastPoint, 0, steps)
	for i, p := range predictions {
		ts := p.Timestamp
		if ts.IsZero() {
			ts = now.Add(time.Duration(i+1) * trend.StepInterval)
		}
		confidence := StepConfidence(i)
		if p.Confidence != nil {
			confidence = *p.Confidence
		}
		points = append(points, models.ForecastPoint{
			Timestamp:    ts,
			Temperature:  p.Temperature,
			Humidity:     p.Humidity,
			SoilMoisture: p.SoilMoisture,
			Confidence:   confidence,
			Source:       models.SourceModel,
		})
	}
	return points, nil
}
