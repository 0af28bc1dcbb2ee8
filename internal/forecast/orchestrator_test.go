package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsense/fieldsense-telemetry/internal/forecast/model"
	"github.com/fieldsense/fieldsense-telemetry/internal/models"
	"github.com/fieldsense/fieldsense-telemetry/internal/store"
)

// fakeReadings serves a fixed history, newest first, like the real store.
type fakeReadings struct {
	readings []*models.Reading // oldest first
	err      error
}

func (f *fakeReadings) InsertReading(context.Context, *models.Reading) error { return nil }
func (f *fakeReadings) LatestReading(context.Context, string) (*models.Reading, error) {
	return nil, store.ErrNotFound
}
func (f *fakeReadings) CountReadings(context.Context, string) (int, error) {
	return len(f.readings), nil
}
func (f *fakeReadings) PurgeReadingsBefore(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeReadings) QueryReadings(_ context.Context, q store.ReadingQuery) ([]*models.Reading, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.Reading
	for i := len(f.readings) - 1; i >= 0; i-- {
		out = append(out, f.readings[i])
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

type fakeInvoker struct {
	predictions []model.Prediction
	err         error
	gotWindow   []*models.Reading
	gotSteps    int
	calls       int
}

func (f *fakeInvoker) Predict(_ context.Context, window []*models.Reading, steps int) ([]model.Prediction, error) {
	f.calls++
	f.gotWindow = window
	f.gotSteps = steps
	return f.predictions, f.err
}

func history(n int) []*models.Reading {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]*models.Reading, n)
	for i := 0; i < n; i++ {
		out[i] = &models.Reading{
			DeviceID:     "NodeMCU_001",
			Temperature:  20 + float64(i)*0.1,
			Humidity:     50,
			SoilMoisture: 40,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func predictions(n int) []model.Prediction {
	out := make([]model.Prediction, n)
	for i := range out {
		out[i] = model.Prediction{Temperature: 25, Humidity: 50, SoilMoisture: 40}
	}
	return out
}

func TestForecastInsufficientData(t *testing.T) {
	inv := &fakeInvoker{predictions: predictions(6)}
	o := NewOrchestrator(&fakeReadings{readings: history(9)}, inv, zap.NewNop())

	_, err := o.Forecast(context.Background(), "NodeMCU_001", 6)
	var ide *InsufficientDataError
	if !errors.As(err, &ide) {
		t.Fatalf("err = %v, want InsufficientDataError", err)
	}
	if ide.Needed != 10 || ide.Available != 9 {
		t.Errorf("counts = needed %d available %d, want 10/9", ide.Needed, ide.Available)
	}
	if inv.calls != 0 {
		t.Error("model invoked despite insufficient data")
	}
}

func TestForecastModelPath(t *testing.T) {
	conf := 80.0
	preds := predictions(3)
	preds[0].Confidence = &conf
	inv := &fakeInvoker{predictions: preds}
	o := NewOrchestrator(&fakeReadings{readings: history(60)}, inv, zap.NewNop())

	points, err := o.Forecast(context.Background(), "NodeMCU_001", 3)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}
	for i, p := range points {
		if p.Source != models.SourceModel {
			t.Errorf("point %d source = %q, want model", i, p.Source)
		}
	}
	// Model confidence is authoritative when present; the decay applies
	// only where the model stayed silent.
	if points[0].Confidence != 80 {
		t.Errorf("point 0 confidence = %v, want 80 (model value)", points[0].Confidence)
	}
	if points[1].Confidence != 88 {
		t.Errorf("point 1 confidence = %v, want 88 (95-7)", points[1].Confidence)
	}

	// The invoker sees at most FetchWindow readings, oldest first.
	if len(inv.gotWindow) != FetchWindow {
		t.Errorf("window size = %d, want %d", len(inv.gotWindow), FetchWindow)
	}
	if !inv.gotWindow[0].Timestamp.Before(inv.gotWindow[len(inv.gotWindow)-1].Timestamp) {
		t.Error("window not ordered oldest first")
	}
	if inv.gotSteps != 3 {
		t.Errorf("steps = %d, want 3", inv.gotSteps)
	}
}

func TestForecastFallbackOnModelError(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("connection refused")}
	o := NewOrchestrator(&fakeReadings{readings: history(20)}, inv, zap.NewNop())

	points, err := o.Forecast(context.Background(), "NodeMCU_001", 6)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(points) != 6 {
		t.Fatalf("got %d points, want 6", len(points))
	}
	for i, p := range points {
		if p.Source != models.SourceFallback {
			t.Errorf("point %d source = %q, want fallback", i, p.Source)
		}
		if want := StepConfidence(i); p.Confidence != want {
			t.Errorf("point %d confidence = %v, want %v", i, p.Confidence, want)
		}
	}
}

func TestForecastFallbackOnCountMismatch(t *testing.T) {
	inv := &fakeInvoker{predictions: predictions(4)}
	o := NewOrchestrator(&fakeReadings{readings: history(20)}, inv, zap.NewNop())

	points, err := o.Forecast(context.Background(), "NodeMCU_001", 6)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(points) != 6 {
		t.Fatalf("got %d points, want 6", len(points))
	}
	if points[0].Source != models.SourceFallback {
		t.Errorf("source = %q, want fallback after count mismatch", points[0].Source)
	}
}

func TestForecastDegradedMode(t *testing.T) {
	o := NewOrchestrator(&fakeReadings{readings: history(20)}, nil, zap.NewNop())
	if !o.Degraded() {
		t.Error("Degraded() = false with nil invoker")
	}

	points, err := o.Forecast(context.Background(), "NodeMCU_001", 0)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(points) != DefaultSteps {
		t.Fatalf("got %d points, want default %d", len(points), DefaultSteps)
	}
	if points[0].Source != models.SourceFallback {
		t.Errorf("source = %q, want fallback", points[0].Source)
	}
}

func TestForecastCancellationIsNotFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := &fakeInvoker{err: context.Canceled}
	o := NewOrchestrator(&fakeReadings{readings: history(20)}, inv, zap.NewNop())

	points, err := o.Forecast(ctx, "NodeMCU_001", 6)
	if err == nil {
		t.Fatalf("Forecast returned %d points after cancellation, want error", len(points))
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want Canceled in chain", err)
	}
}

func TestForecastModelTimeoutFallsBack(t *testing.T) {
	// A model-side timeout is not caller cancellation: the parent context is
	// still live, so the fallback applies.
	inv := &fakeInvoker{err: context.DeadlineExceeded}
	o := NewOrchestrator(&fakeReadings{readings: history(20)}, inv, zap.NewNop())

	points, err := o.Forecast(context.Background(), "NodeMCU_001", 6)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if points[0].Source != models.SourceFallback {
		t.Errorf("source = %q, want fallback", points[0].Source)
	}
}

func TestStepConfidence(t *testing.T) {
	want := []float64{95, 88, 81, 74, 67, 60, 53, 50, 50}
	for i, w := range want {
		if got := StepConfidence(i); got != w {
			t.Errorf("StepConfidence(%d) = %v, want %v", i, got, w)
		}
	}
}
