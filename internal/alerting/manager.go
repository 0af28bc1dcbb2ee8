package alerting

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsense/fieldsense-telemetry/internal/metrics"
	"github.com/fieldsense/fieldsense-telemetry/internal/models"
	"github.com/fieldsense/fieldsense-telemetry/internal/store"
)

// DefaultAcknowledger is recorded when no actor is supplied with an
// acknowledgement.
const DefaultAcknowledger = "User"

// Manager owns the alert lifecycle: raising evaluator candidates,
// acknowledging, and listing.
type Manager struct {
	store  store.AlertStore
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates an alert lifecycle manager.
func NewManager(st store.AlertStore, logger *zap.Logger) *Manager {
	return &Manager{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// Raise persists the given candidates as open alerts and returns the ones
// that were stored. Persistence is best-effort: a failed insert is logged
// and counted, and the remaining candidates are still attempted.
func (m *Manager) Raise(ctx context.Context, candidates []models.AlertCandidate) []*models.Alert {
	var raised []*models.Alert
	for _, c := range candidates {
		a := &models.Alert{
			DeviceID:  c.DeviceID,
			Type:      c.Type,
			Message:   c.Message,
			Value:     c.Value,
			Threshold: c.Threshold,
			Severity:  c.Severity,
			Timestamp: m.now().UTC(),
		}
		if err := m.store.InsertAlert(ctx, a); err != nil {
			metrics.AlertStoreFailures.Inc()
			m.logger.Error("failed to persist alert",
				zap.String("device_id", c.DeviceID),
				zap.String("alert_type", string(c.Type)),
				zap.Error(err),
			)
			continue
		}
		metrics.AlertsRaised.WithLabelValues(string(c.Type), string(c.Severity)).Inc()
		m.logger.Warn("alert raised",
			zap.Int64("alert_id", a.ID),
			zap.String("device_id", a.DeviceID),
			zap.String("alert_type", string(a.Type)),
			zap.String("severity", string(a.Severity)),
			zap.Float64("value", a.Value),
			zap.Float64("threshold", a.Threshold),
		)
		raised = append(raised, a)
	}
	return raised
}

// Acknowledge marks an alert acknowledged. An empty actor defaults to
// DefaultAcknowledger. Acknowledging an already-acknowledged alert succeeds
// and overwrites actor and timestamp. Returns store.ErrNotFound for unknown
// alert IDs.
func (m *Manager) Acknowledge(ctx context.Context, id int64, by string) (*models.Alert, error) {
	if by == "" {
		by = DefaultAcknowledger
	}
	a, err := m.store.AcknowledgeAlert(ctx, id, by, m.now().UTC())
	if err != nil {
		return nil, err
	}
	m.logger.Info("alert acknowledged",
		zap.Int64("alert_id", a.ID),
		zap.String("acknowledged_by", by),
	)
	return a, nil
}

// List returns alerts newest first. A zero limit defaults to 50.
func (m *Manager) List(ctx context.Context, q store.AlertQuery) ([]*models.Alert, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	return m.store.QueryAlerts(ctx, q)
}
