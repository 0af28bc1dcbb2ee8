// Package ingest implements the reading intake pipeline: persist, refresh
// device liveness, evaluate thresholds, raise alerts, publish to the live
// feed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsense/fieldsense-telemetry/internal/alerting"
	"github.com/fieldsense/fieldsense-telemetry/internal/metrics"
	"github.com/fieldsense/fieldsense-telemetry/internal/models"
	"github.com/fieldsense/fieldsense-telemetry/internal/store"
)

// Broadcaster pushes accepted readings and raised alerts to live-feed
// subscribers. Implementations must not block.
type Broadcaster interface {
	BroadcastReading(r *models.Reading)
	BroadcastAlert(a *models.Alert)
}

// Pipeline wires reading intake to persistence and alerting.
type Pipeline struct {
	store     store.Store
	alerts    *alerting.Manager
	broadcast Broadcaster
	logger    *zap.Logger
	now       func() time.Time
}

// NewPipeline creates the intake pipeline. broadcast may be nil.
func NewPipeline(st store.Store, alerts *alerting.Manager, broadcast Broadcaster, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:     st,
		alerts:    alerts,
		broadcast: broadcast,
		logger:    logger,
		now:       time.Now,
	}
}

// OnReading accepts one sensor reading. The reading is persisted and the
// device's last-seen timestamp refreshed; both failures are returned.
// Threshold evaluation and alert persistence are best-effort: their failures
// are logged and counted but never fail the intake.
func (p *Pipeline) OnReading(ctx context.Context, r *models.Reading) error {
	if r.DeviceID == "" {
		metrics.ReadingsRejected.WithLabelValues("validation").Inc()
		return fmt.Errorf("reading has no device ID")
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = p.now().UTC()
	}

	// Devices self-register on first contact.
	if err := p.store.EnsureDevice(ctx, r.DeviceID); err != nil {
		metrics.ReadingsRejected.WithLabelValues("store").Inc()
		return fmt.Errorf("register device: %w", err)
	}
	if err := p.store.InsertReading(ctx, r); err != nil {
		metrics.ReadingsRejected.WithLabelValues("store").Inc()
		return fmt.Errorf("persist reading: %w", err)
	}
	metrics.ReadingsReceived.Inc()

	if err := p.store.TouchLastSeen(ctx, r.DeviceID, r.Timestamp); err != nil {
		p.logger.Error("failed to refresh device last-seen",
			zap.String("device_id", r.DeviceID), zap.Error(err))
	}

	if p.broadcast != nil {
		p.broadcast.BroadcastReading(r)
	}

	p.evaluateAlerts(ctx, r)
	return nil
}

// evaluateAlerts runs the threshold rules for the reading. Never fails the
// caller.
func (p *Pipeline) evaluateAlerts(ctx context.Context, r *models.Reading) {
	tc, err := p.store.GetThresholds(ctx, r.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		// Unknown device: nothing to evaluate against.
		return
	}
	if err != nil {
		p.logger.Error("failed to load thresholds, skipping evaluation",
			zap.String("device_id", r.DeviceID), zap.Error(err))
		return
	}

	candidates := alerting.Evaluate(*r, tc)
	if len(candidates) == 0 {
		return
	}
	raised := p.alerts.Raise(ctx, candidates)
	if p.broadcast != nil {
		for _, a := range raised {
			p.broadcast.BroadcastAlert(a)
		}
	}
}

// SweepRetention deletes readings older than each device's configured
// retention window. Returns the total number of purged rows.
func (p *Pipeline) SweepRetention(ctx context.Context) (int64, error) {
	devices, err := p.store.ListDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("list devices: %w", err)
	}

	var total int64
	now := p.now().UTC()
	for _, d := range devices {
		days := d.Settings.DataRetentionDays
		if days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -days)
		n, err := p.store.PurgeReadingsBefore(ctx, d.DeviceID, cutoff)
		if err != nil {
			p.logger.Error("retention sweep failed for device",
				zap.String("device_id", d.DeviceID), zap.Error(err))
			continue
		}
		if n > 0 {
			metrics.ReadingsPurged.Add(float64(n))
			p.logger.Info("purged expired readings",
				zap.String("device_id", d.DeviceID),
				zap.Int64("rows", n),
				zap.Time("cutoff", cutoff),
			)
		}
		total += n
	}
	return total, nil
}
