package store

import (
	"context"
	"errors"
	"time"

	"github.com/fieldsense/fieldsense-telemetry/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the main persistence interface for the telemetry layer.
type Store interface {
	ReadingStore
	DeviceStore
	AlertStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Reading store ───────────────────────────────────────────────────────────

// ReadingQuery filters reading queries. Results are always newest first.
type ReadingQuery struct {
	DeviceID string
	Since    time.Time
	Limit    int
}

// ReadingStore persists the append-only sensor reading history.
type ReadingStore interface {
	// InsertReading appends an immutable reading and assigns its ID.
	InsertReading(ctx context.Context, r *models.Reading) error

	// LatestReading returns a device's most recent reading.
	// Returns ErrNotFound when the device has no readings.
	LatestReading(ctx context.Context, deviceID string) (*models.Reading, error)

	// QueryReadings retrieves readings newest first.
	QueryReadings(ctx context.Context, q ReadingQuery) ([]*models.Reading, error)

	// CountReadings returns the number of stored readings for a device.
	CountReadings(ctx context.Context, deviceID string) (int, error)

	// PurgeReadingsBefore deletes a device's readings older than cutoff and
	// reports how many rows were removed.
	PurgeReadingsBefore(ctx context.Context, deviceID string, cutoff time.Time) (int64, error)
}

// ─── Device store ────────────────────────────────────────────────────────────

// DeviceStore persists the device registry and per-device settings.
type DeviceStore interface {
	// GetDevice retrieves a device by its ID. Returns ErrNotFound when absent.
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)

	// GetThresholds returns the device's threshold configuration as a single
	// consistent snapshot. Returns ErrNotFound for unknown devices.
	GetThresholds(ctx context.Context, deviceID string) (models.ThresholdConfig, error)

	// ListDevices returns all registered devices ordered by device ID.
	ListDevices(ctx context.Context) ([]*models.Device, error)

	// UpsertDevice creates or replaces a device record.
	UpsertDevice(ctx context.Context, d *models.Device) error

	// EnsureDevice registers a device with factory defaults when it does not
	// exist yet. Existing devices are left untouched.
	EnsureDevice(ctx context.Context, deviceID string) error

	// UpdateDeviceSettings overwrites a device's settings and returns the
	// updated record. Returns ErrNotFound for unknown devices.
	UpdateDeviceSettings(ctx context.Context, deviceID string, s models.DeviceSettings) (*models.Device, error)

	// TouchLastSeen updates a device's last-seen timestamp. Unknown devices
	// are a no-op.
	TouchLastSeen(ctx context.Context, deviceID string, at time.Time) error
}

// ─── Alert store ─────────────────────────────────────────────────────────────

// AlertQuery filters alert queries. Results are always newest first.
// Acknowledged nil means both acknowledged and open alerts.
type AlertQuery struct {
	DeviceID     string
	Acknowledged *bool
	Limit        int
}

// AlertStore persists raised alerts and their acknowledgement state.
type AlertStore interface {
	// InsertAlert stores a raised alert and assigns its ID.
	InsertAlert(ctx context.Context, a *models.Alert) error

	// GetAlert retrieves an alert by ID. Returns ErrNotFound when absent.
	GetAlert(ctx context.Context, id int64) (*models.Alert, error)

	// QueryAlerts retrieves alerts newest first.
	QueryAlerts(ctx context.Context, q AlertQuery) ([]*models.Alert, error)

	// AcknowledgeAlert marks an alert acknowledged by the given actor and
	// returns the updated record. Acknowledging an already-acknowledged alert
	// overwrites actor and timestamp. Returns ErrNotFound for unknown IDs.
	AcknowledgeAlert(ctx context.Context, id int64, by string, at time.Time) (*models.Alert, error)
}
