package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/fieldsense/fieldsense-telemetry/internal/models"
)

// schema defines the tables for the telemetry persistence layer.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS devices (
    device_id           TEXT PRIMARY KEY,
    name                TEXT NOT NULL DEFAULT 'IoT Sensor Device',
    location_zone       TEXT NOT NULL DEFAULT 'A',
    location_name       TEXT NOT NULL DEFAULT 'Unknown',
    firmware_version    TEXT NOT NULL DEFAULT '',
    is_active           BOOLEAN NOT NULL DEFAULT 1,
    reading_interval    INTEGER NOT NULL DEFAULT 5,
    data_retention_days INTEGER NOT NULL DEFAULT 30,
    alert_sound         BOOLEAN NOT NULL DEFAULT 1,
    email_notifications BOOLEAN NOT NULL DEFAULT 0,
    temperature_max     REAL NOT NULL DEFAULT 35,
    temperature_min     REAL NOT NULL DEFAULT 10,
    humidity_max        REAL NOT NULL DEFAULT 80,
    humidity_min        REAL NOT NULL DEFAULT 30,
    soil_moisture_min   REAL NOT NULL DEFAULT 30,
    last_seen           DATETIME NOT NULL,
    created_at          DATETIME NOT NULL,
    updated_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS readings (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id     TEXT NOT NULL,
    temperature   REAL NOT NULL,
    humidity      REAL NOT NULL,
    soil_moisture REAL NOT NULL,
    location      TEXT NOT NULL DEFAULT '',
    rssi          INTEGER,
    ts            DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_device_ts ON readings(device_id, ts DESC);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS alerts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id       TEXT NOT NULL,
    alert_type      TEXT NOT NULL,
    message         TEXT NOT NULL DEFAULT '',
    value           REAL NOT NULL DEFAULT 0.0,
    threshold       REAL NOT NULL DEFAULT 0.0,
    severity        TEXT NOT NULL DEFAULT 'low',
    acknowledged    BOOLEAN NOT NULL DEFAULT 0,
    acknowledged_by TEXT NOT NULL DEFAULT '',
    acknowledged_at DATETIME,
    auto_resolved   BOOLEAN NOT NULL DEFAULT 0,
    resolved_at     DATETIME,
    ts              DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_ts           ON alerts(ts DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_device       ON alerts(device_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_acknowledged ON alerts(acknowledged);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Readings ────────────────────────────────────────────────────────────────

func (s *sqliteStore) InsertReading(ctx context.Context, r *models.Reading) error {
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO readings(device_id, temperature, humidity, soil_moisture, location, rssi, ts)
        VALUES(?,?,?,?,?,?,?)
    `,
		r.DeviceID, r.Temperature, r.Humidity, r.SoilMoisture,
		r.Location, r.RSSI, r.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	id, _ := result.LastInsertId()
	r.ID = id
	return nil
}

func (s *sqliteStore) LatestReading(ctx context.Context, deviceID string) (*models.Reading, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id,device_id,temperature,humidity,soil_moisture,location,rssi,ts
        FROM readings WHERE device_id=? ORDER BY ts DESC, id DESC LIMIT 1
    `, deviceID)
	return scanReading(row)
}

func (s *sqliteStore) QueryReadings(ctx context.Context, q ReadingQuery) ([]*models.Reading, error) {
	query := `SELECT id,device_id,temperature,humidity,soil_moisture,location,rssi,ts FROM readings WHERE 1=1`
	args := []any{}

	if q.DeviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, q.DeviceID)
	}
	if !q.Since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Since.UTC())
	}
	query += ` ORDER BY ts DESC, id DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *sqliteStore) CountReadings(ctx context.Context, deviceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings WHERE device_id=?`, deviceID).Scan(&count)
	return count, err
}

func (s *sqliteStore) PurgeReadingsBefore(ctx context.Context, deviceID string, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM readings WHERE device_id=? AND ts < ?`, deviceID, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge readings: %w", err)
	}
	return result.RowsAffected()
}

// ─── Devices ─────────────────────────────────────────────────────────────────

const deviceColumns = `device_id,name,location_zone,location_name,firmware_version,is_active,
reading_interval,data_retention_days,alert_sound,email_notifications,
temperature_max,temperature_min,humidity_max,humidity_min,soil_moisture_min,
last_seen,created_at,updated_at`

func (s *sqliteStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id=?`, deviceID)
	return scanDevice(row)
}

func (s *sqliteStore) GetThresholds(ctx context.Context, deviceID string) (models.ThresholdConfig, error) {
	var tc models.ThresholdConfig
	err := s.db.QueryRowContext(ctx, `
        SELECT temperature_max,temperature_min,humidity_max,humidity_min,soil_moisture_min
        FROM devices WHERE device_id=?
    `, deviceID).Scan(&tc.TemperatureMax, &tc.TemperatureMin, &tc.HumidityMax, &tc.HumidityMin, &tc.SoilMoistureMin)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ThresholdConfig{}, ErrNotFound
	}
	if err != nil {
		return models.ThresholdConfig{}, err
	}
	return tc, nil
}

func (s *sqliteStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices ORDER BY device_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *sqliteStore) UpsertDevice(ctx context.Context, d *models.Device) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO devices(device_id, name, location_zone, location_name, firmware_version, is_active,
            reading_interval, data_retention_days, alert_sound, email_notifications,
            temperature_max, temperature_min, humidity_max, humidity_min, soil_moisture_min,
            last_seen, created_at, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(device_id) DO UPDATE SET
            name                = excluded.name,
            location_zone       = excluded.location_zone,
            location_name       = excluded.location_name,
            firmware_version    = excluded.firmware_version,
            is_active           = excluded.is_active,
            reading_interval    = excluded.reading_interval,
            data_retention_days = excluded.data_retention_days,
            alert_sound         = excluded.alert_sound,
            email_notifications = excluded.email_notifications,
            temperature_max     = excluded.temperature_max,
            temperature_min     = excluded.temperature_min,
            humidity_max        = excluded.humidity_max,
            humidity_min        = excluded.humidity_min,
            soil_moisture_min   = excluded.soil_moisture_min,
            updated_at          = excluded.updated_at
    `,
		d.DeviceID, d.Name, d.LocationZone, d.LocationName, d.FirmwareVersion, d.Active,
		d.Settings.ReadingInterval, d.Settings.DataRetentionDays,
		d.Settings.AlertSound, d.Settings.EmailNotifications,
		d.Settings.Thresholds.TemperatureMax, d.Settings.Thresholds.TemperatureMin,
		d.Settings.Thresholds.HumidityMax, d.Settings.Thresholds.HumidityMin,
		d.Settings.Thresholds.SoilMoistureMin,
		d.LastSeen.UTC(), d.CreatedAt.UTC(), d.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

func (s *sqliteStore) EnsureDevice(ctx context.Context, deviceID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO devices(device_id, last_seen, created_at, updated_at)
        VALUES(?,?,?,?)
    `, deviceID, now, now, now)
	if err != nil {
		return fmt.Errorf("ensure device: %w", err)
	}
	return nil
}

func (s *sqliteStore) UpdateDeviceSettings(ctx context.Context, deviceID string, set models.DeviceSettings) (*models.Device, error) {
	result, err := s.db.ExecContext(ctx, `
        UPDATE devices SET
            reading_interval    = ?,
            data_retention_days = ?,
            alert_sound         = ?,
            email_notifications = ?,
            temperature_max     = ?,
            temperature_min     = ?,
            humidity_max        = ?,
            humidity_min        = ?,
            soil_moisture_min   = ?,
            updated_at          = ?
        WHERE device_id = ?
    `,
		set.ReadingInterval, set.DataRetentionDays, set.AlertSound, set.EmailNotifications,
		set.Thresholds.TemperatureMax, set.Thresholds.TemperatureMin,
		set.Thresholds.HumidityMax, set.Thresholds.HumidityMin, set.Thresholds.SoilMoistureMin,
		time.Now().UTC(), deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("update device settings: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.GetDevice(ctx, deviceID)
}

func (s *sqliteStore) TouchLastSeen(ctx context.Context, deviceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET last_seen=?, is_active=1 WHERE device_id=?`, at.UTC(), deviceID)
	return err
}

// ─── Alerts ──────────────────────────────────────────────────────────────────

const alertColumns = `id,device_id,alert_type,message,value,threshold,severity,
acknowledged,acknowledged_by,acknowledged_at,auto_resolved,resolved_at,ts`

func (s *sqliteStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO alerts(device_id, alert_type, message, value, threshold, severity,
            acknowledged, acknowledged_by, acknowledged_at, auto_resolved, resolved_at, ts)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
    `,
		a.DeviceID, a.Type, a.Message, a.Value, a.Threshold, a.Severity,
		a.Acknowledged, a.AcknowledgedBy, timePtr(a.AcknowledgedAt),
		a.AutoResolved, timePtr(a.ResolvedAt), a.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	id, _ := result.LastInsertId()
	a.ID = id
	return nil
}

func (s *sqliteStore) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=?`, id)
	return scanAlert(row)
}

func (s *sqliteStore) QueryAlerts(ctx context.Context, q AlertQuery) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := []any{}

	if q.DeviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, q.DeviceID)
	}
	if q.Acknowledged != nil {
		query += ` AND acknowledged = ?`
		args = append(args, *q.Acknowledged)
	}
	query += ` ORDER BY ts DESC, id DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *sqliteStore) AcknowledgeAlert(ctx context.Context, id int64, by string, at time.Time) (*models.Alert, error) {
	result, err := s.db.ExecContext(ctx, `
        UPDATE alerts SET acknowledged=1, acknowledged_by=?, acknowledged_at=? WHERE id=?
    `, by, at.UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.GetAlert(ctx, id)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*models.Reading, error) {
	r := &models.Reading{}
	var ts string
	err := row.Scan(&r.ID, &r.DeviceID, &r.Temperature, &r.Humidity, &r.SoilMoisture,
		&r.Location, &r.RSSI, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Timestamp, _ = parseTime(ts)
	return r, nil
}

func scanDevice(row rowScanner) (*models.Device, error) {
	d := &models.Device{}
	var lastSeen, createdAt, updatedAt string
	err := row.Scan(
		&d.DeviceID, &d.Name, &d.LocationZone, &d.LocationName, &d.FirmwareVersion, &d.Active,
		&d.Settings.ReadingInterval, &d.Settings.DataRetentionDays,
		&d.Settings.AlertSound, &d.Settings.EmailNotifications,
		&d.Settings.Thresholds.TemperatureMax, &d.Settings.Thresholds.TemperatureMin,
		&d.Settings.Thresholds.HumidityMax, &d.Settings.Thresholds.HumidityMin,
		&d.Settings.Thresholds.SoilMoistureMin,
		&lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.LastSeen, _ = parseTime(lastSeen)
	d.CreatedAt, _ = parseTime(createdAt)
	d.UpdatedAt, _ = parseTime(updatedAt)
	return d, nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	a := &models.Alert{}
	var ts string
	var ackAt, resolvedAt sql.NullString
	err := row.Scan(&a.ID, &a.DeviceID, &a.Type, &a.Message, &a.Value, &a.Threshold,
		&a.Severity, &a.Acknowledged, &a.AcknowledgedBy, &ackAt, &a.AutoResolved, &resolvedAt, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Timestamp, _ = parseTime(ts)
	if ackAt.Valid {
		if t, err := parseTime(ackAt.String); err == nil {
			a.AcknowledgedAt = &t
		}
	}
	if resolvedAt.Valid {
		if t, err := parseTime(resolvedAt.String); err == nil {
			a.ResolvedAt = &t
		}
	}
	return a, nil
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
