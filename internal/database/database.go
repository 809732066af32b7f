package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vigil/internal/monitor"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// CameraRecord represents a camera stored in the database
type CameraRecord struct {
	ID        string
	Name      string
	Address   string
	CreatedAt time.Time
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			address TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS daily_aggregates (
			kind TEXT NOT NULL,
			date TEXT NOT NULL,
			camera_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			max_count INTEGER DEFAULT 0,
			hourly_max TEXT,
			minute_counts TEXT,
			last_updated DATETIME,
			PRIMARY KEY (kind, date, camera_id)
		)`,
		`CREATE TABLE IF NOT EXISTS detection_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			camera_id TEXT NOT NULL,
			camera_name TEXT,
			timestamp DATETIME NOT NULL,
			date TEXT NOT NULL,
			month TEXT NOT NULL,
			time_of_day TEXT NOT NULL,
			finding_count INTEGER DEFAULT 0,
			snapshot_key TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_aggregates_kind_date ON daily_aggregates(kind, date)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_date ON detection_events(kind, date, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_month ON detection_events(kind, month, timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveCamera saves or updates a camera
func (d *Database) SaveCamera(ctx context.Context, cam *CameraRecord) error {
	query := `INSERT INTO cameras (id, name, address, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address`

	_, err := d.db.ExecContext(ctx, query, cam.ID, cam.Name, cam.Address, cam.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

// GetCamera retrieves a camera by ID
func (d *Database) GetCamera(ctx context.Context, id string) (*CameraRecord, error) {
	query := `SELECT id, name, address, created_at FROM cameras WHERE id = ?`

	var cam CameraRecord
	err := d.db.QueryRowContext(ctx, query, id).Scan(&cam.ID, &cam.Name, &cam.Address, &cam.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return &cam, nil
}

// ListCameras returns all cameras in registration order
func (d *Database) ListCameras(ctx context.Context) ([]*CameraRecord, error) {
	query := `SELECT id, name, address, created_at FROM cameras ORDER BY created_at ASC`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []*CameraRecord
	for rows.Next() {
		var cam CameraRecord
		if err := rows.Scan(&cam.ID, &cam.Name, &cam.Address, &cam.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, &cam)
	}
	return cameras, rows.Err()
}

// DeleteCamera deletes a camera by ID
func (d *Database) DeleteCamera(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM cameras WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	return nil
}

// UpsertAggregate saves or updates a daily aggregate document
func (d *Database) UpsertAggregate(ctx context.Context, agg *monitor.DailyAggregate) error {
	hourlyJSON, err := json.Marshal(agg.HourlyMax)
	if err != nil {
		return fmt.Errorf("failed to marshal hourly buckets: %w", err)
	}
	minuteJSON, err := json.Marshal(agg.MinuteCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal minute buckets: %w", err)
	}

	query := `INSERT INTO daily_aggregates
		(kind, date, camera_id, document_id, max_count, hourly_max, minute_counts, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, date, camera_id) DO UPDATE SET
			max_count = excluded.max_count,
			hourly_max = excluded.hourly_max,
			minute_counts = excluded.minute_counts,
			last_updated = excluded.last_updated`

	_, err = d.db.ExecContext(ctx, query, string(agg.Kind), agg.Date, agg.CameraID, agg.DocumentID,
		agg.MaxCount, string(hourlyJSON), string(minuteJSON), agg.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to save aggregate: %w", err)
	}
	return nil
}

// LoadAggregate retrieves one day's aggregate for a camera, or nil when
// no document exists yet
func (d *Database) LoadAggregate(ctx context.Context, kind monitor.WorkloadKind, date, cameraID string) (*monitor.DailyAggregate, error) {
	query := `SELECT kind, date, camera_id, document_id, max_count, hourly_max, minute_counts, last_updated
		FROM daily_aggregates WHERE kind = ? AND date = ? AND camera_id = ?`

	agg, err := scanAggregate(d.db.QueryRowContext(ctx, query, string(kind), date, cameraID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate: %w", err)
	}
	return agg, nil
}

// AggregatesForDate returns every camera's aggregate for a date, keyed
// by camera ID
func (d *Database) AggregatesForDate(ctx context.Context, kind monitor.WorkloadKind, date string) (map[string]*monitor.DailyAggregate, error) {
	query := `SELECT kind, date, camera_id, document_id, max_count, hourly_max, minute_counts, last_updated
		FROM daily_aggregates WHERE kind = ? AND date = ?`

	rows, err := d.db.QueryContext(ctx, query, string(kind), date)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*monitor.DailyAggregate)
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		out[agg.CameraID] = agg
	}
	return out, rows.Err()
}

// AggregateDates returns the distinct dates with stored aggregates
func (d *Database) AggregateDates(ctx context.Context, kind monitor.WorkloadKind) ([]string, error) {
	query := `SELECT DISTINCT date FROM daily_aggregates WHERE kind = ? ORDER BY date DESC`

	rows, err := d.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregate dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		dates = append(dates, date)
	}
	return dates, rows.Err()
}

// scanner lets one decode path serve both QueryRow and Query results
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAggregate(row scanner) (*monitor.DailyAggregate, error) {
	var agg monitor.DailyAggregate
	var kind string
	var hourlyJSON, minuteJSON sql.NullString

	err := row.Scan(&kind, &agg.Date, &agg.CameraID, &agg.DocumentID,
		&agg.MaxCount, &hourlyJSON, &minuteJSON, &agg.LastUpdated)
	if err != nil {
		return nil, err
	}
	agg.Kind = monitor.WorkloadKind(kind)

	if hourlyJSON.Valid && hourlyJSON.String != "" {
		if err := json.Unmarshal([]byte(hourlyJSON.String), &agg.HourlyMax); err != nil {
			return nil, fmt.Errorf("failed to unmarshal hourly buckets: %w", err)
		}
	}
	if minuteJSON.Valid && minuteJSON.String != "" {
		if err := json.Unmarshal([]byte(minuteJSON.String), &agg.MinuteCounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal minute buckets: %w", err)
		}
	}
	return &agg, nil
}

// InsertEvent appends a fired detection event. Events are immutable
// once written.
func (d *Database) InsertEvent(ctx context.Context, ev *monitor.Event) error {
	query := `INSERT INTO detection_events
		(id, kind, camera_id, camera_name, timestamp, date, month, time_of_day, finding_count, snapshot_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query, ev.ID, string(ev.Kind), ev.CameraID, ev.CameraName,
		ev.Timestamp, ev.Date, ev.Month, ev.TimeOfDay, ev.FindingCount, ev.SnapshotKey)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// EventsByDate returns a day's events, most recent first
func (d *Database) EventsByDate(ctx context.Context, kind monitor.WorkloadKind, date string) ([]*monitor.Event, error) {
	query := `SELECT id, kind, camera_id, camera_name, timestamp, date, month, time_of_day, finding_count, snapshot_key
		FROM detection_events WHERE kind = ? AND date = ? ORDER BY timestamp DESC`
	return d.queryEvents(ctx, query, string(kind), date)
}

// EventsByMonth returns a month's events, most recent first
func (d *Database) EventsByMonth(ctx context.Context, kind monitor.WorkloadKind, month string) ([]*monitor.Event, error) {
	query := `SELECT id, kind, camera_id, camera_name, timestamp, date, month, time_of_day, finding_count, snapshot_key
		FROM detection_events WHERE kind = ? AND month = ? ORDER BY timestamp DESC`
	return d.queryEvents(ctx, query, string(kind), month)
}

func (d *Database) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*monitor.Event, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*monitor.Event
	for rows.Next() {
		var ev monitor.Event
		var kind string
		var snapshotKey sql.NullString

		if err := rows.Scan(&ev.ID, &kind, &ev.CameraID, &ev.CameraName, &ev.Timestamp,
			&ev.Date, &ev.Month, &ev.TimeOfDay, &ev.FindingCount, &snapshotKey); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Kind = monitor.WorkloadKind(kind)
		ev.SnapshotKey = snapshotKey.String
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// EventDates returns the distinct dates with stored events, most
// recent first
func (d *Database) EventDates(ctx context.Context, kind monitor.WorkloadKind) ([]string, error) {
	query := `SELECT DISTINCT date FROM detection_events WHERE kind = ? ORDER BY date DESC`

	rows, err := d.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list event dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		dates = append(dates, date)
	}
	return dates, rows.Err()
}

// SaveSetting saves a settings value
func (d *Database) SaveSetting(ctx context.Context, key, value string) error {
	query := `INSERT INTO app_settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	_, err := d.db.ExecContext(ctx, query, key, value)
	if err != nil {
		return fmt.Errorf("failed to save setting: %w", err)
	}
	return nil
}

// Setting retrieves a settings value; missing keys return ""
func (d *Database) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM app_settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

// ListSettings returns all settings values
func (d *Database) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT key, value FROM app_settings")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// DeleteSetting deletes a settings value
func (d *Database) DeleteSetting(ctx context.Context, key string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM app_settings WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

var (
	_ monitor.EventStore = (*Database)(nil)
	_ monitor.Settings   = (*Database)(nil)
)
