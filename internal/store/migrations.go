package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS stations (
    code INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS prediction_models (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    abbreviation TEXT NOT NULL,
    projection TEXT NOT NULL,
    name TEXT NOT NULL,
    UNIQUE(abbreviation, projection)
);

CREATE TABLE IF NOT EXISTS prediction_model_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    prediction_model_id INTEGER NOT NULL REFERENCES prediction_models(id),
    run_timestamp TEXT NOT NULL,
    complete BOOLEAN NOT NULL DEFAULT FALSE,
    interpolated BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE(prediction_model_id, run_timestamp)
);

CREATE TABLE IF NOT EXISTS processed_model_run_urls (
    url TEXT PRIMARY KEY,
    create_date TEXT NOT NULL,
    update_date TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS model_run_predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    prediction_model_run_id INTEGER NOT NULL REFERENCES prediction_model_runs(id),
    station_code INTEGER NOT NULL,
    prediction_timestamp TEXT NOT NULL,
    temperature REAL,
    relative_humidity REAL,
    wind_speed REAL,
    wind_direction REAL,
    precipitation REAL,
    update_date TEXT NOT NULL,
    UNIQUE(prediction_model_run_id, station_code, prediction_timestamp)
);

CREATE INDEX IF NOT EXISTS idx_mrp_station_ts ON model_run_predictions(station_code, prediction_timestamp);

CREATE TABLE IF NOT EXISTS hourly_actuals (
    station_code INTEGER NOT NULL,
    weather_date TEXT NOT NULL,
    temperature REAL,
    relative_humidity REAL,
    wind_speed REAL,
    wind_direction REAL,
    precipitation REAL,
    PRIMARY KEY (station_code, weather_date)
);
`,
	},
	{
		Version:     2,
		Description: "Seed prediction models",
		SQL: `
INSERT INTO prediction_models (abbreviation, projection, name) VALUES
    ('GDPS', 'latlon.15x.15', 'Global Deterministic Prediction System'),
    ('RDPS', 'ps10km', 'Regional Deterministic Prediction System'),
    ('HRDPS', 'ps2.5km', 'High Resolution Deterministic Prediction System'),
    ('GFS', 'lonlat.0.25deg', 'Global Forecast System'),
    ('NAM', 'ps32km', 'North American Mesoscale Model')
ON CONFLICT(abbreviation, projection) DO NOTHING;
`,
	},
	{
		Version:     3,
		Description: "Add bias-adjusted station predictions",
		SQL: `
CREATE TABLE IF NOT EXISTS weather_station_model_predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station_code INTEGER NOT NULL,
    prediction_model_run_id INTEGER NOT NULL REFERENCES prediction_model_runs(id),
    prediction_timestamp TEXT NOT NULL,
    temperature REAL,
    bias_adjusted_temperature REAL,
    relative_humidity REAL,
    bias_adjusted_relative_humidity REAL,
    wind_speed REAL,
    bias_adjusted_wind_speed REAL,
    wind_direction REAL,
    bias_adjusted_wind_direction REAL,
    precipitation REAL,
    delta_precipitation REAL,
    precipitation_24h REAL,
    bias_adjusted_precipitation_24h REAL,
    interpolated BOOLEAN NOT NULL DEFAULT FALSE,
    update_date TEXT NOT NULL,
    UNIQUE(station_code, prediction_model_run_id, prediction_timestamp)
);

CREATE INDEX IF NOT EXISTS idx_wsmp_station_ts ON weather_station_model_predictions(station_code, prediction_timestamp);
`,
	},
	{
		Version:     4,
		Description: "Add ingest run tracking",
		SQL: `
CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    model TEXT NOT NULL,
    files_downloaded INTEGER,
    files_processed INTEGER,
    exceptions INTEGER,
    runs_completed INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, formatTime(time.Now()),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TEXT
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
