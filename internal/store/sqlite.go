package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lox/nwpingest/internal/models"
)

var ErrModelNotFound = errors.New("prediction model not found")

// Timestamps are stored as UTC RFC 3339 text so they sort and compare
// lexically.
const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) UpsertStation(ctx context.Context, st models.Station) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stations (code, name, latitude, longitude, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			active = excluded.active
	`, st.Code, st.Name, st.Latitude, st.Longitude, st.Active)
	return err
}

func (s *Store) ActiveStations(ctx context.Context) ([]models.Station, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, latitude, longitude, active FROM stations WHERE active = TRUE ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		if err := rows.Scan(&st.Code, &st.Name, &st.Latitude, &st.Longitude, &st.Active); err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

func (s *Store) GetPredictionModel(ctx context.Context, abbreviation, projection string) (*models.PredictionModel, error) {
	var m models.PredictionModel
	err := s.db.QueryRowContext(ctx, `
		SELECT id, abbreviation, projection, name FROM prediction_models
		WHERE abbreviation = ? AND projection = ?
	`, abbreviation, projection).Scan(&m.ID, &m.Abbreviation, &m.Projection, &m.Name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s %s", ErrModelNotFound, abbreviation, projection)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetOrCreateRun returns the run of a model issued at runTimestamp, creating
// it on first sight. Concurrent callers converge on the same row.
func (s *Store) GetOrCreateRun(ctx context.Context, modelID int64, runTimestamp time.Time) (*models.ModelRun, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO prediction_model_runs (prediction_model_id, run_timestamp, complete, interpolated)
		VALUES (?, ?, FALSE, FALSE)
		ON CONFLICT(prediction_model_id, run_timestamp) DO NOTHING
	`, modelID, formatTime(runTimestamp)); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.scanRun(s.db.QueryRowContext(ctx, `
		SELECT id, prediction_model_id, run_timestamp, complete, interpolated
		FROM prediction_model_runs WHERE prediction_model_id = ? AND run_timestamp = ?
	`, modelID, formatTime(runTimestamp)))
}

func (s *Store) GetRun(ctx context.Context, id int64) (*models.ModelRun, error) {
	return s.scanRun(s.db.QueryRowContext(ctx, `
		SELECT id, prediction_model_id, run_timestamp, complete, interpolated
		FROM prediction_model_runs WHERE id = ?
	`, id))
}

func (s *Store) scanRun(row *sql.Row) (*models.ModelRun, error) {
	var r models.ModelRun
	var ts string
	if err := row.Scan(&r.ID, &r.PredictionModelID, &ts, &r.Complete, &r.Interpolated); err != nil {
		return nil, err
	}
	var err error
	if r.RunTimestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) MarkRunComplete(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE prediction_model_runs SET complete = TRUE WHERE id = ?`, runID)
	return err
}

func (s *Store) MarkRunInterpolated(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE prediction_model_runs SET interpolated = TRUE WHERE id = ?`, runID)
	return err
}

// RunsToInterpolate returns complete runs of a model whose station
// predictions have not been produced yet, oldest first.
func (s *Store) RunsToInterpolate(ctx context.Context, modelID int64) ([]models.ModelRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prediction_model_id, run_timestamp, complete, interpolated
		FROM prediction_model_runs
		WHERE prediction_model_id = ? AND complete = TRUE AND interpolated = FALSE
		ORDER BY run_timestamp
	`, modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ModelRun
	for rows.Next() {
		var r models.ModelRun
		var ts string
		if err := rows.Scan(&r.ID, &r.PredictionModelID, &ts, &r.Complete, &r.Interpolated); err != nil {
			return nil, err
		}
		if r.RunTimestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
