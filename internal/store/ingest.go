package store

import (
	"context"
	"database/sql"
)

// IngestRun audits one orchestrator pass over a model.
type IngestRun struct {
	ID              int64
	StartedAt       string
	FinishedAt      sql.NullString
	Model           string
	FilesDownloaded sql.NullInt64
	FilesProcessed  sql.NullInt64
	Exceptions      sql.NullInt64
	RunsCompleted   sql.NullInt64
	Success         bool
	ErrorMessage    sql.NullString
}

func (s *Store) StartIngestRun(ctx context.Context, model string) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt: formatTime(s.now()),
		Model:     model,
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (started_at, model, success)
		VALUES (?, ?, FALSE)
	`, run.StartedAt, run.Model)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteIngestRun records the run's counters and outcome.
func (s *Store) CompleteIngestRun(ctx context.Context, run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullString{String: formatTime(s.now()), Valid: true}

	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET
			finished_at = ?,
			files_downloaded = ?,
			files_processed = ?,
			exceptions = ?,
			runs_completed = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.FilesDownloaded, run.FilesProcessed, run.Exceptions,
		run.RunsCompleted, run.Success, run.ErrorMessage, run.ID)
	return err
}

// RecentIngestRuns returns the latest audit rows for a model, newest first.
func (s *Store) RecentIngestRuns(ctx context.Context, model string, limit int) ([]IngestRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, model, files_downloaded, files_processed,
			exceptions, runs_completed, success, error_message
		FROM ingest_runs
		WHERE model = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, model, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Model, &r.FilesDownloaded,
			&r.FilesProcessed, &r.Exceptions, &r.RunsCompleted, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
