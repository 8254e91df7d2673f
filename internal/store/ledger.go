package store

import (
	"context"
	"database/sql"
)

// ProcessedFileExists reports whether url has been fully ingested.
func (s *Store) ProcessedFileExists(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM processed_model_run_urls WHERE url = ?`, url).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkFileProcessed records url in the ledger. Marking twice refreshes the
// update date and keeps the original create date.
func (s *Store) MarkFileProcessed(ctx context.Context, url string) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_model_run_urls (url, create_date, update_date)
		VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET update_date = excluded.update_date
	`, url, now, now)
	return err
}

// ProcessedCount returns how many of urls are in the ledger.
func (s *Store) ProcessedCount(ctx context.Context, urls []string) (int, error) {
	count := 0
	for _, u := range urls {
		ok, err := s.ProcessedFileExists(ctx, u)
		if err != nil {
			return 0, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}
