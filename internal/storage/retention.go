package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kalambet/pdfdeck/internal/retention"
)

// Retention entries store times as unix milliseconds.

var _ retention.EntryStore = (*Store)(nil)

func (s *Store) PutEntry(ctx context.Context, e retention.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_entries (path, job_id, created_at, expires_at, consumed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			job_id = excluded.job_id,
			expires_at = excluded.expires_at,
			consumed = excluded.consumed`,
		e.Path, e.JobID, e.CreatedAt.UnixMilli(), e.ExpiresAt.UnixMilli(), boolToInt(e.Consumed),
	)
	if err != nil {
		return fmt.Errorf("saving retention entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, path string) (retention.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT path, job_id, created_at, expires_at, consumed FROM retention_entries WHERE path = ?`, path)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return retention.Entry{}, retention.ErrNoEntry
	}
	if err != nil {
		return retention.Entry{}, fmt.Errorf("getting retention entry: %w", err)
	}
	return e, nil
}

func (s *Store) DueEntries(ctx context.Context, now time.Time, limit int) ([]retention.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, job_id, created_at, expires_at, consumed FROM retention_entries
		WHERE expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?`, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing due entries: %w", err)
	}
	defer rows.Close()

	var entries []retention.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) DeleteEntry(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM retention_entries WHERE path = ?`, path); err != nil {
		return fmt.Errorf("deleting retention entry: %w", err)
	}
	return nil
}

// EntriesForJob returns the retention entries created for a job.
func (s *Store) EntriesForJob(ctx context.Context, jobID string) ([]retention.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, job_id, created_at, expires_at, consumed FROM retention_entries WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing job entries: %w", err)
	}
	defer rows.Close()

	var entries []retention.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row rowScanner) (retention.Entry, error) {
	var (
		e                retention.Entry
		created, expires int64
		consumed         int
	)
	if err := row.Scan(&e.Path, &e.JobID, &created, &expires, &consumed); err != nil {
		return retention.Entry{}, err
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.ExpiresAt = time.UnixMilli(expires).UTC()
	e.Consumed = consumed != 0
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
