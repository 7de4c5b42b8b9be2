package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/pdfdeck/internal/job"
)

const jobColumns = `id, kind, status, progress, inputs_json, output_dir, output_ref, error,
	filename, input_md5, input_bytes, engine_used, pages, diagnostics,
	created_at, claimed_at, started_at, completed_at, duration_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (job.Job, error) {
	var (
		j                                          job.Job
		kind, status, inputs                       string
		createdAt, claimedAt, startedAt, completed string
		durationMS                                 int64
	)
	err := row.Scan(
		&j.ID, &kind, &status, &j.Progress, &inputs, &j.OutputDir, &j.OutputRef, &j.Error,
		&j.Filename, &j.InputMD5, &j.InputBytes, &j.EngineUsed, &j.Pages, &j.Diagnostics,
		&createdAt, &claimedAt, &startedAt, &completed, &durationMS,
	)
	if err != nil {
		return job.Job{}, err
	}
	j.Kind = job.Kind(kind)
	j.Status = job.Status(status)
	j.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal([]byte(inputs), &j.Inputs); err != nil {
		return job.Job{}, fmt.Errorf("parsing inputs for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return job.Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.ClaimedAt, err = parseTime(claimedAt); err != nil {
		return job.Job{}, fmt.Errorf("parsing claimed_at for job %s: %w", j.ID, err)
	}
	if j.StartedAt, err = parseTime(startedAt); err != nil {
		return job.Job{}, fmt.Errorf("parsing started_at for job %s: %w", j.ID, err)
	}
	if j.CompletedAt, err = parseTime(completed); err != nil {
		return job.Job{}, fmt.Errorf("parsing completed_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateJob inserts j in pending state.
func (s *Store) CreateJob(j job.Job) error {
	if _, err := job.ParseKind(string(j.Kind)); err != nil {
		return err
	}
	inputs, err := json.Marshal(j.Inputs)
	if err != nil {
		return fmt.Errorf("marshalling inputs: %w", err)
	}
	created := j.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO jobs (id, kind, status, progress, inputs_json, output_dir, filename, input_md5, input_bytes, created_at)
		VALUES (?, ?, 'pending', 0, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Kind), string(inputs), j.OutputDir, j.Filename, j.InputMD5, j.InputBytes, formatTime(created),
	)
	return err
}

// GetJob returns the job with the given id or ErrNotFound.
func (s *Store) GetJob(id string) (job.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return job.Job{}, ErrNotFound
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("getting job %s: %w", id, err)
	}
	return j, nil
}

// UpdateStatus applies u to job id if the transition moves forward.
// Writes that would leave a terminal state or regress the status return
// ErrStaleTransition and leave the row untouched. Progress never decreases.
// Completed jobs must carry an output reference.
func (s *Store) UpdateStatus(id string, u job.Update) (job.Job, error) {
	if u.Status == job.StatusCompleted && u.OutputRef == "" {
		return job.Job{}, fmt.Errorf("completing job %s: output reference is required", id)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return job.Job{}, fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanJob(tx.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return job.Job{}, ErrNotFound
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	if !job.CanTransition(cur.Status, u.Status) {
		return cur, fmt.Errorf("%w: %s -> %s", ErrStaleTransition, cur.Status, u.Status)
	}

	now := time.Now()
	next := cur
	next.Status = u.Status
	if u.Progress > next.Progress {
		next.Progress = u.Progress
	}
	if u.EngineUsed != "" {
		next.EngineUsed = u.EngineUsed
	}
	if u.Pages > 0 {
		next.Pages = u.Pages
	}
	if u.Diagnostics != "" {
		next.Diagnostics = u.Diagnostics
	}
	if next.StartedAt.IsZero() && u.Status != job.StatusPending {
		next.StartedAt = now
	}
	switch u.Status {
	case job.StatusCompleted:
		next.OutputRef = u.OutputRef
		next.Error = ""
		next.Progress = job.ProgressDone
	case job.StatusFailed:
		next.OutputRef = ""
		next.Error = u.Error
	}
	if u.Status.Terminal() {
		next.CompletedAt = now
		next.Duration = now.Sub(next.StartedAt)
	}

	res, err := tx.Exec(`
		UPDATE jobs SET status = ?, progress = ?, output_ref = ?, error = ?, engine_used = ?, pages = ?,
			diagnostics = ?, started_at = ?, completed_at = ?, duration_ms = ?
		WHERE id = ? AND status = ?`,
		string(next.Status), next.Progress, next.OutputRef, next.Error, next.EngineUsed, next.Pages,
		next.Diagnostics, formatTime(next.StartedAt), formatTime(next.CompletedAt), next.Duration.Milliseconds(),
		id, string(cur.Status),
	)
	if err != nil {
		return job.Job{}, fmt.Errorf("updating job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return job.Job{}, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		return cur, fmt.Errorf("%w: %s changed concurrently", ErrStaleTransition, id)
	}
	if err := tx.Commit(); err != nil {
		return job.Job{}, fmt.Errorf("committing update: %w", err)
	}
	return next, nil
}

// ClaimNextJob leases the oldest unclaimed, unresolved job of one of the
// given kinds and returns it. The status is left alone; the orchestrator
// moves the job to processing once its input checks out. A claim older than
// lease is considered abandoned by a crashed worker and may be taken again,
// so lost work is re-run from the start. Returns nil when nothing is
// available.
func (s *Store) ClaimNextJob(kinds []job.Kind, lease time.Duration) (*job.Job, error) {
	if len(kinds) == 0 {
		return nil, nil
	}

	now := time.Now()
	staleBefore := ""
	if lease > 0 {
		staleBefore = formatTime(now.Add(-lease))
	}

	placeholders := strings.Repeat(",?", len(kinds)-1)
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE kind IN (?` + placeholders + `)
		  AND status IN ('pending', 'processing')
		  AND (claimed_at = '' OR (? != '' AND claimed_at < ?))
		ORDER BY created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(kinds)+2)
	for _, k := range kinds {
		args = append(args, string(k))
	}
	args = append(args, staleBefore, staleBefore)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	claimed := formatTime(now)
	res, err := tx.Exec(`UPDATE jobs SET claimed_at = ? WHERE id = ? AND claimed_at = ?`,
		claimed, j.ID, formatTime(j.ClaimedAt))
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking claimed job rows: %w", err)
	}
	if n != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.ClaimedAt, _ = parseTime(claimed)
	return &j, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(status job.Status, limit, offset int) ([]job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteJob removes the job row.
func (s *Store) DeleteJob(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats summarizes all stored jobs.
func (s *Store) Stats() (Stats, error) {
	st := Stats{ByStatus: map[string]int{}, EngineUsage: map[string]int{}}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("counting jobs: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.ByStatus[status] = n
		st.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	rows, err = s.db.Query(`SELECT engine_used, COUNT(*) FROM jobs WHERE status = 'completed' AND engine_used != '' GROUP BY engine_used`)
	if err != nil {
		return st, fmt.Errorf("counting engine usage: %w", err)
	}
	for rows.Next() {
		var eng string
		var n int
		if err := rows.Scan(&eng, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.EngineUsage[eng] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	var avg sql.NullFloat64
	var pages sql.NullInt64
	err = s.db.QueryRow(`SELECT AVG(duration_ms), SUM(pages) FROM jobs WHERE status = 'completed'`).Scan(&avg, &pages)
	if err != nil {
		return st, fmt.Errorf("aggregating durations: %w", err)
	}
	st.AvgProcessingMS = avg.Float64
	st.PagesProcessed = int(pages.Int64)

	done := st.ByStatus[string(job.StatusCompleted)] + st.ByStatus[string(job.StatusFailed)]
	if done > 0 {
		st.SuccessRate = float64(st.ByStatus[string(job.StatusCompleted)]) / float64(done)
	}
	return st, nil
}
