package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"
)

const (
	defaultGrace    = 5 * time.Minute
	defaultInterval = time.Minute
	sweepBatch      = 100
)

// Scheduler arms deferred deletion of artifacts. Entries live in an
// EntryStore, so pending deletions survive a restart.
type Scheduler struct {
	store    EntryStore
	grace    time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithGrace sets the window left on an artifact after its first download.
func WithGrace(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithInterval sets how often Run sweeps.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func NewScheduler(store EntryStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		grace:    defaultGrace,
		interval: defaultInterval,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule arms deletion of path after ttl. Scheduling an already known
// path resets its expiry.
func (s *Scheduler) Schedule(ctx context.Context, path, jobID string, ttl time.Duration) error {
	now := s.now()
	e := Entry{Path: path, JobID: jobID, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	if err := s.store.PutEntry(ctx, e); err != nil {
		return fmt.Errorf("scheduling deletion of %s: %w", path, err)
	}
	return nil
}

// CancelOrShorten marks path as downloaded and pulls its expiry in to the
// grace window. An expiry already sooner than that is kept.
func (s *Scheduler) CancelOrShorten(ctx context.Context, path string) error {
	e, err := s.store.GetEntry(ctx, path)
	if errors.Is(err, ErrNoEntry) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading retention entry: %w", err)
	}
	if e.Consumed {
		return nil
	}
	e.Consumed = true
	if short := s.now().Add(s.grace); short.Before(e.ExpiresAt) {
		e.ExpiresAt = short
	}
	if err := s.store.PutEntry(ctx, e); err != nil {
		return fmt.Errorf("shortening retention of %s: %w", path, err)
	}
	return nil
}

// Expired reports whether path is past its expiry. Paths without an entry
// are not expired. Downloads check this so an artifact is unavailable
// from its expiry on, even before the next sweep deletes it.
func (s *Scheduler) Expired(ctx context.Context, path string) (bool, error) {
	e, err := s.store.GetEntry(ctx, path)
	if errors.Is(err, ErrNoEntry) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading retention entry: %w", err)
	}
	return !s.now().Before(e.ExpiresAt), nil
}

// Forget drops the entry for path without touching the file.
func (s *Scheduler) Forget(ctx context.Context, path string) error {
	return s.store.DeleteEntry(ctx, path)
}

// ForgetJob drops every entry created for jobID and returns the paths they
// covered. Files are left for the caller to remove.
func (s *Scheduler) ForgetJob(ctx context.Context, jobID string) ([]string, error) {
	entries, err := s.store.EntriesForJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing entries for job %s: %w", jobID, err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := s.store.DeleteEntry(ctx, e.Path); err != nil {
			return paths, fmt.Errorf("forgetting %s: %w", e.Path, err)
		}
		paths = append(paths, e.Path)
	}
	return paths, nil
}

// Sweep deletes every due artifact and returns how many entries it cleared.
// File deletion failures are logged and the entry is kept for the next sweep.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	cleared := 0
	for {
		due, err := s.store.DueEntries(ctx, s.now(), sweepBatch)
		if err != nil {
			return cleared, fmt.Errorf("listing due entries: %w", err)
		}
		if len(due) == 0 {
			return cleared, nil
		}

		progressed := false
		for _, e := range due {
			if err := os.RemoveAll(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("retention: deleting artifact", "path", e.Path, "job_id", e.JobID, "error", err)
				continue
			}
			if err := s.store.DeleteEntry(ctx, e.Path); err != nil {
				s.logger.Warn("retention: deleting entry", "path", e.Path, "error", err)
				continue
			}
			s.logger.Debug("retention: artifact deleted", "path", e.Path, "job_id", e.JobID)
			cleared++
			progressed = true
		}
		if !progressed || len(due) < sweepBatch {
			return cleared, nil
		}
	}
}

// Run sweeps on every interval tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("retention scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("retention sweep failed", "error", err)
		} else if n > 0 {
			s.logger.Info("retention sweep", "deleted", n)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("retention scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}
