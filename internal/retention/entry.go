package retention

import (
	"context"
	"errors"
	"time"
)

// ErrNoEntry is returned by an EntryStore when no entry exists for a path.
var ErrNoEntry = errors.New("retention entry not found")

// Entry is a pending deletion of one artifact.
type Entry struct {
	Path      string
	JobID     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Consumed  bool
}

// EntryStore persists entries so scheduled deletions survive restarts.
type EntryStore interface {
	PutEntry(ctx context.Context, e Entry) error
	GetEntry(ctx context.Context, path string) (Entry, error)
	DueEntries(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	DeleteEntry(ctx context.Context, path string) error
	EntriesForJob(ctx context.Context, jobID string) ([]Entry, error)
}
