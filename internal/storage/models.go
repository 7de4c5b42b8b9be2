package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrStaleTransition is returned when a status write would move a job
// backwards or out of a terminal state.
var ErrStaleTransition = errors.New("stale status transition")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// Stats aggregates job outcomes.
type Stats struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	EngineUsage     map[string]int `json:"engine_usage"`
	AvgProcessingMS float64        `json:"avg_processing_ms"`
	SuccessRate     float64        `json:"success_rate"`
	PagesProcessed  int            `json:"pages_processed"`
}
