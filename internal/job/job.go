package job

import (
	"fmt"
	"time"
)

// Kind selects the pipeline a job runs through.
type Kind string

const (
	KindConvert Kind = "convert"
	KindMerge   Kind = "merge"
)

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindConvert, KindMerge:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// Status is the lifecycle position of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Ordinal orders statuses along the forward-only lifecycle. Both terminal
// states share the highest ordinal.
func (s Status) Ordinal() int {
	switch s {
	case StatusPending:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	}
	return 0
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job in status from may be moved to status to.
// Repeating processing is allowed so progress can be advanced.
func CanTransition(from, to Status) bool {
	if from.Terminal() || to.Ordinal() == 0 {
		return false
	}
	if from == StatusProcessing && to == StatusProcessing {
		return true
	}
	return to.Ordinal() > from.Ordinal()
}

// Progress milestones emitted once per job, in order.
const (
	ProgressInputChecked  = 10
	ProgressEngineStarted = 30
	ProgressValidated     = 80
	ProgressDone          = 100
)

// Job is a persisted conversion or merge request.
type Job struct {
	ID          string
	Kind        Kind
	Status      Status
	Progress    int
	Inputs      []string
	OutputDir   string
	OutputRef   string // set only when completed
	Error       string // set only when failed
	Filename    string
	InputMD5    string
	InputBytes  int64
	EngineUsed  string
	Pages       int
	Diagnostics string // JSON, see Diagnostics
	CreatedAt   time.Time
	ClaimedAt   time.Time // worker lease; zero when unclaimed
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// Update is a requested status transition. Zero-valued optional fields are
// left untouched by the store.
type Update struct {
	Status      Status
	Progress    int
	OutputRef   string
	Error       string
	EngineUsed  string
	Pages       int
	Diagnostics string
}

// View is the status representation handed to API clients.
type View struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	DownloadRef string    `json:"download_ref,omitempty"`
	Error       string    `json:"error,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	EngineUsed  string    `json:"engine_used,omitempty"`
	Pages       int       `json:"pages,omitempty"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// ViewOf builds the client view of j. downloadRef is only exposed for
// completed jobs and the error only for failed ones.
func ViewOf(j Job, downloadRef string, now time.Time) View {
	v := View{
		ID:         j.ID,
		Kind:       j.Kind,
		Status:     j.Status,
		Progress:   j.Progress,
		Filename:   j.Filename,
		EngineUsed: j.EngineUsed,
		Pages:      j.Pages,
		CreatedAt:  j.CreatedAt,
	}
	switch j.Status {
	case StatusCompleted:
		v.DownloadRef = downloadRef
		v.ElapsedMS = j.Duration.Milliseconds()
	case StatusFailed:
		v.Error = j.Error
		v.ElapsedMS = j.Duration.Milliseconds()
	case StatusProcessing:
		if !j.StartedAt.IsZero() {
			v.ElapsedMS = now.Sub(j.StartedAt).Milliseconds()
		}
	}
	return v
}
