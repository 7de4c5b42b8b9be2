package job

import (
	"encoding/json"
	"time"

	"github.com/kalambet/pdfdeck/internal/validate"
)

// Outcome of one engine attempt.
type Outcome string

const (
	OutcomeSucceeded          Outcome = "succeeded"
	OutcomeEngineError        Outcome = "engine-error"
	OutcomeValidationRejected Outcome = "validation-rejected"
)

// Attempt records a single engine run within one job execution.
type Attempt struct {
	Engine     string           `json:"engine"`
	Outcome    Outcome          `json:"outcome"`
	Duration   time.Duration    `json:"duration_ns"`
	Validation *validate.Result `json:"validation,omitempty"`
	Err        string           `json:"error,omitempty"`
}

// Diagnostics is the operator-facing record stored with a resolved job.
type Diagnostics struct {
	Attempts   []Attempt        `json:"attempts"`
	Validation *validate.Result `json:"validation,omitempty"`
	Skipped    []string         `json:"skipped,omitempty"`
}

// Encode returns d as a JSON string. Encoding failures yield an empty
// string since diagnostics are informational.
func (d Diagnostics) Encode() string {
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeDiagnostics parses a stored diagnostics string.
func DecodeDiagnostics(s string) (Diagnostics, error) {
	var d Diagnostics
	if s == "" {
		return d, nil
	}
	err := json.Unmarshal([]byte(s), &d)
	return d, err
}
