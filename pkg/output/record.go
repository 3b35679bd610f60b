// Package output provides JSONL output for job activity.
//
// Output is structured as typed record envelopes containing job snapshots,
// progress updates, alerts, errors and summaries. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/vigil/pkg/alert"
	"github.com/3leaps/vigil/pkg/job"
)

// Envelope types, named vigil.<type>.v<version>.
const (
	TypeJob      = "vigil.job.v1"
	TypeProgress = "vigil.progress.v1"
	TypeAlert    = "vigil.alert.v1"
	TypeError    = "vigil.error.v1"
	TypeSummary  = "vigil.summary.v1"
)

// Record is one JSONL line. Type selects how Data is decoded.
type Record struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	// Seq starts at 1 and increases by one per record from the same writer.
	Seq uint64 `json:"seq"`

	JobID string `json:"job_id"`

	// Kind is the job kind (detection or training).
	Kind string `json:"kind"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the data payload for job snapshots.
type JobRecord = job.Job

// AlertRecord is the data payload for alerts.
type AlertRecord = alert.Alert

// ProgressRecord is the data payload for progress updates.
type ProgressRecord struct {
	Status   job.Status `json:"status"`
	Progress int        `json:"progress"`

	// Epoch fields are set for training jobs.
	Epoch       int     `json:"epoch,omitempty"`
	TotalEpochs int     `json:"total_epochs,omitempty"`
	Loss        float64 `json:"loss,omitempty"`
}

// ProgressFromJob extracts a progress payload from a snapshot.
func ProgressFromJob(j job.Job) *ProgressRecord {
	return &ProgressRecord{
		Status:      j.Status,
		Progress:    j.Progress,
		Epoch:       j.Epoch,
		TotalEpochs: j.TotalEpochs,
		Loss:        j.Loss,
	}
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeStrategyFailed = "STRATEGY_FAILED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeInternal       = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	Status job.Status `json:"status"`

	// Duration is the wall time between start and end.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Updates is the number of progress records emitted.
	Updates int `json:"updates"`

	// Alerted reports whether the job raised an alert.
	Alerted bool `json:"alerted"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
