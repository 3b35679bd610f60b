// Package job defines the unit of work tracked by the engine: its identity,
// its lifecycle state machine and the typed outcome it produces.
package job

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Kind is the operation family a job belongs to.
type Kind string

const (
	KindDetection Kind = "detection"
	KindTraining  Kind = "training"
)

// ParseKind normalizes a user-supplied kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindDetection:
		return KindDetection, nil
	case KindTraining:
		return KindTraining, nil
	default:
		return "", fmt.Errorf("unknown job kind %q (want detection or training)", s)
	}
}

// Status is the lifecycle state of a job.
//
// NOTE: These values are persisted in job history records and returned by the
// HTTP API; treat them as a stable contract.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is an absorbing state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus normalizes a user-supplied status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Defaults applied to training input when the caller leaves them unset.
const (
	DefaultBatchSize    = 32
	DefaultLearningRate = 0.001
)

// Upper bounds on training input. Epoch count drives both run time and the
// size of the loss history kept per job.
const (
	MaxEpochs       = 1000
	MaxBatchSize    = 4096
	MaxLearningRate = 1.0
)

// Input is the opaque payload handed to a strategy.
//
// Source is a reference understood by the input provider: a local path, an
// s3:// URL, an http(s) URL or camera:<id>. The engine never interprets the
// referenced content itself.
type Input struct {
	Source string `json:"source,omitempty"`

	Epochs         int      `json:"epochs,omitempty"`
	BatchSize      int      `json:"batch_size,omitempty"`
	LearningRate   float64  `json:"learning_rate,omitempty"`
	SampleIDs      []string `json:"sample_ids,omitempty"`
	SamplePatterns []string `json:"sample_patterns,omitempty"`

	// Options are free-form per-run settings. Built-in strategies echo them
	// in the outcome metadata; "model_name" names a trained model.
	Options map[string]string `json:"options,omitempty"`
}

// Validate rejects training parameters outside their bounds. Zero values
// are left for WithTrainingDefaults.
func (in Input) Validate() error {
	switch {
	case in.Epochs < 0 || in.Epochs > MaxEpochs:
		return fmt.Errorf("%w: epochs must be between 0 and %d, got %d", ErrInvalidInput, MaxEpochs, in.Epochs)
	case in.BatchSize < 0 || in.BatchSize > MaxBatchSize:
		return fmt.Errorf("%w: batch_size must be between 0 and %d, got %d", ErrInvalidInput, MaxBatchSize, in.BatchSize)
	case in.LearningRate < 0 || in.LearningRate > MaxLearningRate || math.IsNaN(in.LearningRate):
		return fmt.Errorf("%w: learning_rate must be between 0 and %v, got %v", ErrInvalidInput, MaxLearningRate, in.LearningRate)
	}
	return nil
}

// WithTrainingDefaults fills unset training parameters.
func (in Input) WithTrainingDefaults(epochs int) Input {
	if in.Epochs <= 0 {
		in.Epochs = epochs
	}
	if in.BatchSize <= 0 {
		in.BatchSize = DefaultBatchSize
	}
	if in.LearningRate <= 0 {
		in.LearningRate = DefaultLearningRate
	}
	return in
}

// Job is a point-in-time snapshot of one submitted unit of work.
//
// Snapshots are plain values; mutating one has no effect on the tracked job.
type Job struct {
	ID         string `json:"id"`
	Kind       Kind   `json:"kind"`
	StrategyID string `json:"strategy_id"`
	Source     string `json:"source,omitempty"`
	Status     Status `json:"status"`
	Progress   int    `json:"progress"`

	Epoch       int     `json:"epoch,omitempty"`
	TotalEpochs int     `json:"total_epochs,omitempty"`
	Loss        float64 `json:"loss,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Result *Outcome `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Terminal reports whether the snapshot is in an absorbing state.
func (j Job) Terminal() bool {
	return j.Status.Terminal()
}

func (j Job) clone() Job {
	out := j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		out.EndedAt = &t
	}
	if j.Result != nil {
		r := j.Result.Clone()
		out.Result = &r
	}
	return out
}

// Filter selects jobs for listing. Zero fields match everything.
type Filter struct {
	Kind   Kind
	Status Status
}

// Match reports whether j satisfies the filter.
func (f Filter) Match(j Job) bool {
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	return true
}

// SortNewestFirst orders jobs by creation time descending, breaking ties by id
// so listings are stable.
func SortNewestFirst(jobs []Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID > jobs[k].ID
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
}
