package job

import (
	"errors"
	"fmt"
)

// Sentinel errors for job lifecycle operations.
var (
	// ErrNotFound indicates no job exists with the given id.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyStarted indicates Start was called on a job that is no longer pending.
	ErrAlreadyStarted = errors.New("job already started")

	// ErrInvalidTransition indicates a state change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrInvalidInput indicates job parameters outside the accepted ranges.
	ErrInvalidInput = errors.New("invalid job input")
)

// TransitionError records a rejected state change.
type TransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: %s -> %s: %v", e.JobID, e.From, e.To, ErrInvalidTransition)
}

// Unwrap returns ErrInvalidTransition for errors.Is support.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// StrategyExecutionError wraps a failure returned by a strategy run.
type StrategyExecutionError struct {
	StrategyID string
	Err        error
}

func (e *StrategyExecutionError) Error() string {
	return fmt.Sprintf("strategy %s: %v", e.StrategyID, e.Err)
}

// Unwrap returns the underlying strategy error.
func (e *StrategyExecutionError) Unwrap() error {
	return e.Err
}
