// Package strategy defines the pluggable algorithms jobs run and the registry
// that selects them by kind and id.
package strategy

import (
	"context"
	"errors"

	"github.com/3leaps/vigil/pkg/job"
)

// ErrUnknownStrategy indicates no strategy is registered under the requested
// kind and id.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Reporter receives progress from a running strategy.
//
// Detection-style strategies call Progress with a percentage; training-style
// strategies call Epoch after every finished epoch. Implementations must be
// safe to call from the strategy goroutine and must not block.
type Reporter interface {
	Progress(pct int)
	Epoch(epoch, total int, loss float64)
}

// Strategy is one interchangeable algorithm.
//
// Strategies are stateless and shared by concurrent jobs. ctx is cancelled
// when the job is cancelled; long-running strategies should return ctx.Err()
// promptly once it is done.
type Strategy interface {
	Run(ctx context.Context, in job.Input, r Reporter) (job.Outcome, error)
}

// Func adapts a function to Strategy.
type Func func(ctx context.Context, in job.Input, r Reporter) (job.Outcome, error)

func (f Func) Run(ctx context.Context, in job.Input, r Reporter) (job.Outcome, error) {
	return f(ctx, in, r)
}

// Factory builds the strategy for a job.
type Factory func() Strategy

// Singleton returns a Factory that always yields s.
func Singleton(s Strategy) Factory {
	return func() Strategy { return s }
}

// Resources describes the hardware a training strategy expects.
type Resources struct {
	MinMemoryGB      int  `json:"min_memory_gb"`
	RecommendedGPU   bool `json:"recommended_gpu"`
	EstimatedMinutes int  `json:"estimated_minutes"`
	DiskSpaceGB      int  `json:"disk_space_gb"`
	CPUCores         int  `json:"cpu_cores"`
}

// Profile is kind-specific descriptive metadata.
type Profile struct {
	// Accuracy is the advertised accuracy of a detection strategy (0..100).
	Accuracy float64 `json:"accuracy,omitempty"`

	// Resources is set for training strategies.
	Resources *Resources `json:"resources,omitempty"`
}

// Info describes a registered strategy.
type Info struct {
	ID          string   `json:"id"`
	Kind        job.Kind `json:"kind"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Profile     Profile  `json:"profile"`
}

// NopReporter discards progress.
type NopReporter struct{}

func (NopReporter) Progress(int) {}

func (NopReporter) Epoch(int, int, float64) {}
