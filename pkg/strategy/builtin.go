package strategy

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/sample"
	"github.com/3leaps/vigil/pkg/source"
)

// Rand is the randomness the simulated strategies draw from. Float64 returns
// a value in [0, 1).
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// FixedRand always returns its value. Useful for deterministic outcomes.
type FixedRand float64

func (f FixedRand) Float64() float64 { return float64(f) }

// SourceStater resolves detection input references.
type SourceStater interface {
	Stat(ctx context.Context, raw string) (source.Meta, error)
}

// Deps are the collaborators of the built-in strategies.
type Deps struct {
	Sources SourceStater
	Samples *sample.Catalog
	Rand    Rand

	// TimeScale multiplies every simulated duration. Zero means 1.
	TimeScale float64

	// Now is the clock used for model ids. Nil means time.Now.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Sources == nil {
		d.Sources = source.NewResolver()
	}
	if d.Samples == nil {
		d.Samples = sample.Default()
	}
	if d.Rand == nil {
		d.Rand = globalRand{}
	}
	if d.TimeScale <= 0 {
		d.TimeScale = 1
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) scale(v time.Duration) time.Duration {
	return time.Duration(float64(v) * d.TimeScale)
}

// RegisterBuiltins registers the detection strategies violence, movement and
// behavior and the training strategies movement, violence and transfer.
func RegisterBuiltins(reg *Registry, deps Deps) error {
	deps = deps.withDefaults()

	for _, d := range detectors(deps) {
		if err := reg.Register(job.KindDetection, d.info, Singleton(d)); err != nil {
			return err
		}
	}
	for _, t := range trainers(deps) {
		if err := reg.Register(job.KindTraining, t.info, Singleton(t)); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry holding the built-in strategies.
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, deps); err != nil {
		return nil, err
	}
	return reg, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
