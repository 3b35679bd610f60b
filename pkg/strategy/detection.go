package strategy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/3leaps/vigil/pkg/job"
)

// detectionSteps is the number of slices a simulated analysis is split into.
// Cancellation is observed between slices.
const detectionSteps = 10

// detector is a simulated detection strategy. evaluate turns random draws
// into an outcome; the processing time is measured, not drawn.
type detector struct {
	info     Info
	duration time.Duration
	deps     Deps
	evaluate func(r Rand) job.DetectionOutcome
}

func (d *detector) Run(ctx context.Context, in job.Input, rep Reporter) (job.Outcome, error) {
	if strings.TrimSpace(in.Source) == "" {
		return job.Outcome{}, errors.New("detection input has no source")
	}
	start := time.Now()

	meta, err := d.deps.Sources.Stat(ctx, in.Source)
	if err != nil {
		return job.Outcome{}, fmt.Errorf("resolve source: %w", err)
	}

	slice := d.deps.scale(d.duration) / detectionSteps
	for i := 1; i <= detectionSteps; i++ {
		if err := sleep(ctx, slice); err != nil {
			return job.Outcome{}, err
		}
		rep.Progress(i * 100 / detectionSteps)
	}

	out := d.evaluate(d.deps.Rand)
	out.ProcessingTimeMs = uint64(time.Since(start).Milliseconds())
	if out.Regions == nil {
		out.Regions = []job.Region{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	out.Metadata["source_scheme"] = string(meta.Scheme)
	if meta.Live {
		out.Metadata["live"] = true
	}
	if len(in.Options) > 0 {
		out.Metadata["options"] = maps.Clone(in.Options)
	}
	return job.NewDetectionOutcome(out), nil
}

func detectors(deps Deps) []*detector {
	return []*detector{
		{
			info: Info{
				ID:          "violence",
				Name:        "Violence detection",
				Description: "Detects physical violence in video with a deep learning model",
				Profile:     Profile{Accuracy: 92.5},
			},
			duration: 1500 * time.Millisecond,
			deps:     deps,
			evaluate: evaluateViolence,
		},
		{
			info: Info{
				ID:          "movement",
				Name:        "Movement detection",
				Description: "Detects and tracks people moving in video",
				Profile:     Profile{Accuracy: 95.8},
			},
			duration: 800 * time.Millisecond,
			deps:     deps,
			evaluate: evaluateMovement,
		},
		{
			info: Info{
				ID:          "behavior",
				Name:        "Behavior analysis",
				Description: "Classifies behavior patterns to flag abnormal or violent conduct",
				Profile:     Profile{Accuracy: 88.3},
			},
			duration: 2000 * time.Millisecond,
			deps:     deps,
			evaluate: evaluateBehavior,
		},
	}
}

func evaluateViolence(r Rand) job.DetectionOutcome {
	if r.Float64() <= 0.4 {
		return job.DetectionOutcome{
			Confidence: r.Float64() * 30,
			Metadata:   map[string]any{"violence_type": "none", "severity": 0},
		}
	}
	return job.DetectionOutcome{
		Detected:   true,
		Confidence: 70 + r.Float64()*25,
		Regions: []job.Region{
			{X: 0.2, Y: 0.3, Width: 0.3, Height: 0.4, Confidence: 0.85},
			{X: 0.6, Y: 0.4, Width: 0.2, Height: 0.3, Confidence: 0.75},
		},
		Metadata: map[string]any{"violence_type": "physical", "severity": int(r.Float64()*5) + 1},
	}
}

func evaluateMovement(r Rand) job.DetectionOutcome {
	if r.Float64() <= 0.2 {
		return job.DetectionOutcome{
			Confidence: r.Float64() * 20,
			Metadata:   map[string]any{"movement_type": "none", "speed": 0.0},
		}
	}
	return job.DetectionOutcome{
		Detected:   true,
		Confidence: 80 + r.Float64()*15,
		Regions: []job.Region{
			{X: 0.1, Y: 0.2, Width: 0.2, Height: 0.3, Confidence: 0.9},
			{X: 0.5, Y: 0.3, Width: 0.3, Height: 0.4, Confidence: 0.85},
			{X: 0.7, Y: 0.6, Width: 0.2, Height: 0.3, Confidence: 0.8},
		},
		Metadata: map[string]any{"movement_type": "human", "speed": r.Float64() * 5},
	}
}

var behaviors = []string{"normal", "suspicious", "violent", "aggressive"}

func evaluateBehavior(r Rand) job.DetectionOutcome {
	idx := min(int(r.Float64()*float64(len(behaviors))), len(behaviors)-1)
	behavior := behaviors[idx]
	violent := behavior == "violent" || behavior == "aggressive"

	out := job.DetectionOutcome{
		Detected:   violent,
		Confidence: 65 + r.Float64()*30,
		Metadata:   map[string]any{"behavior_type": behavior},
	}
	if violent {
		out.Regions = []job.Region{{X: 0.3, Y: 0.4, Width: 0.4, Height: 0.5, Confidence: 0.8}}
		out.Metadata["intensity"] = int(r.Float64()*5) + 3
	} else {
		out.Metadata["intensity"] = int(r.Float64() * 3)
	}
	return out
}
