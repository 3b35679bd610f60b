package job

import (
	"fmt"
	"maps"
)

// Region is a detected area in normalized frame coordinates.
type Region struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

// DetectionOutcome is produced by a completed detection job.
type DetectionOutcome struct {
	Detected         bool           `json:"detected"`
	Confidence       float64        `json:"confidence"`
	ProcessingTimeMs uint64         `json:"processing_time_ms"`
	Regions          []Region       `json:"regions"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// EpochLoss is one point of a training loss curve.
type EpochLoss struct {
	Epoch int     `json:"epoch"`
	Loss  float64 `json:"loss"`
}

// TrainingOutcome is produced by a completed training job.
type TrainingOutcome struct {
	ModelID        string         `json:"model_id"`
	Accuracy       float64        `json:"accuracy"`
	TrainingTimeMs uint64         `json:"training_time_ms"`
	Epochs         int            `json:"epochs"`
	LossHistory    []EpochLoss    `json:"loss_history"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Outcome is a tagged union: Kind selects which payload is set.
type Outcome struct {
	Kind      Kind              `json:"kind"`
	Detection *DetectionOutcome `json:"detection,omitempty"`
	Training  *TrainingOutcome  `json:"training,omitempty"`
}

// NewDetectionOutcome wraps d in an Outcome.
func NewDetectionOutcome(d DetectionOutcome) Outcome {
	return Outcome{Kind: KindDetection, Detection: &d}
}

// NewTrainingOutcome wraps t in an Outcome.
func NewTrainingOutcome(t TrainingOutcome) Outcome {
	return Outcome{Kind: KindTraining, Training: &t}
}

// Validate checks the union tag and value ranges.
func (o Outcome) Validate() error {
	switch o.Kind {
	case KindDetection:
		if o.Detection == nil || o.Training != nil {
			return fmt.Errorf("detection outcome must carry only a detection payload")
		}
		if o.Detection.Confidence < 0 || o.Detection.Confidence > 100 {
			return fmt.Errorf("detection confidence %.2f out of range [0,100]", o.Detection.Confidence)
		}
	case KindTraining:
		if o.Training == nil || o.Detection != nil {
			return fmt.Errorf("training outcome must carry only a training payload")
		}
		if o.Training.Accuracy < 0 || o.Training.Accuracy > 100 {
			return fmt.Errorf("training accuracy %.2f out of range [0,100]", o.Training.Accuracy)
		}
	default:
		return fmt.Errorf("outcome kind %q is not set", o.Kind)
	}
	return nil
}

// Clone returns a deep copy so snapshots never share slices or maps with the
// tracked job.
func (o Outcome) Clone() Outcome {
	out := Outcome{Kind: o.Kind}
	if o.Detection != nil {
		d := *o.Detection
		d.Regions = append([]Region(nil), o.Detection.Regions...)
		d.Metadata = maps.Clone(o.Detection.Metadata)
		out.Detection = &d
	}
	if o.Training != nil {
		t := *o.Training
		t.LossHistory = append([]EpochLoss(nil), o.Training.LossHistory...)
		t.Metadata = maps.Clone(o.Training.Metadata)
		out.Training = &t
	}
	return out
}
