package strategy

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/3leaps/vigil/pkg/job"
)

// trainingRunTime is the simulated wall time of a full training run, spread
// evenly across epochs.
const trainingRunTime = 10 * time.Second

// minLoss keeps long runs from producing non-positive losses.
const minLoss = 0.01

// trainer is a simulated training strategy.
type trainer struct {
	info          Info
	defaultEpochs int
	deps          Deps

	initialLoss float64
	lossStep    float64
	baseAcc     float64
	accSpread   float64
	metadata    map[string]any
}

func (t *trainer) Run(ctx context.Context, in job.Input, rep Reporter) (job.Outcome, error) {
	if err := in.Validate(); err != nil {
		return job.Outcome{}, err
	}
	in = in.WithTrainingDefaults(t.defaultEpochs)
	start := time.Now()

	samples, err := t.deps.Samples.Select(in.SampleIDs, in.SamplePatterns)
	if err != nil {
		return job.Outcome{}, err
	}

	perEpoch := t.deps.scale(trainingRunTime) / time.Duration(in.Epochs)
	var history []job.EpochLoss
	for e := 1; e <= in.Epochs; e++ {
		if err := ctx.Err(); err != nil {
			return job.Outcome{}, err
		}
		if err := sleep(ctx, perEpoch); err != nil {
			return job.Outcome{}, err
		}
		loss := max(t.initialLoss-float64(e-1)*t.lossStep+t.deps.Rand.Float64()*0.05, minLoss)
		history = append(history, job.EpochLoss{Epoch: e, Loss: loss})
		rep.Epoch(e, in.Epochs, loss)
	}

	ids := make([]string, 0, len(samples))
	for _, s := range samples {
		ids = append(ids, s.ID)
	}
	meta := map[string]any{
		"batch_size":    in.BatchSize,
		"learning_rate": in.LearningRate,
		"dataset_size":  len(samples),
		"sample_ids":    ids,
	}
	for k, v := range t.metadata {
		meta[k] = v
	}
	if len(in.Options) > 0 {
		meta["options"] = maps.Clone(in.Options)
	}

	return job.NewTrainingOutcome(job.TrainingOutcome{
		ModelID:        fmt.Sprintf("%s-model-%d", t.info.ID, t.deps.Now().UnixMilli()),
		Accuracy:       t.baseAcc + t.deps.Rand.Float64()*t.accSpread,
		TrainingTimeMs: uint64(time.Since(start).Milliseconds()),
		Epochs:         in.Epochs,
		LossHistory:    history,
		Metadata:       meta,
	}), nil
}

func trainers(deps Deps) []*trainer {
	return []*trainer{
		{
			info: Info{
				ID:          "movement",
				Name:        "Movement recognition training",
				Description: "Trains a model to recognise and track human movement in video",
				Profile: Profile{Resources: &Resources{
					MinMemoryGB: 8, RecommendedGPU: true, EstimatedMinutes: 30, DiskSpaceGB: 5, CPUCores: 4,
				}},
			},
			defaultEpochs: 10,
			deps:          deps,
			initialLoss:   0.8,
			lossStep:      0.07,
			baseAcc:       94.5,
			accSpread:     3,
			metadata:      map[string]any{"framework": "TensorFlow", "model_type": "MovementDetection"},
		},
		{
			info: Info{
				ID:          "violence",
				Name:        "Violence detection training",
				Description: "Trains a classifier specialised in physical violence",
				Profile: Profile{Resources: &Resources{
					MinMemoryGB: 16, RecommendedGPU: true, EstimatedMinutes: 60, DiskSpaceGB: 10, CPUCores: 8,
				}},
			},
			defaultEpochs: 15,
			deps:          deps,
			initialLoss:   1.2,
			lossStep:      0.07,
			baseAcc:       89.5,
			accSpread:     5,
			metadata:      map[string]any{"framework": "PyTorch", "model_type": "ViolenceDetection"},
		},
		{
			info: Info{
				ID:          "transfer",
				Name:        "Transfer learning",
				Description: "Fine-tunes a pretrained MobileNetV2 on the selected samples",
				Profile: Profile{Resources: &Resources{
					MinMemoryGB: 8, RecommendedGPU: true, EstimatedMinutes: 15, DiskSpaceGB: 3, CPUCores: 4,
				}},
			},
			defaultEpochs: 5,
			deps:          deps,
			initialLoss:   0.5,
			lossStep:      0.08,
			baseAcc:       92,
			accSpread:     4,
			metadata:      map[string]any{"framework": "TensorFlow", "model_type": "TransferLearning", "base_model": "MobileNetV2"},
		},
	}
}
