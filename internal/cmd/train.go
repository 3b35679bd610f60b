package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/3leaps/vigil/pkg/job"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run a training job in the foreground",
	Long: `Run one training job and stream its lifecycle as JSONL. Progress
records carry the current epoch and loss.

Samples are chosen by id (--sample) and by doublestar pattern over sample
ids (--pattern). With neither, every verified sample is used.`,
	Example: `  vigil train --strategy transfer --epochs 3
  vigil train --sample s1 --sample s4 --batch-size 16
  vigil train --pattern 'fight-*' --output file:train.jsonl`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

var (
	trainStrategy     string
	trainEpochs       int
	trainBatchSize    int
	trainLearningRate float64
	trainSamples      []string
	trainPatterns     []string
	trainTimeout      time.Duration
	trainOutput       string
)

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringVarP(&trainStrategy, "strategy", "s", "movement", "Training strategy (see 'vigil strategies training')")
	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "Epochs to run (0 = strategy default)")
	trainCmd.Flags().IntVar(&trainBatchSize, "batch-size", 0, "Batch size (0 = 32)")
	trainCmd.Flags().Float64Var(&trainLearningRate, "learning-rate", 0, "Learning rate (0 = 0.001)")
	trainCmd.Flags().StringSliceVar(&trainSamples, "sample", nil, "Sample id to train on (repeatable)")
	trainCmd.Flags().StringSliceVar(&trainPatterns, "pattern", nil, "Doublestar pattern over sample ids (repeatable)")
	trainCmd.Flags().DurationVar(&trainTimeout, "timeout", 0, "Cancel the job if it runs longer than this (0 = no limit)")
	trainCmd.Flags().StringVarP(&trainOutput, "output", "o", "", "Write JSONL to a file instead of stdout")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	switch {
	case trainEpochs < 0 || trainEpochs > job.MaxEpochs:
		return exitError(foundry.ExitInvalidArgument, "Invalid epochs", fmt.Errorf("--epochs must be between 0 and %d", job.MaxEpochs))
	case trainBatchSize < 0 || trainBatchSize > job.MaxBatchSize:
		return exitError(foundry.ExitInvalidArgument, "Invalid batch size", fmt.Errorf("--batch-size must be between 0 and %d", job.MaxBatchSize))
	case trainLearningRate < 0 || trainLearningRate > job.MaxLearningRate:
		return exitError(foundry.ExitInvalidArgument, "Invalid learning rate", fmt.Errorf("--learning-rate must be between 0 and %v", job.MaxLearningRate))
	case trainTimeout < 0:
		return exitError(foundry.ExitInvalidArgument, "Invalid timeout", errors.New("--timeout must be >= 0"))
	}
	for _, p := range trainPatterns {
		if !doublestar.ValidatePattern(p) {
			return exitError(foundry.ExitInvalidArgument, "Invalid sample pattern", errors.New(p))
		}
	}

	return runForeground(cmd, foregroundJob{
		kind:     job.KindTraining,
		strategy: trainStrategy,
		input: job.Input{
			Epochs:         trainEpochs,
			BatchSize:      trainBatchSize,
			LearningRate:   trainLearningRate,
			SampleIDs:      trainSamples,
			SamplePatterns: trainPatterns,
		},
		timeout: trainTimeout,
		output:  trainOutput,
	})
}
