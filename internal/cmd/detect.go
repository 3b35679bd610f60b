package cmd

import (
	"errors"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/source"
)

var detectCmd = &cobra.Command{
	Use:   "detect <source>",
	Short: "Run a detection job in the foreground",
	Long: `Run one detection job against a video source and stream its lifecycle
as JSONL: a job snapshot, progress records, an alert when the result is
confident enough, and a final summary.

Sources may be a local path, s3://bucket/key (when source.s3.enabled is
set), an http(s) URL or camera:<id>.`,
	Example: `  vigil detect ./clips/hallway.mp4
  vigil detect --strategy movement s3://cctv/2024/06/01/cam3.mp4
  vigil detect camera:lobby --timeout 30s --output file:lobby.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

var (
	detectStrategy string
	detectTimeout  time.Duration
	detectOutput   string
)

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().StringVarP(&detectStrategy, "strategy", "s", "violence", "Detection strategy (see 'vigil strategies detection')")
	detectCmd.Flags().DurationVar(&detectTimeout, "timeout", 0, "Cancel the job if it runs longer than this (0 = no limit)")
	detectCmd.Flags().StringVarP(&detectOutput, "output", "o", "", "Write JSONL to a file instead of stdout")
}

func runDetect(cmd *cobra.Command, args []string) error {
	src := strings.TrimSpace(args[0])
	if _, err := source.ParseRef(src); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid source", err)
	}
	if detectTimeout < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid timeout", errors.New("--timeout must be >= 0"))
	}

	return runForeground(cmd, foregroundJob{
		kind:     job.KindDetection,
		strategy: detectStrategy,
		input:    job.Input{Source: src},
		timeout:  detectTimeout,
		output:   detectOutput,
	})
}
