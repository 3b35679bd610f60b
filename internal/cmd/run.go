package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/vigil/internal/observability"
	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/output"
	"github.com/3leaps/vigil/pkg/strategy"
)

// foregroundJob describes one job run to completion by detect or train.
type foregroundJob struct {
	kind     job.Kind
	strategy string
	input    job.Input
	timeout  time.Duration
	output   string
}

// runForeground submits a job to an in-process engine and streams its
// lifecycle as JSONL until it settles.
func runForeground(cmd *cobra.Command, fj foregroundJob) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, nil)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	log := observability.CLILogger
	eng, err := buildEngine(ctx, cfg, engineOptions{log: log})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start engine", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := eng.Close(closeCtx); err != nil {
			log.Warn("Engine shutdown incomplete", zap.Error(err))
		}
	}()

	w, closeOut, err := createWriter(cmd, fj.output)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open output", err)
	}
	defer closeOut()

	id, err := eng.orch.Submit(ctx, fj.kind, fj.strategy, fj.input)
	if err != nil {
		if errors.Is(err, strategy.ErrUnknownStrategy) {
			return exitError(foundry.ExitInvalidArgument, "Unknown strategy", err)
		}
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Interrupted", ctx.Err())
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to submit job", err)
	}

	log.Info("Starting job",
		zap.String("job_id", id),
		zap.String("kind", string(fj.kind)),
		zap.String("strategy", fj.strategy),
	)

	// Records are still written after an interrupt so the stream ends with
	// the final state.
	writeCtx := context.WithoutCancel(ctx)
	jw := output.NewJSONLWriter(w, id, string(fj.kind))
	defer func() { _ = jw.Close() }()

	var updates int
	var writeErr error
	onUpdate := func(j job.Job) {
		if updates == 0 {
			writeErr = errors.Join(writeErr, jw.WriteJob(writeCtx, &j))
		}
		updates++
		writeErr = errors.Join(writeErr, jw.WriteProgress(writeCtx, output.ProgressFromJob(j)))
	}
	sub, err := eng.orch.Subscribe(id, onUpdate, nil)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to watch job", err)
	}

	waitCtx := ctx
	if fj.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, fj.timeout)
		defer cancel()
	}

	final, waitErr := eng.orch.Wait(waitCtx, id)
	if waitErr != nil {
		eng.orch.Cancel(id)
		settleCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		final, _ = eng.orch.Wait(settleCtx, id)
		cancel()
	}
	sub.Cancel()
	<-sub.Done()

	writeErr = errors.Join(writeErr, jw.WriteJob(writeCtx, &final))

	a, alerted := eng.orch.JobAlert(id)
	if alerted {
		writeErr = errors.Join(writeErr, jw.WriteAlert(writeCtx, &a))
	}

	switch {
	case final.Status == job.StatusFailed:
		writeErr = errors.Join(writeErr, jw.WriteError(writeCtx, &output.ErrorRecord{
			Code:    output.ErrCodeStrategyFailed,
			Message: final.Error,
		}))
	case final.Status != job.StatusCompleted && errors.Is(waitErr, context.DeadlineExceeded):
		writeErr = errors.Join(writeErr, jw.WriteError(writeCtx, &output.ErrorRecord{
			Code:    output.ErrCodeTimeout,
			Message: fmt.Sprintf("job did not finish within %s", fj.timeout),
		}))
	}

	duration := jobDuration(final)
	writeErr = errors.Join(writeErr, jw.WriteSummary(writeCtx, &output.SummaryRecord{
		Status:        final.Status,
		Duration:      duration,
		DurationHuman: duration.Round(time.Millisecond).String(),
		Updates:       updates,
		Alerted:       alerted,
	}))

	log.Info("Job finished",
		zap.String("job_id", id),
		zap.String("status", string(final.Status)),
		zap.Duration("duration", duration),
		zap.Bool("alerted", alerted),
	)

	return foregroundExit(final, ctx.Err(), waitErr, writeErr)
}

// foregroundExit maps a settled job to the command's exit. The job's own
// status is checked before waitErr: a job that completed as the timeout
// fired succeeded.
func foregroundExit(final job.Job, interrupted, waitErr, writeErr error) error {
	switch {
	case interrupted != nil && final.Status != job.StatusCompleted:
		return exitError(foundry.ExitSignalInt, "Interrupted", interrupted)
	case final.Status == job.StatusCompleted:
	case final.Status == job.StatusFailed:
		return exitError(foundry.ExitExternalServiceUnavailable, "Job failed", errors.New(final.Error))
	case waitErr != nil:
		return exitError(foundry.ExitExternalServiceUnavailable, "Job timed out", waitErr)
	case final.Status == job.StatusCancelled:
		return exitError(foundry.ExitExternalServiceUnavailable, "Job cancelled", errors.New("cancelled"))
	}
	if writeErr != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", writeErr)
	}
	return nil
}

func jobDuration(j job.Job) time.Duration {
	if j.StartedAt == nil || j.EndedAt == nil {
		return 0
	}
	return j.EndedAt.Sub(*j.StartedAt)
}

// createWriter returns the command's stdout for "" or "-", otherwise a file
// (an optional file: prefix is accepted).
func createWriter(cmd *cobra.Command, dest string) (io.Writer, func(), error) {
	if dest == "" || dest == "-" || dest == "stdout" {
		return cmd.OutOrStdout(), func() {}, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}
