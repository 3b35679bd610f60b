package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/jobregistry"
	"github.com/3leaps/vigil/pkg/output"
)

func parseRecords(t *testing.T, s string) []output.Record {
	t.Helper()
	var recs []output.Record
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r output.Record
		require.NoError(t, json.Unmarshal([]byte(line), &r), line)
		recs = append(recs, r)
	}
	require.NoError(t, sc.Err())
	return recs
}

func recordsOfType(recs []output.Record, typ string) []output.Record {
	var out []output.Record
	for _, r := range recs {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func lastSummary(t *testing.T, recs []output.Record) output.SummaryRecord {
	t.Helper()
	require.NotEmpty(t, recs)
	last := recs[len(recs)-1]
	require.Equal(t, output.TypeSummary, last.Type)
	var sum output.SummaryRecord
	require.NoError(t, json.Unmarshal(last.Data, &sum))
	return sum
}

func videoFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "hallway.mp4")
	require.NoError(t, os.WriteFile(p, []byte("not really a video"), 0o644))
	return p
}

func TestDetect(t *testing.T) {
	dir := isolateEnv(t)
	src := videoFile(t)

	out, err := executeCommand(t, "detect", src)
	require.NoError(t, err)

	recs := parseRecords(t, out)
	sum := lastSummary(t, recs)
	assert.Equal(t, job.StatusCompleted, sum.Status)

	jobs := recordsOfType(recs, output.TypeJob)
	require.NotEmpty(t, jobs)
	var final job.Job
	require.NoError(t, json.Unmarshal(jobs[len(jobs)-1].Data, &final))
	assert.Equal(t, job.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.Result)
	require.NotNil(t, final.Result.Detection)

	alerts := recordsOfType(recs, output.TypeAlert)
	assert.Equal(t, sum.Alerted, len(alerts) == 1)
	d := final.Result.Detection
	assert.Equal(t, d.Detected && d.Confidence > 70, sum.Alerted)

	for _, r := range recs {
		assert.Equal(t, final.ID, r.JobID)
		assert.Equal(t, "detection", r.Kind)
	}

	// History is written for foreground jobs too.
	rec, err := jobregistry.NewStore(filepath.Join(dir, "jobs")).Get(final.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, rec.Job.Status)
}

func TestDetectToFile(t *testing.T) {
	isolateEnv(t)
	src := videoFile(t)
	dest := filepath.Join(t.TempDir(), "out.jsonl")

	out, err := executeCommand(t, "detect", "--strategy", "movement", "--output", "file:"+dest, src)
	require.NoError(t, err)
	assert.Empty(t, out)

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	sum := lastSummary(t, parseRecords(t, string(b)))
	assert.Equal(t, job.StatusCompleted, sum.Status)
}

func TestDetectFailures(t *testing.T) {
	t.Run("unknown strategy", func(t *testing.T) {
		isolateEnv(t)
		_, err := executeCommand(t, "detect", "--strategy", "telepathy", videoFile(t))
		require.Error(t, err)
		assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	})

	t.Run("invalid source", func(t *testing.T) {
		isolateEnv(t)
		_, err := executeCommand(t, "detect", "camera:")
		require.Error(t, err)
		assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	})

	t.Run("missing file fails the job", func(t *testing.T) {
		isolateEnv(t)
		out, err := executeCommand(t, "detect", filepath.Join(t.TempDir(), "nope.mp4"))
		require.Error(t, err)
		assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(err))

		recs := parseRecords(t, out)
		assert.Equal(t, job.StatusFailed, lastSummary(t, recs).Status)

		errs := recordsOfType(recs, output.TypeError)
		require.Len(t, errs, 1)
		var er output.ErrorRecord
		require.NoError(t, json.Unmarshal(errs[0].Data, &er))
		assert.Equal(t, output.ErrCodeStrategyFailed, er.Code)
		assert.Contains(t, er.Message, "resolve source")
	})

	t.Run("timeout cancels the job", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("VIGIL_TIME_SCALE", "1")

		out, err := executeCommand(t, "detect", "--timeout", "50ms", "camera:lobby")
		require.Error(t, err)
		assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(err))

		recs := parseRecords(t, out)
		assert.Equal(t, job.StatusCancelled, lastSummary(t, recs).Status)
		errs := recordsOfType(recs, output.TypeError)
		require.Len(t, errs, 1)
		var er output.ErrorRecord
		require.NoError(t, json.Unmarshal(errs[0].Data, &er))
		assert.Equal(t, output.ErrCodeTimeout, er.Code)
	})

	t.Run("unwritable output", func(t *testing.T) {
		isolateEnv(t)
		dest := filepath.Join(t.TempDir(), "missing-dir", "out.jsonl")
		_, err := executeCommand(t, "detect", "--output", dest, "camera:lobby")
		require.Error(t, err)
		assert.Equal(t, foundry.ExitFileWriteError, ExitCode(err))
	})
}

func TestTrain(t *testing.T) {
	isolateEnv(t)

	out, err := executeCommand(t, "train", "--strategy", "transfer", "--epochs", "3", "--pattern", "*")
	require.NoError(t, err)

	recs := parseRecords(t, out)
	assert.Equal(t, job.StatusCompleted, lastSummary(t, recs).Status)
	assert.Empty(t, recordsOfType(recs, output.TypeAlert), "training never alerts")

	jobs := recordsOfType(recs, output.TypeJob)
	var final job.Job
	require.NoError(t, json.Unmarshal(jobs[len(jobs)-1].Data, &final))
	require.NotNil(t, final.Result)
	require.NotNil(t, final.Result.Training)
	assert.Equal(t, 3, final.Result.Training.Epochs)
	assert.Len(t, final.Result.Training.LossHistory, 3)
	assert.Equal(t, 3, final.TotalEpochs)
}

func TestTrainValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"negative epochs", []string{"train", "--epochs", "-1"}},
		{"epochs above limit", []string{"train", "--epochs", "1001"}},
		{"batch size above limit", []string{"train", "--batch-size", "5000"}},
		{"negative batch size", []string{"train", "--batch-size", "-4"}},
		{"negative learning rate", []string{"train", "--learning-rate", "-0.1"}},
		{"bad pattern", []string{"train", "--pattern", "[unclosed"}},
		{"unknown strategy", []string{"train", "--strategy", "behavior"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			_, err := executeCommand(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
		})
	}
}

func TestTrainNoMatchingSamples(t *testing.T) {
	isolateEnv(t)

	out, err := executeCommand(t, "train", "--epochs", "1", "--sample", "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(err))
	assert.Equal(t, job.StatusFailed, lastSummary(t, parseRecords(t, out)).Status)
}

func TestForegroundExit(t *testing.T) {
	tests := []struct {
		name        string
		status      job.Status
		interrupted error
		waitErr     error
		writeErr    error
		want        int
	}{
		{name: "completed", status: job.StatusCompleted, want: 0},
		{name: "completed as the timeout fired", status: job.StatusCompleted, waitErr: context.DeadlineExceeded, want: 0},
		{name: "completed with broken output", status: job.StatusCompleted, writeErr: errors.New("disk full"), want: foundry.ExitFileWriteError},
		{name: "failed", status: job.StatusFailed, want: foundry.ExitExternalServiceUnavailable},
		{name: "timed out", status: job.StatusCancelled, waitErr: context.DeadlineExceeded, want: foundry.ExitExternalServiceUnavailable},
		{name: "cancelled", status: job.StatusCancelled, want: foundry.ExitExternalServiceUnavailable},
		{name: "interrupted", status: job.StatusCancelled, interrupted: context.Canceled, waitErr: context.Canceled, want: foundry.ExitSignalInt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := foregroundExit(job.Job{Status: tt.status, Error: "boom"}, tt.interrupted, tt.waitErr, tt.writeErr)
			assert.Equal(t, tt.want, ExitCode(err))
			if tt.want == 0 {
				assert.NoError(t, err)
			}
		})
	}

	err := foregroundExit(job.Job{Status: job.StatusCancelled}, nil, context.DeadlineExceeded, nil)
	assert.Contains(t, err.Error(), "timed out")
}
