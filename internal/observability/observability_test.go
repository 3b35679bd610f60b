package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/orchestrator"
)

var _ orchestrator.Metrics = (*Metrics)(nil)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger_Profiles(t *testing.T) {
	_, err := NewLogger("vigil", LoggingConfig{Level: "info", Profile: "console"})
	require.NoError(t, err)

	_, err = NewLogger("vigil", LoggingConfig{Level: "info", Profile: "xml"})
	require.Error(t, err)

	_, err = NewLogger("vigil", LoggingConfig{Level: "chatty"})
	require.Error(t, err)
}

func TestNewLogger_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.log")
	l, err := NewLogger("vigil", LoggingConfig{Level: "debug", Profile: ProfileStructured, File: path})
	require.NoError(t, err)

	l.Info("Job submitted", zap.String("job_id", "abc"))
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"job_id":"abc"`)
	assert.Contains(t, string(b), `"service":"vigil"`)
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("vigil", true)
	assert.NotNil(t, CLILogger)
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))

	InitCLILogger("vigil", false)
	assert.False(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.JobSubmitted(job.KindDetection, "violence")
	m.JobSubmitted(job.KindDetection, "violence")
	m.JobStarted(job.KindDetection)
	m.JobStarted(job.KindDetection)
	m.JobFinished(job.KindDetection, job.StatusCompleted, true)
	m.JobFinished(job.KindDetection, job.StatusCancelled, false)
	m.AlertEmitted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsSubmitted.WithLabelValues("detection", "violence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("detection", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("detection", "cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsEmitted))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.AlertEmitted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "vigil_alerts_emitted_total 1")
}
