package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/vigil/internal/observability"
	"github.com/3leaps/vigil/pkg/alert"
	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/model"
)

func TestSignalHealthChecker(t *testing.T) {
	checker := signalHealthChecker{}

	t.Run("always returns nil", func(t *testing.T) {
		assert.NoError(t, checker.CheckHealth(context.Background()))
	})
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "vigil",
			envPrefix:  "VIGIL",
			configName: "vigil",
		},
		{
			name:       "missing binary name",
			envPrefix:  "VIGIL",
			configName: "vigil",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "vigil",
			configName: "vigil",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "vigil",
			envPrefix:  "VIGIL",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStoreHealthChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("no store", func(t *testing.T) {
		err := storeHealthChecker{name: "alert"}.CheckHealth(ctx)
		require.Error(t, err)
	})

	t.Run("memory store", func(t *testing.T) {
		assert.NoError(t, storeHealthChecker{name: "alert", store: alert.NewMemoryStore()}.CheckHealth(ctx))
	})

	t.Run("sqlite store pings", func(t *testing.T) {
		st, err := alert.OpenSQLite(ctx, filepath.Join(t.TempDir(), "alerts.db"))
		require.NoError(t, err)

		checker := storeHealthChecker{name: "alert", store: st}
		assert.NoError(t, checker.CheckHealth(ctx))

		require.NoError(t, st.Close())
		assert.Error(t, checker.CheckHealth(ctx))
	})

	t.Run("model sqlite store pings", func(t *testing.T) {
		st, err := model.OpenSQLite(ctx, filepath.Join(t.TempDir(), "models.db"))
		require.NoError(t, err)

		checker := storeHealthChecker{name: "model", store: st}
		assert.NoError(t, checker.CheckHealth(ctx))

		require.NoError(t, st.Close())
		assert.Error(t, checker.CheckHealth(ctx))
	})
}

func TestMetricsServer(t *testing.T) {
	m := observability.NewMetrics()
	m.JobSubmitted(job.KindDetection, "violence")

	srv := newMetricsServer("127.0.0.1", 9999, m.Handler())
	assert.Equal(t, "127.0.0.1:9999", srv.Addr)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "vigil_"), "metrics should carry the vigil namespace")

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	n, err := testutil.GatherAndCount(m.Registry(), "vigil_jobs_submitted_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBuildEngine(t *testing.T) {
	dir := isolateEnv(t)
	t.Setenv("VIGIL_ALERT_STORE", "sqlite")

	cfg, err := loadConfig(context.Background(), nil)
	require.NoError(t, err)

	eng, err := buildEngine(context.Background(), cfg, engineOptions{metrics: true})
	require.NoError(t, err)

	assert.NotNil(t, eng.orch)
	assert.NotNil(t, eng.metrics)
	require.NotNil(t, eng.history)
	assert.Equal(t, filepath.Join(dir, "jobs"), eng.history.RootDir())
	_, isSQLite := eng.store.(*alert.SQLiteStore)
	assert.True(t, isSQLite)
	assert.FileExists(t, filepath.Join(dir, "alerts.db"))
	assert.NotEmpty(t, eng.orch.ListStrategies(job.KindDetection))

	require.NoError(t, eng.Close(context.Background()))
}

func TestBuildEngine_BadCatalog(t *testing.T) {
	dir := isolateEnv(t)
	t.Setenv("VIGIL_SAMPLES_CATALOG", filepath.Join(dir, "missing.yaml"))

	cfg, err := loadConfig(context.Background(), nil)
	require.NoError(t, err)

	_, err = buildEngine(context.Background(), cfg, engineOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample catalog")
}
