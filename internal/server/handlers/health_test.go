package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/vigil/internal/errors"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(context.Context) error {
	return s.err
}

func TestHealthHandler_Healthy(t *testing.T) {
	m := NewHealthManager("1.2.3")
	m.RegisterChecker("alerts", stubChecker{})

	rec := httptest.NewRecorder()
	m.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "healthy", resp.Checks["alerts"])
}

func TestHealthHandler_UnhealthyIs503(t *testing.T) {
	m := NewHealthManager("1.2.3")
	m.RegisterChecker("alerts", stubChecker{err: errors.New("database is locked")})
	m.RegisterChecker("identity", stubChecker{})

	rec := httptest.NewRecorder()
	m.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)

	checks, ok := resp.Error.Details["checks"].(map[string]any)
	require.True(t, ok, "details should carry per-check status")
	assert.Equal(t, "unhealthy", checks["alerts"])
	assert.Equal(t, "healthy", checks["identity"])
}

func TestHealthHandler_SlowCheckerIsDegraded(t *testing.T) {
	m := NewHealthManager("dev")
	m.timeout = 20 * time.Millisecond
	m.RegisterChecker("mqtt", HealthCheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	rec := httptest.NewRecorder()
	m.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "timeout", resp.Checks["mqtt"])
}

func TestLivenessIgnoresCheckers(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("alerts", stubChecker{err: errors.New("down")})

	rec := httptest.NewRecorder()
	m.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDetermineOverallStatus(t *testing.T) {
	m := NewHealthManager("dev")

	assert.Equal(t, "healthy", m.determineOverallStatus(nil))
	assert.Equal(t, "degraded", m.determineOverallStatus(map[string]string{"db": "timeout"}))
	assert.Equal(t, "unhealthy", m.determineOverallStatus(map[string]string{"db": "timeout", "mq": "unhealthy"}))
}

func TestInitAndGetHealthManager(t *testing.T) {
	original := globalHealthManager
	defer func() { globalHealthManager = original }()

	globalHealthManager = nil
	assert.Nil(t, GetHealthManager())

	m := InitHealthManager("1.0.0")
	assert.Same(t, m, GetHealthManager())
}

func TestGlobalHandlers(t *testing.T) {
	original := globalHealthManager
	defer func() { globalHealthManager = original }()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"HealthHandler", HealthHandler},
		{"LivenessHandler", LivenessHandler},
		{"ReadinessHandler", ReadinessHandler},
		{"StartupHandler", StartupHandler},
	}

	t.Run("initialized", func(t *testing.T) {
		InitHealthManager("test-version")
		for _, tt := range tests {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, http.StatusOK, rec.Code, tt.name)
		}
	})

	t.Run("not initialized", func(t *testing.T) {
		globalHealthManager = nil
		for _, tt := range tests {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tt.name)
		}
	})
}

func TestVersionHandler(t *testing.T) {
	SetVersionInfo("1.4.0", "abc123", "2026-10-01")
	defer SetVersionInfo("dev", "unknown", "unknown")

	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.NotEmpty(t, info.GoVersion)
}
