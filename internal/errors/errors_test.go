package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/vigil/pkg/alert"
	"github.com/3leaps/vigil/pkg/executor"
	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/model"
	"github.com/3leaps/vigil/pkg/sample"
	"github.com/3leaps/vigil/pkg/source"
	"github.com/3leaps/vigil/pkg/strategy"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown strategy", fmt.Errorf("resolve: %w", strategy.ErrUnknownStrategy), http.StatusBadRequest, CodeUnknownStrategy},
		{"job not found", job.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"alert not found", alert.ErrAlertNotFound, http.StatusNotFound, CodeNotFound},
		{"sample not found", sample.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"already started", job.ErrAlreadyStarted, http.StatusConflict, CodeConflict},
		{"invalid alert status", alert.ErrInvalidStatus, http.StatusBadRequest, CodeInvalidArgument},
		{"bad source ref", source.ErrInvalidRef, http.StatusBadRequest, CodeInvalidArgument},
		{"invalid job input", fmt.Errorf("submit: %w", job.ErrInvalidInput), http.StatusBadRequest, CodeInvalidArgument},
		{"model not found", model.ErrModelNotFound, http.StatusNotFound, CodeNotFound},
		{"invalid model status", model.ErrInvalidStatus, http.StatusBadRequest, CodeInvalidArgument},
		{"duplicate sample", sample.ErrDuplicate, http.StatusConflict, CodeConflict},
		{"model persistence", model.ErrPersistence, http.StatusBadGateway, CodeExternalService},
		{"shutdown", executor.ErrShutdown, http.StatusServiceUnavailable, CodeServiceUnavailable},
		{"persistence", alert.ErrPersistence, http.StatusBadGateway, CodeExternalService},
		{"app error", NewConflict("busy"), http.StatusConflict, CodeConflict},
		{"other", stderrors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := Classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestRespondWithError_Envelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-42"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, fmt.Errorf("%w: abc", job.ErrNotFound))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeNotFound, body.Error.Code)
	assert.Equal(t, "job not found: abc", body.Error.Message)
	assert.Equal(t, "req-42", body.Error.RequestID)
}

func TestRespondWithError_HidesUnclassifiedMessages(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), stderrors.New("dsn=secret"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.NotContains(t, body.Error.Message, "secret")
}

func TestAppError_DetailsAndUnwrap(t *testing.T) {
	cause := stderrors.New("disk")
	ctx := WithRequestID(context.Background(), "r-1")
	err := WrapInternal(ctx, cause, "write failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "write failed: disk", err.Error())
	assert.Equal(t, "r-1", err.Details["request_id"])

	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), NewInvalidArgument("bad kind").WithDetails(map[string]any{"field": "kind"}))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad kind", body.Error.Message)
	assert.Equal(t, "kind", body.Error.Details["field"])
}

func TestRequestIDFromContext_Missing(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
