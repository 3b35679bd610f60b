package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/vigil/internal/errors"
	"github.com/3leaps/vigil/pkg/alert"
	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/orchestrator"
)

const (
	maxBodyBytes          = 1 << 20
	defaultPredictTimeout = 60 * time.Second
	predictStrategy       = "violence"

	// IdempotencyKeyHeader deduplicates job submissions.
	IdempotencyKeyHeader = "Idempotency-Key"
)

// JobsAPI serves the job endpoints backed by an orchestrator.
type JobsAPI struct {
	orch           *orchestrator.Orchestrator
	log            *zap.Logger
	predictTimeout time.Duration
}

// NewJobsAPI creates the job endpoints. A zero predictTimeout uses 60s.
func NewJobsAPI(orch *orchestrator.Orchestrator, log *zap.Logger, predictTimeout time.Duration) *JobsAPI {
	if log == nil {
		log = zap.NewNop()
	}
	if predictTimeout <= 0 {
		predictTimeout = defaultPredictTimeout
	}
	return &JobsAPI{orch: orch, log: log, predictTimeout: predictTimeout}
}

// SubmitRequest is the body of POST /v1/jobs.
type SubmitRequest struct {
	Kind     string    `json:"kind"`
	Strategy string    `json:"strategy"`
	Input    job.Input `json:"input"`
}

// JobResponse is a job snapshot plus the alert it raised, if any.
type JobResponse struct {
	job.Job
	Alert *alert.Alert `json:"alert,omitempty"`
}

// JobListResponse is the body of GET /v1/jobs.
type JobListResponse struct {
	Jobs  []job.Job `json:"jobs"`
	Count int       `json:"count"`
}

// PredictRequest is the body of POST /v1/predict.
type PredictRequest struct {
	Source string `json:"source"`
}

// PredictResponse mirrors the legacy prediction payload.
type PredictResponse struct {
	JobID             string  `json:"job_id"`
	Fight             bool    `json:"fight"`
	PercentageOfFight float64 `json:"percentage_of_fight"`
	ProcessingTimeMs  uint64  `json:"processing_time_ms"`
	AlertID           string  `json:"alert_id,omitempty"`
}

// Submit handles POST /v1/jobs.
func (a *JobsAPI) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	kind, err := job.ParseKind(req.Kind)
	if err != nil {
		respondWithError(w, r, apperrors.NewInvalidArgument(err.Error()).WithDetails(map[string]any{"field": "kind"}))
		return
	}
	if strings.TrimSpace(req.Strategy) == "" {
		respondWithError(w, r, apperrors.NewInvalidArgument("strategy is required").WithDetails(map[string]any{"field": "strategy"}))
		return
	}
	if kind == job.KindDetection && strings.TrimSpace(req.Input.Source) == "" {
		respondWithError(w, r, apperrors.NewInvalidArgument("input.source is required for detection").WithDetails(map[string]any{"field": "input.source"}))
		return
	}
	if err := req.Input.Validate(); err != nil {
		respondWithError(w, r, apperrors.NewInvalidArgument(err.Error()).WithDetails(map[string]any{"field": "input"}))
		return
	}

	opts := orchestrator.SubmitOptions{IdempotencyKey: r.Header.Get(IdempotencyKeyHeader)}
	id, err := a.orch.SubmitWithOptions(r.Context(), kind, req.Strategy, req.Input, opts)
	if err != nil {
		respondWithError(w, r, fmt.Errorf("submit %s/%s: %w", kind, req.Strategy, err))
		return
	}

	j, _ := a.orch.GetJob(id)
	w.Header().Set("Location", "/v1/jobs/"+id)
	writeJSON(w, http.StatusAccepted, JobResponse{Job: j})
}

// List handles GET /v1/jobs?kind=&status=.
func (a *JobsAPI) List(w http.ResponseWriter, r *http.Request) {
	var f job.Filter
	q := r.URL.Query()
	if v := q.Get("kind"); v != "" {
		k, err := job.ParseKind(v)
		if err != nil {
			respondWithError(w, r, apperrors.NewInvalidArgument(err.Error()))
			return
		}
		f.Kind = k
	}
	if v := q.Get("status"); v != "" {
		s, err := job.ParseStatus(v)
		if err != nil {
			respondWithError(w, r, apperrors.NewInvalidArgument(err.Error()))
			return
		}
		f.Status = s
	}

	jobs := a.orch.ListJobs(f)
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

// Get handles GET /v1/jobs/{id}.
func (a *JobsAPI) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, ok := a.orch.GetJob(id)
	if !ok {
		respondWithError(w, r, apperrors.NewNotFound("job not found: "+id))
		return
	}
	writeJSON(w, http.StatusOK, a.withAlert(j))
}

// Cancel handles DELETE /v1/jobs/{id} and POST /v1/jobs/{id}/cancel.
func (a *JobsAPI) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.orch.Cancel(id) {
		j, ok := a.orch.GetJob(id)
		if !ok {
			respondWithError(w, r, apperrors.NewNotFound("job not found: "+id))
			return
		}
		respondWithError(w, r, apperrors.NewConflict("job already finished").
			WithDetails(map[string]any{"job_id": id, "status": string(j.Status)}))
		return
	}
	j, _ := a.orch.GetJob(id)
	writeJSON(w, http.StatusAccepted, JobResponse{Job: j})
}

// Events handles GET /v1/jobs/{id}/events as a server-sent event stream.
// Each change is an "update" event; the stream ends with one "terminal"
// event.
func (a *JobsAPI) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rc := http.NewResponseController(w)

	ctx := r.Context()
	type event struct {
		name string
		job  job.Job
	}
	events := make(chan event, 16)
	send := func(name string) func(job.Job) {
		return func(j job.Job) {
			select {
			case events <- event{name: name, job: j}:
			case <-ctx.Done():
			}
		}
	}

	sub, err := a.orch.Subscribe(id, send("update"), send("terminal"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	defer sub.Cancel()

	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		a.log.Debug("SSE flush unsupported", zap.String("job_id", id), zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			payload, err := json.Marshal(a.withAlert(ev.job))
			if err != nil {
				a.log.Error("Encode job event", zap.String("job_id", id), zap.Error(err))
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, payload); err != nil {
				return
			}
			_ = rc.Flush()
			if ev.name == "terminal" {
				return
			}
		}
	}
}

// Predict handles POST /v1/predict: a violence detection that answers once
// the job has finished.
func (a *JobsAPI) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		respondWithError(w, r, apperrors.NewInvalidArgument("source is required").WithDetails(map[string]any{"field": "source"}))
		return
	}

	id, err := a.orch.Submit(r.Context(), job.KindDetection, predictStrategy, job.Input{Source: req.Source})
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.predictTimeout)
	defer cancel()

	j, err := a.orch.Wait(ctx, id)
	if err != nil {
		a.orch.Cancel(id)
		if errors.Is(err, context.DeadlineExceeded) {
			respondWithError(w, r, &apperrors.AppError{
				Code:    apperrors.CodeServiceUnavailable,
				Status:  http.StatusServiceUnavailable,
				Message: "detection did not finish in time",
				Details: map[string]any{"job_id": id},
			})
			return
		}
		respondWithError(w, r, err)
		return
	}

	switch j.Status {
	case job.StatusCompleted:
	case job.StatusCancelled:
		respondWithError(w, r, apperrors.NewConflict("detection was cancelled").WithDetails(map[string]any{"job_id": id}))
		return
	default:
		respondWithError(w, r, apperrors.NewExternalServiceError("detection failed").
			WithDetails(map[string]any{"job_id": id, "error": j.Error}))
		return
	}

	d := j.Result.Detection
	resp := PredictResponse{
		JobID:             id,
		Fight:             d.Detected,
		PercentageOfFight: d.Confidence,
		ProcessingTimeMs:  d.ProcessingTimeMs,
	}
	if al, ok := a.orch.JobAlert(id); ok {
		resp.AlertID = al.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *JobsAPI) withAlert(j job.Job) JobResponse {
	resp := JobResponse{Job: j}
	if j.Terminal() {
		if al, ok := a.orch.JobAlert(j.ID); ok {
			resp.Alert = &al
		}
	}
	return resp
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewInvalidArgument("request body is required")
		}
		return apperrors.NewInvalidArgument("malformed request body: " + err.Error())
	}
	return nil
}
