package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/3leaps/vigil/internal/errors"
	"github.com/3leaps/vigil/pkg/alert"
	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/sample"
	"github.com/3leaps/vigil/pkg/strategy"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 1000
)

// StrategyLister is the part of the orchestrator the strategy endpoints use.
type StrategyLister interface {
	ListStrategies(kind job.Kind) []strategy.Info
}

// StrategiesHandler serves GET /v1/strategies and /v1/strategies/{kind}.
func StrategiesHandler(l StrategyLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "kind")
		if raw == "" {
			writeJSON(w, http.StatusOK, map[string][]strategy.Info{
				string(job.KindDetection): l.ListStrategies(job.KindDetection),
				string(job.KindTraining):  l.ListStrategies(job.KindTraining),
			})
			return
		}
		kind, err := job.ParseKind(raw)
		if err != nil {
			respondWithError(w, r, apperrors.NewInvalidArgument(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"kind":       kind,
			"strategies": l.ListStrategies(kind),
		})
	}
}

// SamplesAPI serves the training sample catalogue.
type SamplesAPI struct {
	catalog *sample.Catalog
}

// NewSamplesAPI wraps catalog.
func NewSamplesAPI(catalog *sample.Catalog) *SamplesAPI {
	return &SamplesAPI{catalog: catalog}
}

// List handles GET /v1/samples?verified=true.
func (a *SamplesAPI) List(w http.ResponseWriter, r *http.Request) {
	samples := a.catalog.List()
	if v := r.URL.Query().Get("verified"); v != "" {
		verified, err := strconv.ParseBool(v)
		if err != nil {
			respondWithError(w, r, apperrors.NewInvalidArgument("verified must be a boolean"))
			return
		}
		if verified {
			samples = a.catalog.Verified()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples, "count": len(samples)})
}

// Get handles GET /v1/samples/{id}.
func (a *SamplesAPI) Get(w http.ResponseWriter, r *http.Request) {
	s, err := a.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// SampleVerifyRequest is the body of PATCH /v1/samples/{id}.
type SampleVerifyRequest struct {
	Verified *bool `json:"verified"`
}

// Create handles POST /v1/samples. An empty id is generated.
func (a *SamplesAPI) Create(w http.ResponseWriter, r *http.Request) {
	var s sample.Sample
	if err := decodeBody(r, &s); err != nil {
		respondWithError(w, r, err)
		return
	}
	if strings.TrimSpace(s.ID) == "" {
		s.ID = "sample-" + uuid.NewString()[:8]
	}
	if err := s.Validate(); err != nil {
		respondWithError(w, r, apperrors.NewInvalidArgument(err.Error()))
		return
	}
	if err := a.catalog.Create(s); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/samples/"+s.ID)
	writeJSON(w, http.StatusCreated, s)
}

// SetVerified handles PATCH /v1/samples/{id}.
func (a *SamplesAPI) SetVerified(w http.ResponseWriter, r *http.Request) {
	var req SampleVerifyRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if req.Verified == nil {
		respondWithError(w, r, apperrors.NewInvalidArgument("verified is required").WithDetails(map[string]any{"field": "verified"}))
		return
	}
	s, err := a.catalog.SetVerified(chi.URLParam(r, "id"), *req.Verified)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Delete handles DELETE /v1/samples/{id}.
func (a *SamplesAPI) Delete(w http.ResponseWriter, r *http.Request) {
	if err := a.catalog.Delete(chi.URLParam(r, "id")); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AlertsAPI serves the alert review endpoints.
type AlertsAPI struct {
	store alert.Store
}

// NewAlertsAPI wraps store.
func NewAlertsAPI(store alert.Store) *AlertsAPI {
	return &AlertsAPI{store: store}
}

// AlertStatusRequest is the body of PATCH /v1/alerts/{id}.
type AlertStatusRequest struct {
	Status string `json:"status"`
}

// List handles GET /v1/alerts?limit=N, newest first.
func (a *AlertsAPI) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAlertLimit {
			respondWithError(w, r, apperrors.NewInvalidArgument("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}

	alerts, err := a.store.List(r.Context(), limit)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// Get handles GET /v1/alerts/{id}.
func (a *AlertsAPI) Get(w http.ResponseWriter, r *http.Request) {
	al, err := a.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, al)
}

// UpdateStatus handles PATCH /v1/alerts/{id}.
func (a *AlertsAPI) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req AlertStatusRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	status, err := alert.ParseStatus(req.Status)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	al, err := a.store.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, al)
}
