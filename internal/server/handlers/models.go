package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/vigil/internal/errors"
	"github.com/3leaps/vigil/pkg/model"
)

// ModelsAPI serves the model catalogue.
type ModelsAPI struct {
	store model.Store
}

// NewModelsAPI wraps store.
func NewModelsAPI(store model.Store) *ModelsAPI {
	return &ModelsAPI{store: store}
}

// ModelStatusRequest is the body of PATCH /v1/models/{id}.
type ModelStatusRequest struct {
	Status string `json:"status"`
}

// List handles GET /v1/models?status=&type=.
func (a *ModelsAPI) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var status model.Status
	if v := q.Get("status"); v != "" {
		st, err := model.ParseStatus(v)
		if err != nil {
			respondWithError(w, r, apperrors.NewInvalidArgument(err.Error()).WithDetails(map[string]any{"field": "status"}))
			return
		}
		status = st
	}
	typ := q.Get("type")

	all, err := a.store.List(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	models := make([]model.Model, 0, len(all))
	for _, m := range all {
		if (status == "" || m.Status == status) && (typ == "" || m.Type == typ) {
			models = append(models, m)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "count": len(models)})
}

// Get handles GET /v1/models/{id}.
func (a *ModelsAPI) Get(w http.ResponseWriter, r *http.Request) {
	m, err := a.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// UpdateStatus handles PATCH /v1/models/{id}.
func (a *ModelsAPI) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req ModelStatusRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	m, err := a.store.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
