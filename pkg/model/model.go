// Package model keeps the catalogue of detection models: the built-in ones
// and every model produced by a completed training job.
package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/3leaps/vigil/pkg/job"
)

var (
	// ErrModelNotFound indicates an unknown model id.
	ErrModelNotFound = errors.New("model not found")

	// ErrInvalidStatus indicates a status other than active or inactive.
	ErrInvalidStatus = errors.New("invalid model status")

	// ErrDuplicate indicates a model id that is already registered.
	ErrDuplicate = errors.New("model already registered")

	// ErrPersistence indicates the backing store could not record a model.
	ErrPersistence = errors.New("model persistence failed")
)

// Status marks whether a model is offered for detection.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParseStatus normalizes a user-supplied status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusActive, StatusInactive:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// DefaultSizeMB is recorded for trained models.
const DefaultSizeMB = 250

// Model is a catalogue entry.
type Model struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Accuracy float64 `json:"accuracy"`
	Status   Status  `json:"status"`
	SizeMB   int     `json:"size_mb"`

	// JobID is the training job that produced the model. Empty for
	// built-in models.
	JobID string `json:"job_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks required fields.
func (m Model) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("model id is required")
	}
	if strings.TrimSpace(m.Type) == "" {
		return fmt.Errorf("model %s: type is required", m.ID)
	}
	if m.Accuracy < 0 || m.Accuracy > 100 {
		return fmt.Errorf("model %s: accuracy %v outside [0,100]", m.ID, m.Accuracy)
	}
	if _, err := ParseStatus(string(m.Status)); err != nil {
		return err
	}
	return nil
}

// FromTraining builds the active model a completed training job produced.
// name is used as the display name; empty derives one from the strategy.
func FromTraining(j job.Job, name string, now time.Time) (Model, error) {
	if j.Kind != job.KindTraining || j.Status != job.StatusCompleted {
		return Model{}, fmt.Errorf("job %s is not a completed training job", j.ID)
	}
	if j.Result == nil || j.Result.Training == nil {
		return Model{}, fmt.Errorf("job %s has no training outcome", j.ID)
	}
	tr := j.Result.Training
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("%s model %s", j.StrategyID, now.UTC().Format("2006-01-02 15:04"))
	}
	now = now.UTC()
	return Model{
		ID:        tr.ModelID,
		Name:      name,
		Type:      j.StrategyID,
		Accuracy:  tr.Accuracy,
		Status:    StatusActive,
		SizeMB:    DefaultSizeMB,
		JobID:     j.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Defaults returns the models shipped with vigil.
func Defaults() []Model {
	day := func(s string) time.Time {
		t, _ := time.Parse(time.DateOnly, s)
		return t
	}
	return []Model{
		{ID: "model1", Name: "Default Violence Model", Type: "violence", Accuracy: 94.7, Status: StatusActive, SizeMB: 245, CreatedAt: day("2023-12-15"), UpdatedAt: day("2023-12-15")},
		{ID: "model2", Name: "Enhanced Violence Model", Type: "violence", Accuracy: 96.2, Status: StatusActive, SizeMB: 312, CreatedAt: day("2024-02-20"), UpdatedAt: day("2024-02-20")},
		{ID: "model3", Name: "Person Movement Model", Type: "movement", Accuracy: 92.5, Status: StatusInactive, SizeMB: 178, CreatedAt: day("2023-11-05"), UpdatedAt: day("2023-11-05")},
		{ID: "model4", Name: "Custom Behavior Model 1", Type: "behavior", Accuracy: 88.3, Status: StatusActive, SizeMB: 203, CreatedAt: day("2024-01-10"), UpdatedAt: day("2024-01-10")},
	}
}

// Store persists the catalogue.
type Store interface {
	// Add registers m. An existing id is ErrDuplicate.
	Add(ctx context.Context, m Model) error
	// List returns models in registration order.
	List(ctx context.Context) ([]Model, error)
	Get(ctx context.Context, id string) (Model, error)
	UpdateStatus(ctx context.Context, id string, status Status) (Model, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.RWMutex
	order  []string
	models map[string]Model
	now    func() time.Time
}

// NewMemoryStore returns a store holding models.
func NewMemoryStore(models ...Model) (*MemoryStore, error) {
	s := &MemoryStore{models: make(map[string]Model), now: time.Now}
	for _, m := range models {
		if err := s.Add(context.Background(), m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemoryStore) Add(_ context.Context, m Model) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[m.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, m.ID)
	}
	s.order = append(s.order, m.ID)
	s.models[m.ID] = m
	return nil
}

func (s *MemoryStore) List(context.Context) ([]Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Model, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.models[id])
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return m, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status) (Model, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Model{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	m.Status = status
	m.UpdatedAt = s.now().UTC()
	s.models[id] = m
	return m, nil
}

// Active returns the active models of st, optionally restricted to typ.
func Active(ctx context.Context, st Store, typ string) ([]Model, error) {
	all, err := st.List(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(m Model) bool {
		return m.Status != StatusActive || (typ != "" && m.Type != typ)
	}), nil
}

var _ Store = (*MemoryStore)(nil)
