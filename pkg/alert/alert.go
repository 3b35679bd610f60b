// Package alert records and fans out alerts raised by high-confidence
// detections.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrAlertNotFound indicates an unknown alert id.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrInvalidStatus indicates a status value outside new/reviewed/dismissed.
	ErrInvalidStatus = errors.New("invalid alert status")

	// ErrPersistence indicates the backing store could not record an alert.
	ErrPersistence = errors.New("alert persistence failed")
)

// Status is the review state of an alert.
type Status string

const (
	StatusNew       Status = "new"
	StatusReviewed  Status = "reviewed"
	StatusDismissed Status = "dismissed"
)

// ParseStatus normalizes a user-supplied status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusNew, StatusReviewed, StatusDismissed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Alert is a notification about a likely violent event.
type Alert struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	Status     Status    `json:"status"`
	HasVideo   bool      `json:"has_video"`
	VideoURL   string    `json:"video_url,omitempty"`
}

// Store persists alerts.
type Store interface {
	Append(ctx context.Context, a Alert) error
	// List returns alerts newest first. limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]Alert, error)
	Get(ctx context.Context, id string) (Alert, error)
	UpdateStatus(ctx context.Context, id string, status Status) (Alert, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts []Alert // append order
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.alerts)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Alert, 0, n)
	for i := len(m.alerts) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.alerts[i])
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.alerts {
		if a.ID == id {
			return a, nil
		}
	}
	return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status Status) (Alert, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Alert{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Status = status
			return m.alerts[i], nil
		}
	}
	return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}
