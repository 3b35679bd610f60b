package strategy

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/3leaps/vigil/pkg/job"
)

type entry struct {
	info    Info
	factory Factory
}

type table struct {
	order   []string
	entries map[string]entry
}

// Registry maps (kind, id) to strategy factories. It is safe for concurrent
// use; registration is expected at startup, resolution on every submit.
type Registry struct {
	mu     sync.RWMutex
	tables map[job.Kind]*table
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[job.Kind]*table)}
}

// Register adds or replaces the strategy info.ID under kind. A replaced id
// keeps its original position in List order.
func (r *Registry) Register(kind job.Kind, info Info, factory Factory) error {
	id := strings.TrimSpace(info.ID)
	if id == "" {
		return errors.New("strategy id is required")
	}
	if factory == nil {
		return fmt.Errorf("strategy %s/%s: factory is required", kind, id)
	}
	if _, err := job.ParseKind(string(kind)); err != nil {
		return err
	}
	info.ID = id
	info.Kind = kind
	if info.Name == "" {
		info.Name = id
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[kind]
	if !ok {
		t = &table{entries: make(map[string]entry)}
		r.tables[kind] = t
	}
	if _, exists := t.entries[id]; !exists {
		t.order = append(t.order, id)
	}
	t.entries[id] = entry{info: info, factory: factory}
	return nil
}

// Resolve returns a strategy instance for (kind, id).
func (r *Registry) Resolve(kind job.Kind, id string) (Strategy, error) {
	e, err := r.lookup(kind, id)
	if err != nil {
		return nil, err
	}
	return e.factory(), nil
}

// Info returns the descriptor for (kind, id).
func (r *Registry) Info(kind job.Kind, id string) (Info, error) {
	e, err := r.lookup(kind, id)
	if err != nil {
		return Info{}, err
	}
	return e.info, nil
}

// List returns the strategies of kind in registration order. The result is
// empty, never nil, when nothing is registered.
func (r *Registry) List(kind job.Kind) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tables[kind]
	if !ok {
		return []Info{}
	}
	out := make([]Info, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id].info)
	}
	return out
}

func (r *Registry) lookup(kind job.Kind, id string) (entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.tables[kind]; ok {
		if e, ok := t.entries[id]; ok {
			return e, nil
		}
	}
	return entry{}, fmt.Errorf("%w: %s/%s", ErrUnknownStrategy, kind, id)
}
