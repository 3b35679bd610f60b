// Package sample holds the catalogue of labelled video clips used as training
// material.
package sample

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// ErrNotFound indicates an unknown sample id.
var ErrNotFound = errors.New("sample not found")

// ErrNoSamples indicates a selection matched nothing usable for training.
var ErrNoSamples = errors.New("no samples available for training")

// ErrDuplicate indicates a created sample whose id is already catalogued.
var ErrDuplicate = errors.New("sample already exists")

// Type labels a sample.
type Type string

const (
	TypeViolence    Type = "violence"
	TypeNonViolence Type = "non-violence"
)

// Sample is a labelled clip.
type Sample struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Type     Type   `json:"type" yaml:"type"`
	Duration int    `json:"duration_seconds" yaml:"duration_seconds"`
	Date     string `json:"date" yaml:"date"`
	Verified bool   `json:"verified" yaml:"verified"`
	VideoURL string `json:"video_url" yaml:"video_url"`
}

// Validate checks required fields.
func (s Sample) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("sample id is required")
	}
	switch s.Type {
	case TypeViolence, TypeNonViolence:
	default:
		return fmt.Errorf("sample %s: unknown type %q", s.ID, s.Type)
	}
	if s.Duration < 0 {
		return fmt.Errorf("sample %s: negative duration", s.ID)
	}
	return nil
}

// catalogFile is the on-disk layout read by LoadFile.
type catalogFile struct {
	Samples []Sample `yaml:"samples"`
}

// Catalog is a concurrency-safe, insertion-ordered set of samples.
type Catalog struct {
	mu      sync.RWMutex
	order   []string
	samples map[string]Sample
}

// NewCatalog creates a catalogue from samples. Later duplicates replace
// earlier ones in place.
func NewCatalog(samples ...Sample) (*Catalog, error) {
	c := &Catalog{samples: make(map[string]Sample)}
	for _, s := range samples {
		if err := c.Add(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Default returns the built-in demo catalogue.
func Default() *Catalog {
	c, err := NewCatalog(
		Sample{ID: "sample1", Name: "Fight Scene 1", Type: TypeViolence, Duration: 12, Date: "2024-01-15", Verified: true, VideoURL: "/samples/fight1.mp4"},
		Sample{ID: "sample2", Name: "Argument Escalation", Type: TypeViolence, Duration: 8, Date: "2024-02-03", Verified: true, VideoURL: "/samples/argument.mp4"},
		Sample{ID: "sample3", Name: "Normal Walking", Type: TypeNonViolence, Duration: 15, Date: "2024-01-20", Verified: true, VideoURL: "/samples/walking.mp4"},
		Sample{ID: "sample4", Name: "Group Discussion", Type: TypeNonViolence, Duration: 20, Date: "2024-02-10", Verified: false, VideoURL: "/samples/discussion.mp4"},
		Sample{ID: "sample5", Name: "Physical Altercation", Type: TypeViolence, Duration: 7, Date: "2024-03-05", Verified: true, VideoURL: "/samples/altercation.mp4"},
		Sample{ID: "sample6", Name: "Running in Hallway", Type: TypeNonViolence, Duration: 10, Date: "2024-02-25", Verified: false, VideoURL: "/samples/running.mp4"},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadFile reads a YAML catalogue:
//
//	samples:
//	  - id: clip-1
//	    type: violence
//	    ...
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sample catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sample catalog %s: %w", path, err)
	}
	return NewCatalog(f.Samples...)
}

// Add inserts or replaces s.
func (c *Catalog) Add(s Sample) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.samples[s.ID]; !ok {
		c.order = append(c.order, s.ID)
	}
	c.samples[s.ID] = s
	return nil
}

// Create inserts s. Unlike Add it refuses an id that is already present.
func (c *Catalog) Create(s Sample) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.samples[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, s.ID)
	}
	c.order = append(c.order, s.ID)
	c.samples[s.ID] = s
	return nil
}

// SetVerified marks the sample with id as verified or not and returns it.
// Only verified samples are used when a training run names none.
func (c *Catalog) SetVerified(id string, verified bool) (Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.samples[id]
	if !ok {
		return Sample{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Verified = verified
	c.samples[id] = s
	return s, nil
}

// Delete removes the sample with id.
func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.samples[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(c.samples, id)
	c.order = slices.DeleteFunc(c.order, func(o string) bool { return o == id })
	return nil
}

// Get returns the sample with id.
func (c *Catalog) Get(id string) (Sample, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.samples[id]
	if !ok {
		return Sample{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns all samples in insertion order.
func (c *Catalog) List() []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Sample, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.samples[id])
	}
	return out
}

// Verified returns the verified samples in insertion order.
func (c *Catalog) Verified() []Sample {
	return slices.DeleteFunc(c.List(), func(s Sample) bool { return !s.Verified })
}

// Select resolves the samples a training run should use.
//
// Explicit ids are looked up first (unknown ids are skipped), then patterns
// are matched against sample ids with doublestar syntax. When neither is
// given every verified sample is used. An empty result is ErrNoSamples.
func (c *Catalog) Select(ids, patterns []string) ([]Sample, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid sample pattern %q", p)
		}
	}

	if len(ids) == 0 && len(patterns) == 0 {
		v := c.Verified()
		if len(v) == 0 {
			return nil, ErrNoSamples
		}
		return v, nil
	}

	seen := make(map[string]bool)
	var out []Sample
	add := func(s Sample) {
		if !seen[s.ID] {
			seen[s.ID] = true
			out = append(out, s)
		}
	}

	for _, id := range ids {
		if s, err := c.Get(id); err == nil {
			add(s)
		}
	}
	if len(patterns) > 0 {
		for _, s := range c.List() {
			for _, p := range patterns {
				if ok, _ := doublestar.Match(p, s.ID); ok {
					add(s)
					break
				}
			}
		}
	}

	if len(out) == 0 {
		return nil, ErrNoSamples
	}
	return out, nil
}
