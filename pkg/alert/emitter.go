package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/vigil/pkg/source"
)

// DefaultThreshold is the detection confidence above which an alert is raised.
const DefaultThreshold = 70.0

// Sink receives every emitted alert after it is stored.
type Sink interface {
	Deliver(ctx context.Context, a Alert) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, a Alert) error

func (f SinkFunc) Deliver(ctx context.Context, a Alert) error { return f(ctx, a) }

// Emitter creates alerts, stores them and fans them out to sinks.
type Emitter struct {
	store Store
	sinks []Sink
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithSink adds a delivery sink.
func WithSink(s Sink) EmitterOption {
	return func(e *Emitter) {
		if s != nil {
			e.sinks = append(e.sinks, s)
		}
	}
}

// WithEmitterLogger sets the logger used for sink failures.
func WithEmitterLogger(l *zap.Logger) EmitterOption {
	return func(e *Emitter) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEmitterClock overrides the alert timestamp source.
func WithEmitterClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEmitter creates an emitter backed by store. A nil store means an
// in-memory store.
func NewEmitter(store Store, opts ...EmitterOption) *Emitter {
	if store == nil {
		store = NewMemoryStore()
	}
	e := &Emitter{
		store: store,
		log:   zap.NewNop(),
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the backing store.
func (e *Emitter) Store() Store {
	return e.store
}

// Emit records a new alert for src. Recorded media sources keep their
// reference as the alert video; live camera sources have none.
//
// Sink failures are logged and do not fail the call.
func (e *Emitter) Emit(ctx context.Context, src string, confidence float64) (Alert, error) {
	a := Alert{
		ID:         e.newID(),
		Source:     src,
		Confidence: confidence,
		CreatedAt:  e.now().UTC(),
		Status:     StatusNew,
	}
	if ref, err := source.ParseRef(src); err == nil && ref.Scheme != source.SchemeCamera {
		a.HasVideo = true
		a.VideoURL = ref.Raw
	}

	if err := e.store.Append(ctx, a); err != nil {
		return Alert{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	for _, s := range e.sinks {
		if err := s.Deliver(ctx, a); err != nil {
			e.log.Warn("Alert delivery failed", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
	return a, nil
}

// Recent returns up to limit alerts, newest first.
func (e *Emitter) Recent(ctx context.Context, limit int) ([]Alert, error) {
	return e.store.List(ctx, limit)
}
