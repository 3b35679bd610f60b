// Package orchestrator is the single entry point callers use to run
// detection and training work.
//
// It resolves strategies, tracks every submitted job in an in-memory table,
// hands jobs to the executor and turns finished jobs into side effects:
// alerts for confident detections, catalogue entries for trained models,
// history records and metrics.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/3leaps/vigil/pkg/alert"
	"github.com/3leaps/vigil/pkg/executor"
	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/jobregistry"
	"github.com/3leaps/vigil/pkg/model"
	"github.com/3leaps/vigil/pkg/strategy"
)

// Config configures an Orchestrator.
type Config struct {
	Executor executor.Config

	// AlertThreshold is the detection confidence an outcome must exceed to
	// raise an alert.
	// Default: 70
	AlertThreshold float64

	// IdempotencyTTL is how long an idempotency key keeps pointing at the
	// job it first created.
	// Default: 10m
	IdempotencyTTL time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Executor:       executor.DefaultConfig(),
		AlertThreshold: alert.DefaultThreshold,
		IdempotencyTTL: 10 * time.Minute,
	}
}

// Metrics receives job and alert counts. Implementations must be safe for
// concurrent use.
type Metrics interface {
	JobSubmitted(kind job.Kind, strategyID string)
	JobStarted(kind job.Kind)
	// started reports whether the job ever ran.
	JobFinished(kind job.Kind, status job.Status, started bool)
	AlertEmitted()
}

type nopMetrics struct{}

func (nopMetrics) JobSubmitted(job.Kind, string) {}
func (nopMetrics) JobStarted(job.Kind) {}
func (nopMetrics) JobFinished(job.Kind, job.Status, bool) {}
func (nopMetrics) AlertEmitted() {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithEmitter sets the alert emitter. Without one alerts go to an in-memory
// store.
func WithEmitter(e *alert.Emitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithRecorder persists job snapshots as they change state.
func WithRecorder(r *jobregistry.Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithModels registers the model produced by every completed training job
// in st.
func WithModels(st model.Store) Option {
	return func(o *Orchestrator) {
		o.models = st
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// SubmitOptions tune a single submission.
type SubmitOptions struct {
	// IdempotencyKey makes repeated submissions with the same key return the
	// job created by the first one while the key is remembered.
	IdempotencyKey string
}

// entry is the table row for one submitted job.
type entry struct {
	handle *job.Handle
	input  job.Input

	// settled is closed once every side effect of the terminal state has
	// run. alert is set before that when the job raised one.
	settled    chan struct{}
	settleOnce sync.Once
	alert      *alert.Alert
	model      *model.Model
}

// Orchestrator coordinates the registry, the executor and the alert emitter.
type Orchestrator struct {
	cfg      Config
	registry *strategy.Registry
	exec     *executor.Executor
	emitter  *alert.Emitter
	recorder *jobregistry.Recorder
	models   model.Store
	metrics  Metrics
	log      *zap.Logger
	now      func() time.Time
	newID    func() string

	idem   *cache.Cache
	idemMu sync.Mutex

	mu   sync.RWMutex
	jobs map[string]*entry

	subs sync.WaitGroup
}

// New creates an orchestrator that resolves strategies from reg.
func New(reg *strategy.Registry, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = def.AlertThreshold
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}

	o := &Orchestrator{
		cfg:      cfg,
		registry: reg,
		metrics:  nopMetrics{},
		log:      zap.NewNop(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		// No janitor goroutine. Keyed submits purge expired keys.
		idem: cache.New(cfg.IdempotencyTTL, 0),
		jobs: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.emitter == nil {
		o.emitter = alert.NewEmitter(nil, alert.WithEmitterLogger(o.log))
	}

	o.exec = executor.New(cfg.Executor,
		executor.WithLogger(o.log),
		executor.WithClock(o.now),
		executor.WithObserver(observer{o}),
	)
	return o
}

// Emitter returns the alert emitter.
func (o *Orchestrator) Emitter() *alert.Emitter {
	return o.emitter
}

// Submit creates a job for the strategy kind/id and starts it in the
// background. It returns the new job id without waiting for any work.
func (o *Orchestrator) Submit(ctx context.Context, kind job.Kind, strategyID string, in job.Input) (string, error) {
	return o.SubmitWithOptions(ctx, kind, strategyID, in, SubmitOptions{})
}

// SubmitWithOptions is Submit with per-call options.
func (o *Orchestrator) SubmitWithOptions(ctx context.Context, kind job.Kind, strategyID string, in job.Input, opts SubmitOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	strategyID = strings.TrimSpace(strategyID)

	// Resolve before anything is created so unknown strategies leave no trace.
	s, err := o.registry.Resolve(kind, strategyID)
	if err != nil {
		return "", err
	}
	if err := in.Validate(); err != nil {
		return "", err
	}

	key := strings.TrimSpace(opts.IdempotencyKey)
	if key == "" {
		return o.start(kind, strategyID, s, in)
	}

	o.idemMu.Lock()
	defer o.idemMu.Unlock()

	o.idem.DeleteExpired()
	if v, ok := o.idem.Get(key); ok {
		id := v.(string)
		o.log.Debug("Idempotent submit reused job", zap.String("job_id", id), zap.String("key", key))
		return id, nil
	}
	id, err := o.start(kind, strategyID, s, in)
	if err != nil {
		return "", err
	}
	o.idem.SetDefault(key, id)
	return id, nil
}

func (o *Orchestrator) start(kind job.Kind, strategyID string, s strategy.Strategy, in job.Input) (string, error) {
	id := o.newID()
	h := job.NewHandle(id, kind, strategyID, in.Source, o.now().UTC())
	e := &entry{handle: h, input: in, settled: make(chan struct{})}

	o.mu.Lock()
	o.jobs[id] = e
	o.mu.Unlock()

	// The job goroutine writes the Pending record (observer.JobAccepted).
	if err := o.exec.Start(h, s, in); err != nil {
		o.mu.Lock()
		delete(o.jobs, id)
		o.mu.Unlock()
		_ = h.Cancel(o.now())
		return "", fmt.Errorf("start job: %w", err)
	}

	o.metrics.JobSubmitted(kind, strategyID)
	o.log.Info("Job submitted",
		zap.String("job_id", id),
		zap.String("kind", string(kind)),
		zap.String("strategy", strategyID),
		zap.String("source", in.Source),
	)
	return id, nil
}

// GetJob returns a snapshot of the job.
func (o *Orchestrator) GetJob(id string) (job.Job, bool) {
	e, ok := o.lookup(id)
	if !ok {
		return job.Job{}, false
	}
	return e.handle.Snapshot(), true
}

// JobAlert returns the alert raised by a finished job, if any.
func (o *Orchestrator) JobAlert(id string) (alert.Alert, bool) {
	e, ok := o.lookup(id)
	if !ok {
		return alert.Alert{}, false
	}
	select {
	case <-e.settled:
	default:
		return alert.Alert{}, false
	}
	if e.alert == nil {
		return alert.Alert{}, false
	}
	return *e.alert, true
}

// JobModel returns the catalogue entry a finished training job registered,
// if any.
func (o *Orchestrator) JobModel(id string) (model.Model, bool) {
	e, ok := o.lookup(id)
	if !ok {
		return model.Model{}, false
	}
	select {
	case <-e.settled:
	default:
		return model.Model{}, false
	}
	if e.model == nil {
		return model.Model{}, false
	}
	return *e.model, true
}

// Wait blocks until the job is terminal and its side effects have run, or
// ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (job.Job, error) {
	e, ok := o.lookup(id)
	if !ok {
		return job.Job{}, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	select {
	case <-e.settled:
		return e.handle.Snapshot(), nil
	case <-ctx.Done():
		return e.handle.Snapshot(), ctx.Err()
	}
}

// Cancel requests cancellation. It reports false for unknown and finished
// jobs.
func (o *Orchestrator) Cancel(id string) bool {
	if _, ok := o.lookup(id); !ok {
		return false
	}
	ok := o.exec.Cancel(id)
	if ok {
		o.log.Info("Job cancellation requested", zap.String("job_id", id))
	}
	return ok
}

// ListStrategies returns the strategies registered for kind in registration
// order.
func (o *Orchestrator) ListStrategies(kind job.Kind) []strategy.Info {
	return o.registry.List(kind)
}

// ListJobs returns snapshots of the jobs matching f, newest first.
func (o *Orchestrator) ListJobs(f job.Filter) []job.Job {
	o.mu.RLock()
	out := make([]job.Job, 0, len(o.jobs))
	for _, e := range o.jobs {
		if j := e.handle.Snapshot(); f.Match(j) {
			out = append(out, j)
		}
	}
	o.mu.RUnlock()

	job.SortNewestFirst(out)
	return out
}

// Shutdown cancels all in-flight jobs and waits for them and for
// subscription dispatchers to finish.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if err := o.exec.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		o.subs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) lookup(id string) (*entry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.jobs[id]
	return e, ok
}

func (o *Orchestrator) record(e *entry, j job.Job) {
	if o.recorder == nil {
		return
	}
	in := e.input
	o.recorder.Record(j, &in)
}

// settle runs the side effects of a terminal job exactly once.
func (o *Orchestrator) settle(e *entry, j job.Job) {
	e.settleOnce.Do(func() {
		defer close(e.settled)

		o.metrics.JobFinished(j.Kind, j.Status, j.StartedAt != nil)
		o.record(e, j)
		o.registerModel(e, j)

		if !o.shouldAlert(j) {
			return
		}
		conf := j.Result.Detection.Confidence
		a, err := o.emitter.Emit(context.Background(), j.Source, conf)
		if err != nil {
			o.log.Error("Failed to emit alert",
				zap.String("job_id", j.ID),
				zap.Float64("confidence", conf),
				zap.Error(err),
			)
			return
		}
		e.alert = &a
		o.metrics.AlertEmitted()
		o.log.Info("Alert emitted",
			zap.String("job_id", j.ID),
			zap.String("alert_id", a.ID),
			zap.Float64("confidence", conf),
		)
	})
}

// ModelNameOption is the job input option naming the trained model.
const ModelNameOption = "model_name"

// registerModel adds the model a completed training job produced to the
// catalogue. Without an explicit name the strategy's display name is used.
func (o *Orchestrator) registerModel(e *entry, j job.Job) {
	if o.models == nil || j.Kind != job.KindTraining || j.Status != job.StatusCompleted {
		return
	}
	name := strings.TrimSpace(e.input.Options[ModelNameOption])
	if name == "" {
		if info, err := o.registry.Info(j.Kind, j.StrategyID); err == nil && info.Name != "" {
			name = fmt.Sprintf("%s %s", info.Name, o.now().UTC().Format("2006-01-02 15:04"))
		}
	}
	m, err := model.FromTraining(j, name, o.now())
	if err != nil {
		o.log.Error("Failed to build model from training job", zap.String("job_id", j.ID), zap.Error(err))
		return
	}
	if err := o.models.Add(context.Background(), m); err != nil {
		o.log.Error("Failed to register trained model",
			zap.String("job_id", j.ID),
			zap.String("model_id", m.ID),
			zap.Error(err),
		)
		return
	}
	e.model = &m
	o.log.Info("Model registered",
		zap.String("job_id", j.ID),
		zap.String("model_id", m.ID),
		zap.Float64("accuracy", m.Accuracy),
	)
}

func (o *Orchestrator) shouldAlert(j job.Job) bool {
	if j.Kind != job.KindDetection || j.Status != job.StatusCompleted {
		return false
	}
	if j.Result == nil || j.Result.Detection == nil {
		return false
	}
	d := j.Result.Detection
	return d.Detected && d.Confidence > o.cfg.AlertThreshold
}

// observer receives executor callbacks on the job goroutine.
type observer struct {
	o *Orchestrator
}

func (ob observer) JobAccepted(j job.Job) {
	if e, ok := ob.o.lookup(j.ID); ok {
		ob.o.record(e, j)
	}
}

func (ob observer) JobStarted(j job.Job) {
	ob.o.metrics.JobStarted(j.Kind)
	if e, ok := ob.o.lookup(j.ID); ok {
		ob.o.record(e, j)
	}
}

func (ob observer) JobFinished(j job.Job) {
	e, ok := ob.o.lookup(j.ID)
	if !ok {
		return
	}
	ob.o.settle(e, j)
}

var _ executor.Observer = observer{}
