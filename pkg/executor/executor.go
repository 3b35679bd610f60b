// Package executor runs strategies for jobs in the background.
//
// Each started job gets its own goroutine. A bounded pool of worker slots
// limits how many strategies run at once; jobs waiting for a slot stay
// Pending and can be cancelled without ever running.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/strategy"
)

var (
	// ErrShutdown indicates the executor no longer accepts jobs.
	ErrShutdown = errors.New("executor is shut down")

	// ErrStrategyPanic wraps a panic recovered from a strategy.
	ErrStrategyPanic = errors.New("strategy panicked")
)

// Config configures the executor.
type Config struct {
	// Workers bounds the number of strategies running concurrently.
	// Default: 4
	Workers int

	// JobTimeout cancels jobs that run longer than this. Zero disables it.
	JobTimeout time.Duration
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{Workers: 4}
}

// Observer is notified when a job goroutine picks a job up, when the job
// starts running and when it reaches a terminal state. Calls come from the
// job goroutine, in that order.
type Observer interface {
	// JobAccepted is called before the job waits for a worker slot.
	JobAccepted(j job.Job)
	JobStarted(j job.Job)
	JobFinished(j job.Job)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides the time source used for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// run is the executor-side bookkeeping of one started job.
//
// mu orders the three places that decide the job's fate: the Pending ->
// Running edge, a cancel request and the final outcome.
type run struct {
	handle *job.Handle
	cancel context.CancelFunc

	mu              sync.Mutex
	cancelRequested bool
}

// Executor runs strategies against job handles.
type Executor struct {
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
	observers []Observer

	sem chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
	wg     sync.WaitGroup
}

// New creates an executor.
func New(cfg Config, opts ...Option) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		cfg:        cfg,
		log:        zap.NewNop(),
		now:        time.Now,
		sem:        make(chan struct{}, cfg.Workers),
		baseCtx:    ctx,
		baseCancel: cancel,
		runs:       make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start schedules s to run for h and returns immediately.
//
// Only pending handles are accepted; anything else is rejected with
// job.ErrAlreadyStarted and left untouched. A rejected handle is never
// marked Failed: its owner still controls it.
func (e *Executor) Start(h *job.Handle, s strategy.Strategy, in job.Input) error {
	if h == nil || s == nil {
		return errors.New("executor: handle and strategy are required")
	}
	if st := h.Status(); st != job.StatusPending {
		return fmt.Errorf("%w: job %s is %s", job.ErrAlreadyStarted, h.ID(), st)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrShutdown
	}
	if _, ok := e.runs[h.ID()]; ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: job %s", job.ErrAlreadyStarted, h.ID())
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	r := &run{handle: h, cancel: cancel}
	e.runs[h.ID()] = r
	e.wg.Add(1)
	e.mu.Unlock()

	go e.execute(ctx, r, s, in)
	return nil
}

// Cancel requests cancellation of a started job. A pending job becomes
// Cancelled immediately; a running job has its context cancelled and is
// recorded Cancelled once the strategy returns. It reports false for unknown
// and finished jobs.
func (e *Executor) Cancel(id string) bool {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.handle.Status() {
	case job.StatusPending:
		if err := r.handle.Cancel(e.now()); err != nil {
			return false
		}
	case job.StatusRunning:
	default:
		return false
	}
	r.cancelRequested = true
	r.cancel()
	return true
}

// Active returns the number of started jobs that have not finished.
func (e *Executor) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// Shutdown stops accepting jobs, cancels everything in flight and waits for
// job goroutines to exit or ctx to expire.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.baseCancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) execute(ctx context.Context, r *run, s strategy.Strategy, in job.Input) {
	defer e.wg.Done()
	defer e.forget(r)
	defer r.cancel()

	h := r.handle
	log := e.log.With(zap.String("job_id", h.ID()), zap.String("kind", string(h.Kind())))
	e.notifyAccepted(h.Snapshot())

	// Acquire a worker slot or give up on cancellation.
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		e.abandonPending(r)
		e.notifyFinished(h.Snapshot())
		return
	}
	defer func() { <-e.sem }()

	if !e.markRunning(r) {
		e.notifyFinished(h.Snapshot())
		return
	}
	snap := h.Snapshot()
	log.Debug("Job started", zap.String("strategy", snap.StrategyID))
	e.notifyStarted(snap)

	if e.cfg.JobTimeout > 0 {
		watchdog := time.AfterFunc(e.cfg.JobTimeout, func() {
			if e.Cancel(h.ID()) {
				log.Warn("Job exceeded timeout, cancelling", zap.Duration("timeout", e.cfg.JobTimeout))
			}
		})
		defer watchdog.Stop()
	}

	out, err := e.invoke(ctx, log, s, in, reporter{h: h})
	e.finish(ctx, r, snap.StrategyID, out, err)

	final := h.Snapshot()
	switch final.Status {
	case job.StatusFailed:
		log.Info("Job failed", zap.String("error", final.Error))
	default:
		log.Debug("Job finished", zap.String("status", string(final.Status)))
	}
	e.notifyFinished(final)
}

// abandonPending records Cancelled for a job that never got a worker slot.
func (e *Executor) abandonPending(r *run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handle.Status() == job.StatusPending {
		_ = r.handle.Cancel(e.now())
	}
}

func (e *Executor) markRunning(r *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelRequested {
		return false
	}
	return r.handle.MarkRunning(e.now()) == nil
}

// invoke runs the strategy, converting a panic into an error.
func (e *Executor) invoke(ctx context.Context, log *zap.Logger, s strategy.Strategy, in job.Input, rep strategy.Reporter) (out job.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("Strategy panicked", zap.Any("panic", p), zap.Stack("stack"))
			out = job.Outcome{}
			err = fmt.Errorf("%w: %v", ErrStrategyPanic, p)
		}
	}()
	return s.Run(ctx, in, rep)
}

// finish records the terminal state. A cancelled context wins over whatever
// the strategy returned, so a success reported after cancellation is
// discarded.
func (e *Executor) finish(ctx context.Context, r *run, strategyID string, out job.Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.handle
	now := e.now()

	if r.cancelRequested || ctx.Err() != nil {
		_ = h.Cancel(now)
		return
	}
	if err != nil {
		_ = h.Fail(&job.StrategyExecutionError{StrategyID: strategyID, Err: err}, now)
		return
	}
	if verr := out.Validate(); verr != nil {
		_ = h.Fail(&job.StrategyExecutionError{StrategyID: strategyID, Err: fmt.Errorf("invalid outcome: %w", verr)}, now)
		return
	}
	if out.Kind != h.Kind() {
		_ = h.Fail(&job.StrategyExecutionError{StrategyID: strategyID, Err: fmt.Errorf("outcome kind %s does not match job kind %s", out.Kind, h.Kind())}, now)
		return
	}
	_ = h.Complete(out, now)
}

func (e *Executor) forget(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runs[r.handle.ID()] == r {
		delete(e.runs, r.handle.ID())
	}
}

func (e *Executor) notifyAccepted(j job.Job) {
	for _, o := range e.observers {
		o.JobAccepted(j)
	}
}

func (e *Executor) notifyStarted(j job.Job) {
	for _, o := range e.observers {
		o.JobStarted(j)
	}
}

func (e *Executor) notifyFinished(j job.Job) {
	for _, o := range e.observers {
		o.JobFinished(j)
	}
}

// reporter folds strategy progress into the handle.
type reporter struct {
	h *job.Handle
}

func (r reporter) Progress(pct int) {
	r.h.ReportProgress(pct)
}

func (r reporter) Epoch(epoch, total int, loss float64) {
	r.h.ReportEpoch(epoch, total, loss)
}
