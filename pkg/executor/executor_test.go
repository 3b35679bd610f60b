package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/strategy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

func newExecutor(t *testing.T, cfg Config, opts ...Option) *Executor {
	t.Helper()
	e := New(cfg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, e.Shutdown(ctx))
	})
	return e
}

func newHandle(id string, kind job.Kind) *job.Handle {
	return job.NewHandle(id, kind, "test", "camera:1", time.Now())
}

// waitTerminal blocks until h reaches a terminal state.
func waitTerminal(t *testing.T, h *job.Handle) job.Job {
	t.Helper()
	done := make(chan job.Job, 1)
	snap, stop := h.Watch(func(j job.Job) {
		if j.Terminal() {
			select {
			case done <- j:
			default:
			}
		}
	})
	defer stop()
	if snap.Terminal() {
		return snap
	}
	select {
	case j := <-done:
		return j
	case <-time.After(waitFor):
		t.Fatalf("job %s did not finish; status %s", h.ID(), h.Status())
		return job.Job{}
	}
}

// gate is a strategy that blocks until released or cancelled.
type gate struct {
	started chan struct{}
	release chan struct{}
	outcome job.Outcome
	err     error
	ignore  bool // keep running after cancellation
}

func newGate(o job.Outcome) *gate {
	return &gate{started: make(chan struct{}, 1), release: make(chan struct{}), outcome: o}
}

func (g *gate) Run(ctx context.Context, _ job.Input, r strategy.Reporter) (job.Outcome, error) {
	g.started <- struct{}{}
	r.Progress(10)
	if g.ignore {
		<-g.release
		return g.outcome, g.err
	}
	select {
	case <-g.release:
		return g.outcome, g.err
	case <-ctx.Done():
		return job.Outcome{}, ctx.Err()
	}
}

func detection(conf float64) job.Outcome {
	return job.NewDetectionOutcome(job.DetectionOutcome{Detected: conf > 50, Confidence: conf})
}

func TestStart_Completes(t *testing.T) {
	e := newExecutor(t, DefaultConfig())
	h := newHandle("j1", job.KindDetection)
	g := newGate(detection(85))

	require.NoError(t, e.Start(h, g, job.Input{}))
	<-g.started
	close(g.release)

	final := waitTerminal(t, h)
	assert.Equal(t, job.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.Result)
	assert.InDelta(t, 85, final.Result.Detection.Confidence, 1e-9)
	assert.NotNil(t, final.StartedAt)
}

func TestStart_RejectsNonPending(t *testing.T) {
	e := newExecutor(t, DefaultConfig())

	h := newHandle("j1", job.KindDetection)
	require.NoError(t, h.Cancel(time.Now()))
	before := h.Snapshot()
	err := e.Start(h, newGate(detection(1)), job.Input{})
	assert.ErrorIs(t, err, job.ErrAlreadyStarted)
	assert.Equal(t, before, h.Snapshot())

	h2 := newHandle("j2", job.KindDetection)
	g := newGate(detection(1))
	require.NoError(t, e.Start(h2, g, job.Input{}))
	<-g.started
	assert.ErrorIs(t, e.Start(h2, g, job.Input{}), job.ErrAlreadyStarted)
	assert.Equal(t, job.StatusRunning, h2.Status(), "a rejected restart leaves the running job alone")
	close(g.release)
	waitTerminal(t, h2)
}

func TestStart_StrategyErrorFails(t *testing.T) {
	e := newExecutor(t, DefaultConfig())
	h := newHandle("j1", job.KindDetection)
	g := newGate(job.Outcome{})
	g.err = errors.New("decoder crashed")

	require.NoError(t, e.Start(h, g, job.Input{}))
	<-g.started
	close(g.release)

	final := waitTerminal(t, h)
	assert.Equal(t, job.StatusFailed, final.Status)
	assert.Equal(t, "strategy test: decoder crashed", final.Error)
	assert.Nil(t, final.Result)
	assert.Equal(t, 10, final.Progress)
}

func TestStart_PanicIsRecovered(t *testing.T) {
	e := newExecutor(t, DefaultConfig())
	h := newHandle("j1", job.KindTraining)
	s := strategy.Func(func(context.Context, job.Input, strategy.Reporter) (job.Outcome, error) {
		panic("out of memory")
	})

	require.NoError(t, e.Start(h, s, job.Input{}))
	final := waitTerminal(t, h)
	assert.Equal(t, job.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "strategy panicked: out of memory")
}

func TestStart_InvalidOutcomeFails(t *testing.T) {
	e := newExecutor(t, DefaultConfig())

	tests := []struct {
		name string
		kind job.Kind
		out  job.Outcome
	}{
		{"out of range", job.KindDetection, detection(140)},
		{"kind mismatch", job.KindTraining, detection(40)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandle(tt.name, tt.kind)
			s := strategy.Func(func(context.Context, job.Input, strategy.Reporter) (job.Outcome, error) {
				return tt.out, nil
			})
			require.NoError(t, e.Start(h, s, job.Input{}))
			final := waitTerminal(t, h)
			assert.Equal(t, job.StatusFailed, final.Status)
			assert.Nil(t, final.Result)
		})
	}
}

func TestCancel_Running(t *testing.T) {
	e := newExecutor(t, DefaultConfig())
	h := newHandle("j1", job.KindDetection)
	g := newGate(detection(90))

	require.NoError(t, e.Start(h, g, job.Input{}))
	<-g.started

	assert.True(t, e.Cancel("j1"))
	final := waitTerminal(t, h)
	assert.Equal(t, job.StatusCancelled, final.Status)
	assert.Nil(t, final.Result)
	assert.Empty(t, final.Error)
	assert.False(t, e.Cancel("j1"), "finished jobs cannot be cancelled")
}

func TestCancel_SuccessAfterCancelIsDiscarded(t *testing.T) {
	e := newExecutor(t, DefaultConfig())
	h := newHandle("j1", job.KindDetection)
	g := newGate(detection(95))
	g.ignore = true

	require.NoError(t, e.Start(h, g, job.Input{}))
	<-g.started
	require.True(t, e.Cancel("j1"))
	close(g.release)

	final := waitTerminal(t, h)
	assert.Equal(t, job.StatusCancelled, final.Status)
	assert.Nil(t, final.Result)
}

func TestCancel_PendingNeverRuns(t *testing.T) {
	e := newExecutor(t, Config{Workers: 1})

	blocker := newHandle("blocker", job.KindTraining)
	g := newGate(job.NewTrainingOutcome(job.TrainingOutcome{Accuracy: 90}))
	require.NoError(t, e.Start(blocker, g, job.Input{}))
	<-g.started

	var ran atomic.Bool
	queued := newHandle("queued", job.KindTraining)
	never := strategy.Func(func(context.Context, job.Input, strategy.Reporter) (job.Outcome, error) {
		ran.Store(true)
		return job.NewTrainingOutcome(job.TrainingOutcome{}), nil
	})
	require.NoError(t, e.Start(queued, never, job.Input{}))
	assert.Equal(t, job.StatusPending, queued.Status())

	assert.True(t, e.Cancel("queued"))
	snap := queued.Snapshot()
	assert.Equal(t, job.StatusCancelled, snap.Status)
	assert.Nil(t, snap.StartedAt)

	close(g.release)
	assert.Equal(t, job.StatusCompleted, waitTerminal(t, blocker).Status)

	// Give the queued goroutine a chance to exit; the strategy must not run.
	require.Eventually(t, func() bool { return e.Active() == 0 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, job.StatusCancelled, queued.Status())
	assert.False(t, ran.Load())
}

func TestCancel_Unknown(t *testing.T) {
	e := newExecutor(t, DefaultConfig())
	assert.False(t, e.Cancel("missing"))
}

func TestJobTimeout(t *testing.T) {
	e := newExecutor(t, Config{Workers: 1, JobTimeout: 20 * time.Millisecond})
	h := newHandle("j1", job.KindDetection)
	g := newGate(detection(1))

	require.NoError(t, e.Start(h, g, job.Input{}))
	final := waitTerminal(t, h)
	assert.Equal(t, job.StatusCancelled, final.Status)
}

func TestWorkersBoundConcurrency(t *testing.T) {
	e := newExecutor(t, Config{Workers: 2})

	var mu sync.Mutex
	running, peak := 0, 0
	release := make(chan struct{})
	s := strategy.Func(func(ctx context.Context, _ job.Input, _ strategy.Reporter) (job.Outcome, error) {
		mu.Lock()
		running++
		peak = max(peak, running)
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return detection(10), nil
	})

	handles := make([]*job.Handle, 5)
	for i := range handles {
		handles[i] = newHandle(string(rune('a'+i)), job.KindDetection)
		require.NoError(t, e.Start(handles[i], s, job.Input{}))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return running == 2
	}, waitFor, 5*time.Millisecond)
	close(release)

	for _, h := range handles {
		assert.Equal(t, job.StatusCompleted, waitTerminal(t, h).Status)
	}
	assert.Equal(t, 2, peak)
}

func TestConcurrentJobsAreIndependent(t *testing.T) {
	e := newExecutor(t, Config{Workers: 8})

	ok := newGate(detection(60))
	bad := newGate(job.Outcome{})
	bad.err = errors.New("boom")
	slow := newGate(detection(20))

	hOK := newHandle("ok", job.KindDetection)
	hBad := newHandle("bad", job.KindDetection)
	hSlow := newHandle("slow", job.KindDetection)
	require.NoError(t, e.Start(hOK, ok, job.Input{}))
	require.NoError(t, e.Start(hBad, bad, job.Input{}))
	require.NoError(t, e.Start(hSlow, slow, job.Input{}))
	<-ok.started
	<-bad.started
	<-slow.started

	close(bad.release)
	assert.Equal(t, job.StatusFailed, waitTerminal(t, hBad).Status)
	assert.Equal(t, job.StatusRunning, hOK.Status())

	require.True(t, e.Cancel("slow"))
	close(ok.release)
	assert.Equal(t, job.StatusCompleted, waitTerminal(t, hOK).Status)
	assert.Equal(t, job.StatusCancelled, waitTerminal(t, hSlow).Status)
}

type countingObserver struct {
	mu       sync.Mutex
	accepted []string
	started  []string
	finished map[string]job.Status
}

func (o *countingObserver) JobAccepted(j job.Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accepted = append(o.accepted, j.ID)
}

func (o *countingObserver) JobStarted(j job.Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, j.ID)
}

func (o *countingObserver) JobFinished(j job.Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finished == nil {
		o.finished = make(map[string]job.Status)
	}
	o.finished[j.ID] = j.Status
}

func TestObserver(t *testing.T) {
	obs := &countingObserver{}
	e := newExecutor(t, Config{Workers: 1}, WithObserver(obs))

	g := newGate(detection(70))
	h1 := newHandle("first", job.KindDetection)
	h2 := newHandle("second", job.KindDetection)
	require.NoError(t, e.Start(h1, g, job.Input{}))
	<-g.started
	require.NoError(t, e.Start(h2, newGate(detection(1)), job.Input{}))
	require.True(t, e.Cancel("second"))
	close(g.release)
	waitTerminal(t, h1)

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.finished) == 2
	}, waitFor, 5*time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.ElementsMatch(t, []string{"first", "second"}, obs.accepted, "queued jobs are accepted before they get a slot")
	assert.Equal(t, []string{"first"}, obs.started)
	assert.Equal(t, job.StatusCompleted, obs.finished["first"])
	assert.Equal(t, job.StatusCancelled, obs.finished["second"])
}

func TestShutdown(t *testing.T) {
	e := New(Config{Workers: 1})
	h := newHandle("j1", job.KindDetection)
	queued := newHandle("j2", job.KindDetection)
	g := newGate(detection(1))
	require.NoError(t, e.Start(h, g, job.Input{}))
	require.NoError(t, e.Start(queued, newGate(detection(1)), job.Input{}))
	<-g.started

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	assert.Equal(t, job.StatusCancelled, h.Status())
	assert.Equal(t, job.StatusCancelled, queued.Status())
	assert.ErrorIs(t, e.Start(newHandle("j3", job.KindDetection), g, job.Input{}), ErrShutdown)
}
