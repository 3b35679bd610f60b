package job

import (
	"errors"
	"math"
	"strings"
	"sync"
	"time"
)

// transitions lists every allowed state change. Terminal states have no
// outgoing edges.
var transitions = map[Status]map[Status]bool{
	StatusPending: {StatusRunning: true, StatusCancelled: true},
	StatusRunning: {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Listener receives a snapshot after every observable change to a job.
//
// Listeners run with the handle lock held: they must not block and must not
// call back into the handle.
type Listener func(Job)

// Handle is the tracked, mutable state of one job.
//
// The executor running the job is its only writer; the one exception is the
// Pending -> Cancelled edge, which any caller may take. Readers get copies via
// Snapshot.
type Handle struct {
	id   string
	kind Kind

	mu        sync.Mutex
	job       Job
	listeners map[uint64]Listener
	nextWatch uint64
}

// NewHandle creates a pending job.
func NewHandle(id string, kind Kind, strategyID, source string, createdAt time.Time) *Handle {
	return &Handle{
		id:   id,
		kind: kind,
		job: Job{
			ID:         id,
			Kind:       kind,
			StrategyID: strategyID,
			Source:     source,
			Status:     StatusPending,
			CreatedAt:  createdAt.UTC(),
		},
		listeners: make(map[uint64]Listener),
	}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Kind() Kind { return h.kind }

// Snapshot returns a copy of the current job state.
func (h *Handle) Snapshot() Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.clone()
}

// Status returns the current status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.Status
}

// Watch registers l and returns the state it was registered against. Every
// later change is delivered to l in order. The returned func unregisters.
func (h *Handle) Watch(l Listener) (Job, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextWatch++
	key := h.nextWatch
	h.listeners[key] = l

	return h.job.clone(), func() {
		h.mu.Lock()
		delete(h.listeners, key)
		h.mu.Unlock()
	}
}

// MarkRunning moves a pending job to running.
func (h *Handle) MarkRunning(now time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.transitionLocked(StatusRunning); err != nil {
		return err
	}
	t := now.UTC()
	h.job.StartedAt = &t
	h.notifyLocked()
	return nil
}

// ReportProgress raises progress to pct. Values that would move progress
// backwards are ignored, and 100 is reserved for completion so running jobs
// are capped at 99. It reports whether the visible state changed.
func (h *Handle) ReportProgress(pct int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.job.Status != StatusRunning {
		return false
	}
	if !h.raiseProgressLocked(pct) {
		return false
	}
	h.notifyLocked()
	return true
}

// ReportEpoch folds a finished training epoch into the job:
// progress = round(100 * epoch / total).
func (h *Handle) ReportEpoch(epoch, total int, loss float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.job.Status != StatusRunning || total <= 0 || epoch < h.job.Epoch {
		return false
	}
	if epoch > total {
		epoch = total
	}

	changed := epoch != h.job.Epoch || total != h.job.TotalEpochs || loss != h.job.Loss
	h.job.Epoch = epoch
	h.job.TotalEpochs = total
	h.job.Loss = loss

	pct := int(math.Round(100 * float64(epoch) / float64(total)))
	if h.raiseProgressLocked(pct) {
		changed = true
	}
	if changed {
		h.notifyLocked()
	}
	return changed
}

// Complete records a successful outcome.
func (h *Handle) Complete(o Outcome, now time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	r := o.Clone()
	h.job.Result = &r
	h.job.Progress = 100
	h.endLocked(now)
	return nil
}

// Fail records a failure. The reason is stored as text on the job.
func (h *Handle) Fail(reason error, now time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.transitionLocked(StatusFailed); err != nil {
		return err
	}
	msg := "unknown error"
	if reason != nil && strings.TrimSpace(reason.Error()) != "" {
		msg = reason.Error()
	}
	h.job.Error = msg
	h.endLocked(now)
	return nil
}

// Cancel moves a pending or running job to cancelled.
func (h *Handle) Cancel(now time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.transitionLocked(StatusCancelled); err != nil {
		return err
	}
	h.endLocked(now)
	return nil
}

// IsTransitionError reports whether err was caused by a rejected state change.
func IsTransitionError(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func (h *Handle) transitionLocked(to Status) error {
	if !CanTransition(h.job.Status, to) {
		return &TransitionError{JobID: h.id, From: h.job.Status, To: to}
	}
	h.job.Status = to
	return nil
}

func (h *Handle) raiseProgressLocked(pct int) bool {
	if pct > 99 {
		pct = 99
	}
	if pct <= h.job.Progress {
		return false
	}
	h.job.Progress = pct
	return true
}

func (h *Handle) endLocked(now time.Time) {
	t := now.UTC()
	h.job.EndedAt = &t
	h.notifyLocked()
}

func (h *Handle) notifyLocked() {
	for _, l := range h.listeners {
		l(h.job.clone())
	}
}
