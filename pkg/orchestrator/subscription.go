package orchestrator

import (
	"fmt"
	"sync"

	"github.com/3leaps/vigil/pkg/job"
)

// Subscription delivers the changes of one job to a pair of callbacks.
//
// Callbacks run one at a time on a dispatcher goroutine owned by the
// subscription, in the order the changes happened. onTerminal is called
// exactly once, after the job's side effects (alerts, history) have run,
// and the dispatcher exits after it.
type Subscription struct {
	jobID      string
	onUpdate   func(job.Job)
	onTerminal func(job.Job)
	settled    <-chan struct{}

	unwatch     func()
	unwatchOnce sync.Once

	mu    sync.Mutex
	queue []job.Job
	wake  chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Subscribe registers callbacks for job id. The current state is delivered
// first: to onUpdate for a live job, to onTerminal for a finished one. Either
// callback may be nil.
//
// Unknown ids return job.ErrNotFound.
func (o *Orchestrator) Subscribe(id string, onUpdate, onTerminal func(job.Job)) (*Subscription, error) {
	e, ok := o.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}

	s := &Subscription{
		jobID:      id,
		onUpdate:   onUpdate,
		onTerminal: onTerminal,
		settled:    e.settled,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	cur, unwatch := e.handle.Watch(s.push)
	s.unwatch = unwatch

	// Changes made after Watch returned may already be queued; the
	// registration snapshot goes in front of them.
	s.mu.Lock()
	s.queue = append([]job.Job{cur}, s.queue...)
	s.mu.Unlock()

	o.subs.Add(1)
	go func() {
		defer o.subs.Done()
		s.dispatch()
	}()
	return s, nil
}

// JobID returns the id of the subscribed job.
func (s *Subscription) JobID() string {
	return s.jobID
}

// Done is closed when the dispatcher has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel stops delivery. The job itself is not affected. Safe to call more
// than once and from inside a callback.
func (s *Subscription) Cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.release()
}

// push runs under the job handle lock and must not block.
func (s *Subscription) push(j job.Job) {
	s.mu.Lock()
	s.queue = append(s.queue, j)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) release() {
	s.unwatchOnce.Do(func() {
		if s.unwatch != nil {
			s.unwatch()
		}
	})
}

func (s *Subscription) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Subscription) dispatch() {
	defer close(s.done)
	defer s.release()

	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, j := range batch {
			if s.stopped() {
				return
			}
			if j.Terminal() {
				s.deliverTerminal(j)
				return
			}
			if s.onUpdate != nil {
				s.onUpdate(j)
			}
		}

		select {
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}

func (s *Subscription) deliverTerminal(j job.Job) {
	select {
	case <-s.settled:
	case <-s.stop:
		return
	}
	if s.onTerminal != nil {
		s.onTerminal(j)
	}
}
