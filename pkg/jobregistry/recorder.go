package jobregistry

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/vigil/pkg/job"
)

// Recorder writes job snapshots to a Store on behalf of a running engine.
// Write failures are logged; history is best effort and never fails a job.
type Recorder struct {
	store *Store
	log   *zap.Logger
	host  string
	pid   int
}

// NewRecorder creates a recorder for store.
func NewRecorder(store *Store, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	host, _ := os.Hostname()
	return &Recorder{store: store, log: log, host: host, pid: os.Getpid()}
}

// Store returns the underlying store.
func (r *Recorder) Store() *Store {
	return r.store
}

// Record persists j together with the input it was submitted with.
func (r *Recorder) Record(j job.Job, in *job.Input) {
	rec := &Record{
		Job:        j,
		Input:      in,
		RecordedAt: time.Now().UTC(),
		Host:       r.host,
		PID:        r.pid,
	}
	if err := r.store.Write(rec); err != nil {
		r.log.Warn("Failed to record job history", zap.String("job_id", j.ID), zap.Error(err))
	}
}
