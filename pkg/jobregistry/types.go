// Package jobregistry keeps an on-disk history of jobs so they can be
// inspected after the serving process exits.
package jobregistry

import (
	"time"

	"github.com/3leaps/vigil/pkg/job"
)

// OrphanedError is recorded on jobs whose owning process died before the job
// reached a terminal state.
const OrphanedError = "orphaned: owning process exited before the job finished"

// Record is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type Record struct {
	Job   job.Job    `json:"job"`
	Input *job.Input `json:"input,omitempty"`

	RecordedAt time.Time `json:"recorded_at"`
	Host       string    `json:"host,omitempty"`
	PID        int       `json:"pid,omitempty"`
}

// ID returns the job id.
func (r Record) ID() string {
	return r.Job.ID
}
