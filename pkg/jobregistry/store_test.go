package jobregistry

import (
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/3leaps/vigil/pkg/job"
)

func finishedJob(id string, kind job.Kind, created time.Time, status job.Status) job.Job {
	ended := created.Add(time.Minute)
	return job.Job{
		ID:         id,
		Kind:       kind,
		StrategyID: "violence",
		Status:     status,
		CreatedAt:  created,
		StartedAt:  &created,
		EndedAt:    &ended,
	}
}

func TestStore_WriteGetRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	j := finishedJob("job-1", job.KindDetection, now, job.StatusCompleted)
	j.Progress = 100
	j.Result = &job.Outcome{Kind: job.KindDetection, Detection: &job.DetectionOutcome{Detected: true, Confidence: 87}}

	rec := &Record{Job: j, Input: &job.Input{Source: "camera:gate"}, RecordedAt: now, PID: os.Getpid()}
	if err := s.Write(rec); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Job.ID != "job-1" {
		t.Fatalf("job id mismatch: got=%q", got.Job.ID)
	}
	if got.Job.Status != job.StatusCompleted {
		t.Fatalf("status mismatch: got=%q", got.Job.Status)
	}
	if got.Job.Result == nil || got.Job.Result.Detection == nil || got.Job.Result.Detection.Confidence != 87 {
		t.Fatalf("result not persisted: %+v", got.Job.Result)
	}
	if got.Input == nil || got.Input.Source != "camera:gate" {
		t.Fatalf("input not persisted")
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Get("nope"); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_WriteRejectsBadIDs(t *testing.T) {
	s := NewStore(t.TempDir())
	for _, id := range []string{"", "..", "a/b"} {
		if err := s.Write(&Record{Job: job.Job{ID: id}}); err == nil {
			t.Fatalf("expected error for id %q", id)
		}
	}
}

func TestStore_ListSortsNewestFirstAndFilters(t *testing.T) {
	s := NewStore(t.TempDir())

	t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)
	t3 := time.Date(2026, 1, 19, 14, 0, 0, 0, time.UTC)

	for _, j := range []job.Job{
		finishedJob("job-1", job.KindDetection, t1, job.StatusCompleted),
		finishedJob("job-2", job.KindTraining, t2, job.StatusFailed),
		finishedJob("job-3", job.KindDetection, t3, job.StatusCancelled),
	} {
		if err := s.Write(&Record{Job: j}); err != nil {
			t.Fatalf("Write %s: %v", j.ID, err)
		}
	}

	got, err := s.List(job.Filter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("unexpected job count: %d", len(got))
	}
	if got[0].Job.ID != "job-3" || got[2].Job.ID != "job-1" {
		t.Fatalf("expected newest first, got %q..%q", got[0].Job.ID, got[2].Job.ID)
	}

	det, err := s.List(job.Filter{Kind: job.KindDetection})
	if err != nil {
		t.Fatalf("List(detection) error: %v", err)
	}
	if len(det) != 2 {
		t.Fatalf("expected 2 detection jobs, got %d", len(det))
	}
}

func TestStore_OrphanedJobBecomesFailed(t *testing.T) {
	s := NewStore(t.TempDir())

	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		Job: job.Job{ID: "job-1", Kind: job.KindTraining, Status: job.StatusRunning, CreatedAt: now, StartedAt: &now},
		PID: math.MaxInt32,
	}
	if err := s.Write(rec); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Job.Status != job.StatusFailed || got.Job.Error != OrphanedError {
		t.Fatalf("expected orphaned failure, got status=%q error=%q", got.Job.Status, got.Job.Error)
	}
	if got.Job.EndedAt == nil {
		t.Fatalf("orphaned job must have ended_at")
	}
}

func TestStore_Resolve(t *testing.T) {
	s := NewStore(t.TempDir())
	now := time.Now().UTC()
	for _, id := range []string{"abc123", "abd456"} {
		if err := s.Write(&Record{Job: finishedJob(id, job.KindDetection, now, job.StatusCompleted)}); err != nil {
			t.Fatalf("Write %s: %v", id, err)
		}
	}

	if id, err := s.Resolve("abc"); err != nil || id != "abc123" {
		t.Fatalf("Resolve(abc) = %q, %v", id, err)
	}
	if _, err := s.Resolve("ab"); !errors.Is(err, ErrAmbiguousID) {
		t.Fatalf("expected ambiguous error, got %v", err)
	}
	if _, err := s.Resolve("zzz"); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStore_Prune(t *testing.T) {
	s := NewStore(t.TempDir())
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	old := finishedJob("old", job.KindDetection, now.Add(-10*24*time.Hour), job.StatusCompleted)
	fresh := finishedJob("fresh", job.KindDetection, now.Add(-time.Hour), job.StatusFailed)
	running := job.Job{ID: "running", Kind: job.KindTraining, Status: job.StatusRunning, CreatedAt: now.Add(-30 * 24 * time.Hour)}

	for _, j := range []job.Job{old, fresh, running} {
		if err := s.Write(&Record{Job: j, PID: os.Getpid()}); err != nil {
			t.Fatalf("Write %s: %v", j.ID, err)
		}
	}

	dry, err := s.Prune(7*24*time.Hour, true)
	if err != nil {
		t.Fatalf("Prune(dry) error: %v", err)
	}
	if dry.WouldDelete != 1 || dry.Deleted != 0 {
		t.Fatalf("unexpected dry run result: %+v", dry)
	}

	res, err := s.Prune(7*24*time.Hour, false)
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("expected 1 deletion, got %+v", res)
	}
	if _, err := s.Get("old"); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("old record still present")
	}
	if _, err := s.Get("running"); err != nil {
		t.Fatalf("running record must be kept: %v", err)
	}

	if _, err := s.Prune(0, false); err == nil {
		t.Fatalf("expected error for zero max age")
	}
}

func TestRecorder_Record(t *testing.T) {
	s := NewStore(t.TempDir())
	r := NewRecorder(s, nil)

	j := finishedJob("job-9", job.KindTraining, time.Now().UTC(), job.StatusCompleted)
	r.Record(j, &job.Input{Epochs: 3})

	got, err := s.Get("job-9")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.PID != os.Getpid() || got.Input == nil || got.Input.Epochs != 3 {
		t.Fatalf("unexpected record: %+v", got)
	}
}
