package jobregistry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/3leaps/vigil/pkg/job"
)

// ErrAmbiguousID indicates a short id prefix matched more than one record.
var ErrAmbiguousID = errors.New("job id prefix is ambiguous")

// Store persists and loads Records from an on-disk directory.
//
// Directory layout:
//
//	<root>/<job_id>/job.json
//
// Root is expected to be under the app data dir.
type Store struct {
	root string
	now  func() time.Time
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root), now: time.Now}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) JobPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "job.json")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("job registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Write atomically replaces the record for rec.Job.ID.
func (s *Store) Write(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("job record is nil")
	}
	jobID := strings.TrimSpace(rec.Job.ID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	if strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	jobDir := s.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(jobDir, "job.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", err)
	}

	if err := os.Rename(tmpName, s.JobPath(jobID)); err != nil {
		return fmt.Errorf("rename job file: %w", err)
	}
	return nil
}

// Get loads one record. Non-terminal records whose owning process is gone
// are rewritten as failed.
func (s *Store) Get(jobID string) (*Record, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	b, err := os.ReadFile(s.JobPath(jobID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", job.ErrNotFound, jobID)
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("job.json is empty")
	}

	var rec Record
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return nil, fmt.Errorf("parse job.json: %w", err)
	}

	if !rec.Job.Terminal() && rec.PID > 0 && rec.PID != os.Getpid() && sameHost(rec.Host) {
		if !isProcessAlive(rec.PID) {
			now := s.now().UTC()
			rec.Job.Status = job.StatusFailed
			rec.Job.Error = OrphanedError
			rec.Job.EndedAt = &now
			rec.RecordedAt = now
			_ = s.Write(&rec)
		}
	}

	return &rec, nil
}

// List returns records matching f, newest first.
func (s *Store) List(f job.Filter) ([]Record, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs root: %w", err)
	}

	byID := make(map[string]Record, len(entries))
	jobs := make([]job.Job, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		if !f.Match(r.Job) {
			continue
		}
		byID[r.Job.ID] = *r
		jobs = append(jobs, r.Job)
	}

	job.SortNewestFirst(jobs)
	out := make([]Record, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, byID[j.ID])
	}
	return out, nil
}

// Resolve expands a unique id prefix to a full job id.
func (s *Store) Resolve(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("job id is required")
	}

	// Exact match first.
	if _, err := os.Stat(s.JobPath(input)); err == nil {
		return input, nil
	}

	// Prefix match (allows table-friendly short IDs).
	recs, err := s.List(job.Filter{})
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, r := range recs {
		if strings.HasPrefix(r.Job.ID, input) {
			matches = append(matches, r.Job.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", job.ErrNotFound, input)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d jobs", ErrAmbiguousID, input, len(matches))
	}
}

// PruneResult summarizes a Prune call.
type PruneResult struct {
	Deleted     int  `json:"deleted"`
	WouldDelete int  `json:"would_delete"`
	DryRun      bool `json:"dry_run"`
}

// Prune removes terminal records that ended more than maxAge ago.
func (s *Store) Prune(maxAge time.Duration, dryRun bool) (PruneResult, error) {
	res := PruneResult{DryRun: dryRun}
	if maxAge <= 0 {
		return res, fmt.Errorf("max age must be > 0")
	}

	recs, err := s.List(job.Filter{})
	if err != nil {
		return res, err
	}

	now := s.now().UTC()
	for _, r := range recs {
		// Only prune terminal states.
		if !r.Job.Terminal() || r.Job.EndedAt == nil {
			continue
		}
		if now.Sub(r.Job.EndedAt.UTC()) <= maxAge {
			continue
		}
		if dryRun {
			res.WouldDelete++
			continue
		}
		if err := os.RemoveAll(s.JobDir(r.Job.ID)); err != nil {
			return res, fmt.Errorf("remove job dir: %w", err)
		}
		res.Deleted++
	}
	return res, nil
}

func sameHost(host string) bool {
	if host == "" {
		return true
	}
	h, err := os.Hostname()
	return err == nil && h == host
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 is supported on unix; it checks for existence without sending a signal.
	if err := p.Signal(os.Signal(syscall.Signal(0))); err != nil {
		return false
	}
	return true
}
