package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	apperrors "github.com/3leaps/vigil/internal/errors"
	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/jobregistry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage job history",
	Long: `Inspect job records written by 'vigil serve', 'vigil detect' and
'vigil train'.

Records live under <data dir>/jobs/<job_id>/job.json. Job ids may be
abbreviated to any unique prefix, so the short ids printed by 'jobs list'
can be passed back in.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded jobs, newest first",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show the recorded state of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old job records",
	RunE:  runJobsGC,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Cancel a job on a running server",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsGCCmd)
	jobsCmd.AddCommand(jobsCancelCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().String("kind", "", "Only jobs of this kind: detection or training")
	jobsListCmd.Flags().String("status", "", "Only jobs in this status")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsGCCmd.Flags().String("max-age", "168h", "Delete finished jobs older than this duration")
	jobsGCCmd.Flags().Bool("dry-run", false, "Show how many jobs would be deleted")
	jobsGCCmd.Flags().Bool("json", false, "Output as JSON")
	jobsCancelCmd.Flags().String("server", "http://localhost:8080", "Base URL of the vigil server")
}

func jobsStore(cmd *cobra.Command) (*jobregistry.Store, error) {
	cfg, err := loadConfig(cmd.Context(), nil)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return historyStore(cfg)
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	kindFlag, _ := cmd.Flags().GetString("kind")
	statusFlag, _ := cmd.Flags().GetString("status")

	var filter job.Filter
	if strings.TrimSpace(kindFlag) != "" {
		k, err := job.ParseKind(kindFlag)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --kind", err)
		}
		filter.Kind = k
	}
	if strings.TrimSpace(statusFlag) != "" {
		st, err := job.ParseStatus(statusFlag)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --status", err)
		}
		filter.Status = st
	}

	store, err := jobsStore(cmd)
	if err != nil {
		return err
	}
	recs, err := store.List(filter)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read job history", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if recs == nil {
			recs = []jobregistry.Record{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tKIND\tSTRATEGY\tSTATUS\tPROGRESS\tSTARTED\tENDED\tSOURCE")
	for _, r := range recs {
		j := r.Job
		src := j.Source
		if src == "" {
			src = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\t%s\t%s\n",
			shortJobID(j.ID),
			j.Kind,
			j.StrategyID,
			j.Status,
			j.Progress,
			formatOptionalTime(j.StartedAt),
			formatOptionalTime(j.EndedAt),
			src,
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := jobsStore(cmd)
	if err != nil {
		return err
	}
	id, err := resolveJobID(store, args[0])
	if err != nil {
		return err
	}
	rec, err := store.Get(id)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read job", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	j := rec.Job
	_, _ = fmt.Fprintf(out, "job_id=%s\n", j.ID)
	_, _ = fmt.Fprintf(out, "kind=%s\n", j.Kind)
	_, _ = fmt.Fprintf(out, "strategy=%s\n", j.StrategyID)
	_, _ = fmt.Fprintf(out, "status=%s\n", j.Status)
	_, _ = fmt.Fprintf(out, "progress=%d\n", j.Progress)
	if j.Source != "" {
		_, _ = fmt.Fprintf(out, "source=%s\n", j.Source)
	}
	if j.TotalEpochs > 0 {
		_, _ = fmt.Fprintf(out, "epoch=%d/%d\n", j.Epoch, j.TotalEpochs)
		_, _ = fmt.Fprintf(out, "loss=%.4f\n", j.Loss)
	}
	_, _ = fmt.Fprintf(out, "created_at=%s\n", j.CreatedAt.UTC().Format(time.RFC3339))
	if j.StartedAt != nil {
		_, _ = fmt.Fprintf(out, "started_at=%s\n", j.StartedAt.UTC().Format(time.RFC3339))
	}
	if j.EndedAt != nil {
		_, _ = fmt.Fprintf(out, "ended_at=%s\n", j.EndedAt.UTC().Format(time.RFC3339))
	}
	if r := j.Result; r != nil {
		switch {
		case r.Detection != nil:
			_, _ = fmt.Fprintf(out, "detected=%t\n", r.Detection.Detected)
			_, _ = fmt.Fprintf(out, "confidence=%.1f\n", r.Detection.Confidence)
		case r.Training != nil:
			_, _ = fmt.Fprintf(out, "accuracy=%.2f\n", r.Training.Accuracy)
		}
	}
	if j.Error != "" {
		_, _ = fmt.Fprintf(out, "error=%s\n", j.Error)
	}
	return nil
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	maxAge, err := time.ParseDuration(strings.TrimSpace(maxAgeStr))
	if err != nil || maxAge <= 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --max-age", fmt.Errorf("invalid --max-age %q", maxAgeStr))
	}

	store, err := jobsStore(cmd)
	if err != nil {
		return err
	}
	res, err := store.Prune(maxAge, dryRun)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to prune job history", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if dryRun {
		_, _ = fmt.Fprintf(out, "would_delete=%d\n", res.WouldDelete)
		return nil
	}
	_, _ = fmt.Fprintf(out, "deleted=%d\n", res.Deleted)
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	serverURL, _ := cmd.Flags().GetString("server")
	base, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --server", fmt.Errorf("invalid server URL %q", serverURL))
	}
	id := strings.TrimSpace(args[0])
	if id == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid job id", errors.New("job_id is required"))
	}

	target := base.JoinPath("v1", "jobs", id)
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete, target.String(), nil)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid request", err)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusAccepted {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cancelled=%s\n", id)
		return nil
	}

	msg := resp.Status
	var envelope apperrors.HTTPErrorResponse
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusConflict:
		return exitError(foundry.ExitInvalidArgument, "Cancel rejected", errors.New(msg))
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, "Cancel failed", errors.New(msg))
	}
}

// resolveJobID expands a short id prefix against the history store.
func resolveJobID(store *jobregistry.Store, input string) (string, error) {
	id, err := store.Resolve(input)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, job.ErrNotFound):
		return "", exitError(foundry.ExitFileNotFound, "Job not found", err)
	case errors.Is(err, jobregistry.ErrAmbiguousID):
		return "", exitError(foundry.ExitInvalidArgument, "Ambiguous job id", err)
	default:
		return "", exitError(foundry.ExitFileReadError, "Failed to resolve job id", err)
	}
}

func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= 12 {
		return jobID
	}
	return jobID[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
