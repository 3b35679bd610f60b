package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/vigil/pkg/alert"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Review recorded alerts",
	Long: `Review alerts raised by high-confidence detections.

Alerts are only kept between runs with the SQLite store
(alerts.store: sqlite, or VIGIL_ALERT_STORE=sqlite).`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAlertsList,
}

var alertsReviewCmd = &cobra.Command{
	Use:   "review <alert_id>",
	Short: "Mark an alert as reviewed",
	Args:  cobra.ExactArgs(1),
	RunE:  alertStatusRunner(alert.StatusReviewed),
}

var alertsDismissCmd = &cobra.Command{
	Use:   "dismiss <alert_id>",
	Short: "Mark an alert as dismissed",
	Args:  cobra.ExactArgs(1),
	RunE:  alertStatusRunner(alert.StatusDismissed),
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsReviewCmd)
	alertsCmd.AddCommand(alertsDismissCmd)

	alertsListCmd.Flags().Int("limit", 50, "Maximum alerts to show (0 = all)")
	alertsListCmd.Flags().Bool("json", false, "Output as JSON")
}

func openCLIAlertStore(cmd *cobra.Command) (*alert.SQLiteStore, error) {
	cfg, err := loadConfig(cmd.Context(), nil)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	st, err := openAlertStore(cmd.Context(), cfg)
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to open alert store", err)
	}
	return st, nil
}

func runAlertsList(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if limit < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --limit", errors.New("--limit must be >= 0"))
	}

	st, err := openCLIAlertStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	alerts, err := st.List(cmd.Context(), limit)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list alerts", err)
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(alerts)
	}
	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No alerts found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ALERT ID\tCREATED\tCONFIDENCE\tSTATUS\tSOURCE")
	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\t%s\n",
			shortJobID(a.ID),
			a.CreatedAt.UTC().Format(time.RFC3339),
			a.Confidence,
			a.Status,
			a.Source,
		)
	}
	return nil
}

func alertStatusRunner(status alert.Status) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id := strings.TrimSpace(args[0])
		if id == "" {
			return exitError(foundry.ExitInvalidArgument, "Invalid alert id", errors.New("alert_id is required"))
		}

		st, err := openCLIAlertStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		a, err := st.UpdateStatus(cmd.Context(), id, status)
		if err != nil {
			if errors.Is(err, alert.ErrAlertNotFound) {
				return exitError(foundry.ExitFileNotFound, "Alert not found", err)
			}
			return exitError(foundry.ExitFileWriteError, "Failed to update alert", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "alert_id=%s\nstatus=%s\n", a.ID, a.Status)
		return nil
	}
}
