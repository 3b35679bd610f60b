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

	"github.com/3leaps/vigil/pkg/model"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the model catalogue",
	Long: `List detection models and switch them between active and inactive.

Every completed training job adds its model to the catalogue. The catalogue
is only kept between runs with the SQLite store (models.store: sqlite, or
VIGIL_MODEL_STORE=sqlite).`,
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List models in registration order",
	Args:  cobra.NoArgs,
	RunE:  runModelsList,
}

var modelsActivateCmd = &cobra.Command{
	Use:   "activate <model_id>",
	Short: "Mark a model as active",
	Args:  cobra.ExactArgs(1),
	RunE:  modelStatusRunner(model.StatusActive),
}

var modelsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <model_id>",
	Short: "Mark a model as inactive",
	Args:  cobra.ExactArgs(1),
	RunE:  modelStatusRunner(model.StatusInactive),
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsActivateCmd)
	modelsCmd.AddCommand(modelsDeactivateCmd)

	modelsListCmd.Flags().Bool("active", false, "Only active models")
	modelsListCmd.Flags().String("type", "", "Only models of this type (violence, movement, ...)")
	modelsListCmd.Flags().Bool("json", false, "Output as JSON")
}

func openCLIModelStore(cmd *cobra.Command) (*model.SQLiteStore, error) {
	cfg, err := loadConfig(cmd.Context(), nil)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	st, err := openModelStore(cmd.Context(), cfg)
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to open model store", err)
	}
	return st, nil
}

func runModelsList(cmd *cobra.Command, _ []string) error {
	activeOnly, _ := cmd.Flags().GetBool("active")
	typ, _ := cmd.Flags().GetString("type")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	st, err := openCLIModelStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	models, err := st.List(cmd.Context())
	if activeOnly {
		models, err = model.Active(cmd.Context(), st, typ)
	}
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list models", err)
	}
	if typ = strings.TrimSpace(typ); typ != "" && !activeOnly {
		filtered := models[:0]
		for _, m := range models {
			if m.Type == typ {
				filtered = append(filtered, m)
			}
		}
		models = filtered
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}
	if len(models) == 0 {
		_, _ = fmt.Fprintln(out, "No models found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "MODEL ID\tNAME\tTYPE\tACCURACY\tSTATUS\tSIZE\tCREATED")
	for _, m := range models {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.1f%%\t%s\t%dMB\t%s\n",
			m.ID, m.Name, m.Type, m.Accuracy, m.Status, m.SizeMB,
			m.CreatedAt.UTC().Format(time.DateOnly),
		)
	}
	return nil
}

func modelStatusRunner(status model.Status) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id := strings.TrimSpace(args[0])
		if id == "" {
			return exitError(foundry.ExitInvalidArgument, "Invalid model id", errors.New("model_id is required"))
		}

		st, err := openCLIModelStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		m, err := st.UpdateStatus(cmd.Context(), id, status)
		if err != nil {
			if errors.Is(err, model.ErrModelNotFound) {
				return exitError(foundry.ExitFileNotFound, "Model not found", err)
			}
			return exitError(foundry.ExitFileWriteError, "Failed to update model", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "model_id=%s\nstatus=%s\n", m.ID, m.Status)
		return nil
	}
}
