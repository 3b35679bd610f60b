package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/sample"
	"github.com/3leaps/vigil/pkg/source"
	"github.com/3leaps/vigil/pkg/strategy"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies [detection|training]",
	Short: "List registered strategies",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStrategies,
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
	strategiesCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStrategies(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	kinds := []job.Kind{job.KindDetection, job.KindTraining}
	if len(args) == 1 {
		k, err := job.ParseKind(args[0])
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid kind", err)
		}
		kinds = []job.Kind{k}
	}

	// Listing needs no live backends; the built-in set is fixed.
	reg, err := strategy.NewDefaultRegistry(strategy.Deps{
		Sources: source.NewResolver(),
		Samples: sample.Default(),
	})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to register strategies", err)
	}

	var infos []strategy.Info
	for _, k := range kinds {
		infos = append(infos, reg.List(k)...)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "KIND\tID\tNAME\tPROFILE")
	for _, info := range infos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Kind, info.ID, info.Name, describeProfile(info.Profile))
	}
	return nil
}

func describeProfile(p strategy.Profile) string {
	if r := p.Resources; r != nil {
		gpu := "cpu"
		if r.RecommendedGPU {
			gpu = "gpu"
		}
		return fmt.Sprintf("%dGB/%s/~%dm", r.MinMemoryGB, gpu, r.EstimatedMinutes)
	}
	if p.Accuracy > 0 {
		return fmt.Sprintf("accuracy %.1f%%", p.Accuracy)
	}
	return "-"
}
