package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/vigil/pkg/sample"
)

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "List the training sample catalog",
	Long: `List the samples available to training jobs. The catalog is the
built-in set unless samples.catalog (VIGIL_SAMPLES_CATALOG) points at a
YAML file.`,
	Args: cobra.NoArgs,
	RunE: runSamples,
}

func init() {
	rootCmd.AddCommand(samplesCmd)
	samplesCmd.Flags().Bool("verified", false, "Only verified samples")
	samplesCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSamples(cmd *cobra.Command, _ []string) error {
	verifiedOnly, _ := cmd.Flags().GetBool("verified")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd.Context(), nil)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to load sample catalog", err)
	}

	samples := catalog.List()
	if verifiedOnly {
		samples = catalog.Verified()
	}
	if samples == nil {
		samples = []sample.Sample{}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(samples)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tNAME\tTYPE\tDURATION\tDATE\tVERIFIED")
	for _, s := range samples {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%ds\t%s\t%t\n", s.ID, s.Name, s.Type, s.Duration, s.Date, s.Verified)
	}
	return nil
}
