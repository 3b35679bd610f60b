package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	configassets "github.com/3leaps/vigil/internal/assets/configs"
	"github.com/3leaps/vigil/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration vigil would run with after merging defaults,
the config file and VIGIL_* environment variables. Secrets are masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print a commented example vigil.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := cmd.OutOrStdout().Write(configassets.ExampleConfig)
		return err
	},
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List the environment variables vigil reads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := loadConfig(cmd.Context(), nil); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}
		for _, spec := range config.EnvSpecs() {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", spec.Name, spec.Path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configExampleCmd)
	configCmd.AddCommand(configEnvCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if _, err := loadConfig(cmd.Context(), nil); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	settings := maskSecrets(config.Settings())
	out := cmd.OutOrStdout()
	if f := config.UsedConfigFile(); f != "" {
		_, _ = fmt.Fprintf(out, "# config file: %s\n", f)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to encode configuration", err)
	}
	return enc.Close()
}

// maskSecrets replaces non-empty alerts.mqtt.password in a copy of s.
func maskSecrets(s map[string]any) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		if m, ok := v.(map[string]any); ok {
			out[k] = maskSecrets(m)
			continue
		}
		if k == "password" {
			if str, ok := v.(string); ok && str != "" {
				v = "****"
			}
		}
		out[k] = v
	}
	return out
}
