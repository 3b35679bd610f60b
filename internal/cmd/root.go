// Package cmd implements the vigil command line.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/3leaps/vigil/internal/config"
	"github.com/3leaps/vigil/internal/observability"
	"github.com/3leaps/vigil/internal/server/handlers"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var appIdentity *config.AppIdentity

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Asynchronous detection and training job engine",
	Long: `vigil runs violence/movement/behavior detection and model training as
asynchronous jobs. Jobs are submitted against a named strategy, report
progress while they run, can be cancelled, and raise an alert when a
detection is confident enough.

Run 'vigil serve' to expose the HTTP API, or use 'vigil detect' and
'vigil train' to run a single job in the foreground.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		identity := config.DefaultIdentity
		appIdentity = &identity

		observability.InitCLILogger(identity.BinaryName, verbose)
		config.SetConfigFile(cfgFile)
		return nil
	},
}

func init() {
	setDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./vigil.yaml or $XDG_CONFIG_HOME/vigil/vigil.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug output")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo records build metadata for the version command and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity set up by the root command, or nil
// before any command has run.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

// setDefaults registers config defaults on the global viper instance so
// flag help and 'config show' agree with Load.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

// loadConfig loads configuration, applying flag overrides last.
func loadConfig(ctx context.Context, overrides map[string]any) (*config.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExitCodeError carries the process exit code for a failed command.
type ExitCodeError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	if err == nil {
		err = errors.New(message)
	}
	return &ExitCodeError{Code: code, Message: message, Err: err}
}

// ExitCode returns the exit code carried by err: 0 for nil, 1 when err
// carries none.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec *ExitCodeError
	if errors.As(err, &ec) {
		return ec.Code
	}
	return 1
}
