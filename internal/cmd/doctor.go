package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/vigil/internal/config"
	"github.com/3leaps/vigil/internal/observability"
	"github.com/3leaps/vigil/pkg/alert"
)

var (
	doctorProvider string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  vigil doctor                 # Full environment check
  vigil doctor --provider s3   # Include S3 credential checks`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

// doctorCheck is one diagnostic step. It returns a short detail string for
// the result line.
type doctorCheck struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	log := observability.CLILogger
	ctx := cmd.Context()

	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log.Info("=== " + bannerName + " ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	provider := strings.ToLower(strings.TrimSpace(doctorProvider))
	if provider != "" && provider != "s3" {
		return exitError(foundry.ExitInvalidArgument, "Unknown provider", fmt.Errorf("unsupported provider %q (want s3)", doctorProvider))
	}

	var cfg *config.Config
	checks := []doctorCheck{
		{"Go version", checkGoVersion},
		{"configuration", func(ctx context.Context) (string, error) {
			c, err := loadConfig(ctx, nil)
			if err != nil {
				return "", err
			}
			cfg = c
			if f := config.UsedConfigFile(); f != "" {
				return f, nil
			}
			return "defaults (no config file)", nil
		}},
		{"data directory", checkDataDir},
		{"alert store", func(ctx context.Context) (string, error) { return checkAlertStore(ctx, cfg) }},
		{"sample catalog", func(context.Context) (string, error) { return checkCatalog(cfg) }},
		{"alert broker", func(context.Context) (string, error) { return checkBroker(cfg) }},
		{"environment", func(context.Context) (string, error) {
			return runtime.GOOS + "/" + runtime.GOARCH, nil
		}},
	}

	total := len(checks)
	if provider == "s3" {
		total += 2
	}

	allChecks := true
	for i, c := range checks {
		detail, err := c.run(ctx)
		if err != nil {
			log.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %v", i+1, total, c.name, err))
			allChecks = false
			continue
		}
		log.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", i+1, total, c.name, detail))
	}

	if provider == "s3" {
		allChecks = runS3Checks(ctx, len(checks)+1, total, allChecks)
	}

	log.Info("")
	if !allChecks {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		log.Info("")
		log.Info("=== End Diagnostics ===")
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", errors.New("one or more checks failed"))
	}
	log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	log.Info("")
	log.Info("=== End Diagnostics ===")
	return nil
}

func checkGoVersion(context.Context) (string, error) {
	v := runtime.Version()
	if strings.HasPrefix(v, "go1.") && v < "go1.25" {
		return "", fmt.Errorf("%s (recommended: go1.25+)", v)
	}
	return v, nil
}

func checkDataDir(context.Context) (string, error) {
	dir, err := config.DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return "", fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return dir, nil
}

func checkAlertStore(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", errors.New("skipped: configuration did not load")
	}
	if cfg.Alerts.Store != "sqlite" {
		return "memory (alerts are lost on exit)", nil
	}
	path, err := cfg.AlertsDBPath()
	if err != nil {
		return "", err
	}
	st, err := alert.OpenSQLite(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() { _ = st.Close() }()
	if err := st.Ping(ctx); err != nil {
		return "", err
	}
	return "sqlite " + filepath.Clean(path), nil
}

func checkCatalog(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", errors.New("skipped: configuration did not load")
	}
	c, err := loadCatalog(cfg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d samples, %d verified", len(c.List()), len(c.Verified())), nil
}

func checkBroker(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", errors.New("skipped: configuration did not load")
	}
	if strings.TrimSpace(cfg.Alerts.MQTT.Broker) == "" {
		return "disabled", nil
	}
	sink, err := alert.DialMQTT(cfg.MQTTSettings())
	if err != nil {
		return "", err
	}
	sink.Close()
	return cfg.Alerts.MQTT.Broker, nil
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Provider Checks:")

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))
	checkNum++

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))

	return allChecks
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use an IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - source.s3.endpoint (VIGIL_S3_ENDPOINT)")
	observability.CLILogger.Info("")
}
