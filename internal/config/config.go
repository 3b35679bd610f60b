// Package config loads vigil configuration from defaults, a YAML file,
// VIGIL_* environment variables and runtime overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/3leaps/vigil/internal/observability"
	"github.com/3leaps/vigil/pkg/alert"
	"github.com/3leaps/vigil/pkg/executor"
	"github.com/3leaps/vigil/pkg/orchestrator"
	"github.com/3leaps/vigil/pkg/source"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
	Workers   int             `mapstructure:"workers"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Samples   SamplesConfig   `mapstructure:"samples"`
	Models    ModelsConfig    `mapstructure:"models"`
	Source    SourceConfig    `mapstructure:"source"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Simulate  SimulateConfig  `mapstructure:"simulate"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`             // Default: localhost
	Port            int           `mapstructure:"port"`             // Default: 8080
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`     // Default: 30s
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`    // Default: 30s
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`     // Default: 120s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // Default: 10s
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`   // Default: info
	Profile string `mapstructure:"profile"` // Default: STRUCTURED
	File    string `mapstructure:"file"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"` // Default: true
	Port    int  `mapstructure:"port"`    // Default: 9090
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"` // Default: true
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

type ExecutorConfig struct {
	// JobTimeout cancels jobs that run longer than this. Zero disables it.
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

type AlertsConfig struct {
	Threshold  float64    `mapstructure:"threshold"`   // Default: 70
	Store      string     `mapstructure:"store"`       // memory or sqlite. Default: memory
	SQLitePath string     `mapstructure:"sqlite_path"` // Default: <data dir>/alerts.db
	MQTT       MQTTConfig `mapstructure:"mqtt"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"` // Empty disables MQTT delivery.
	Topic    string `mapstructure:"topic"`  // Default: vigil/alerts
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	QoS      int    `mapstructure:"qos"`
}

type SamplesConfig struct {
	// Catalog is a YAML sample catalog. Empty uses the built-in samples.
	Catalog string `mapstructure:"catalog"`
}

type ModelsConfig struct {
	Store      string `mapstructure:"store"`       // memory or sqlite. Default: memory
	SQLitePath string `mapstructure:"sqlite_path"` // Default: <data dir>/models.db
}

type SourceConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Enabled        bool   `mapstructure:"enabled"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

type JobsConfig struct {
	// HistoryDir stores finished job records. Default: <data dir>/jobs
	HistoryDir     string        `mapstructure:"history_dir"`
	History        bool          `mapstructure:"history"`         // Default: true
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"` // Default: 10m
}

type RateLimitConfig struct {
	SubmitRPS float64 `mapstructure:"submit_rps"` // Zero disables limiting. Default: 20
	Burst     int     `mapstructure:"burst"`      // Default: 40
}

type SimulateConfig struct {
	// TimeScale multiplies simulated strategy durations.
	// Default: 1
	TimeScale float64 `mapstructure:"time_scale"`
}

// Validate checks values that cannot be corrected silently.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Alerts.Threshold < 0 || c.Alerts.Threshold > 100 {
		return fmt.Errorf("alerts.threshold must be within [0,100], got %v", c.Alerts.Threshold)
	}
	switch c.Alerts.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("alerts.store must be memory or sqlite, got %q", c.Alerts.Store)
	}
	switch c.Models.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("models.store must be memory or sqlite, got %q", c.Models.Store)
	}
	if q := c.Alerts.MQTT.QoS; q < 0 || q > 2 {
		return fmt.Errorf("alerts.mqtt.qos must be 0, 1 or 2, got %d", q)
	}
	if c.Executor.JobTimeout < 0 {
		return fmt.Errorf("executor.job_timeout must be >= 0")
	}
	if c.RateLimit.SubmitRPS < 0 {
		return fmt.Errorf("ratelimit.submit_rps must be >= 0")
	}
	return nil
}

// LoggingSettings converts the logging section for observability.
func (c *Config) LoggingSettings() observability.LoggingConfig {
	return observability.LoggingConfig{
		Level:   c.Logging.Level,
		Profile: c.Logging.Profile,
		File:    c.Logging.File,
	}
}

// OrchestratorConfig converts the engine sections.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Executor: executor.Config{
			Workers:    c.Workers,
			JobTimeout: c.Executor.JobTimeout,
		},
		AlertThreshold: c.Alerts.Threshold,
		IdempotencyTTL: c.Jobs.IdempotencyTTL,
	}
}

// S3Settings converts the S3 source section.
func (c *Config) S3Settings() source.S3Config {
	return source.S3Config{
		Region:         c.Source.S3.Region,
		Endpoint:       c.Source.S3.Endpoint,
		Profile:        c.Source.S3.Profile,
		ForcePathStyle: c.Source.S3.ForcePathStyle,
	}
}

// MQTTSettings converts the MQTT alert section.
func (c *Config) MQTTSettings() alert.MQTTConfig {
	m := c.Alerts.MQTT
	return alert.MQTTConfig{
		Broker:   m.Broker,
		ClientID: m.ClientID,
		Topic:    m.Topic,
		Username: m.Username,
		Password: m.Password,
		QoS:      byte(m.QoS),
	}
}

// AlertsDBPath returns the SQLite path, defaulting under the data dir.
func (c *Config) AlertsDBPath() (string, error) {
	if p := strings.TrimSpace(c.Alerts.SQLitePath); p != "" {
		return p, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "alerts.db"), nil
}

// ModelsDBPath returns the model catalogue SQLite path, defaulting under the
// data dir.
func (c *Config) ModelsDBPath() (string, error) {
	if p := strings.TrimSpace(c.Models.SQLitePath); p != "" {
		return p, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "models.db"), nil
}

// JobsHistoryDir returns the job history root, defaulting under the data dir.
func (c *Config) JobsHistoryDir() (string, error) {
	if p := strings.TrimSpace(c.Jobs.HistoryDir); p != "" {
		return p, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "jobs"), nil
}

// DataDir is where vigil keeps local state: $VIGIL_DATA_DIR, else
// $XDG_DATA_HOME/vigil, else ~/.local/share/vigil.
func DataDir() (string, error) {
	if d := strings.TrimSpace(os.Getenv("VIGIL_DATA_DIR")); d != "" {
		return d, nil
	}
	if x := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); x != "" {
		return filepath.Join(x, "vigil"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "vigil"), nil
}
