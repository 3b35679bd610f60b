package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppIdentity names the application for config discovery and env binding.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity Load uses when none was set.
var DefaultIdentity = AppIdentity{
	BinaryName: "vigil",
	EnvPrefix:  "VIGIL",
	ConfigName: "vigil",
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
	appSettings map[string]any
	configFile  string
)

// EnvSpec maps one environment variable onto a config path.
type EnvSpec struct {
	Name string
	Path string
}

// envBindings lists env var suffixes (after the prefix) and their config paths.
var envBindings = []struct {
	suffix string
	path   string
}{
	{"HOST", "server.host"},
	{"PORT", "server.port"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"IDLE_TIMEOUT", "server.idle_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"LOG_LEVEL", "logging.level"},
	{"LOG_PROFILE", "logging.profile"},
	{"LOG_FILE", "logging.file"},
	{"METRICS_ENABLED", "metrics.enabled"},
	{"METRICS_PORT", "metrics.port"},
	{"HEALTH_ENABLED", "health.enabled"},
	{"DEBUG", "debug.enabled"},
	{"PPROF_ENABLED", "debug.pprof_enabled"},
	{"WORKERS", "workers"},
	{"JOB_TIMEOUT", "executor.job_timeout"},
	{"ALERT_THRESHOLD", "alerts.threshold"},
	{"ALERT_STORE", "alerts.store"},
	{"ALERT_DB", "alerts.sqlite_path"},
	{"MQTT_BROKER", "alerts.mqtt.broker"},
	{"MQTT_TOPIC", "alerts.mqtt.topic"},
	{"MQTT_CLIENT_ID", "alerts.mqtt.client_id"},
	{"MQTT_USERNAME", "alerts.mqtt.username"},
	{"MQTT_PASSWORD", "alerts.mqtt.password"},
	{"MQTT_QOS", "alerts.mqtt.qos"},
	{"SAMPLES_CATALOG", "samples.catalog"},
	{"MODEL_STORE", "models.store"},
	{"MODEL_DB", "models.sqlite_path"},
	{"S3_ENABLED", "source.s3.enabled"},
	{"S3_REGION", "source.s3.region"},
	{"S3_ENDPOINT", "source.s3.endpoint"},
	{"S3_PROFILE", "source.s3.profile"},
	{"S3_FORCE_PATH_STYLE", "source.s3.force_path_style"},
	{"JOBS_DIR", "jobs.history_dir"},
	{"JOBS_HISTORY", "jobs.history"},
	{"IDEMPOTENCY_TTL", "jobs.idempotency_ttl"},
	{"SUBMIT_RPS", "ratelimit.submit_rps"},
	{"SUBMIT_BURST", "ratelimit.burst"},
	{"TIME_SCALE", "simulate.time_scale"},
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("workers", 4)
	v.SetDefault("executor.job_timeout", "0s")

	v.SetDefault("alerts.threshold", 70.0)
	v.SetDefault("alerts.store", "memory")
	v.SetDefault("alerts.sqlite_path", "")
	v.SetDefault("alerts.mqtt.broker", "")
	v.SetDefault("alerts.mqtt.topic", "vigil/alerts")
	v.SetDefault("alerts.mqtt.client_id", "vigil")
	v.SetDefault("alerts.mqtt.qos", 1)

	v.SetDefault("samples.catalog", "")
	v.SetDefault("models.store", "memory")
	v.SetDefault("models.sqlite_path", "")

	v.SetDefault("source.s3.enabled", false)
	v.SetDefault("source.s3.region", "")
	v.SetDefault("source.s3.endpoint", "")
	v.SetDefault("source.s3.profile", "")
	v.SetDefault("source.s3.force_path_style", false)

	v.SetDefault("jobs.history_dir", "")
	v.SetDefault("jobs.history", true)
	v.SetDefault("jobs.idempotency_ttl", "10m")

	v.SetDefault("ratelimit.submit_rps", 20.0)
	v.SetDefault("ratelimit.burst", 40)

	v.SetDefault("simulate.time_scale", 1.0)
}

// SetConfigFile makes Load read path instead of searching for vigil.yaml.
// An empty path restores the search.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load builds the configuration. Precedence, highest first: overrides,
// environment, config file, defaults. The result becomes GetConfig's value.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, spec := range envSpecsLocked() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Logging.Profile = strings.ToUpper(strings.TrimSpace(cfg.Logging.Profile))
	cfg.Alerts.Store = strings.ToLower(strings.TrimSpace(cfg.Alerts.Store))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	appConfig = &cfg
	appSettings = v.AllSettings()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Settings returns the merged key tree behind the last Load, keyed the way
// the config file is. Nil before Load.
func Settings() map[string]any {
	configMu.RLock()
	defer configMu.RUnlock()
	return appSettings
}

// UsedConfigFile reports the file Load would read, searching the standard
// locations. Empty when there is none.
func UsedConfigFile() string {
	configMu.RLock()
	defer configMu.RUnlock()
	if configFile != "" {
		return configFile
	}
	name := DefaultIdentity.ConfigName
	if appIdentity != nil {
		name = appIdentity.ConfigName
	}
	for _, dir := range append([]string{"."}, getUserConfigPathsLocked()...) {
		for _, ext := range []string{".yaml", ".yml"} {
			p := filepath.Join(dir, name+ext)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

func readConfigFile(v *viper.Viper) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName(appIdentity.ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range getUserConfigPathsLocked() {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func getUserConfigPaths() []string {
	configMu.RLock()
	defer configMu.RUnlock()
	return getUserConfigPathsLocked()
}

func getUserConfigPathsLocked() []string {
	if appIdentity == nil {
		return []string{}
	}
	paths := make([]string, 0, 2)
	if x := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); x != "" {
		paths = append(paths, filepath.Join(x, appIdentity.ConfigName))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, appIdentity.ConfigName)
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	return paths
}

// EnvSpecs lists the environment variables Load binds.
func EnvSpecs() []EnvSpec {
	return getEnvSpecs()
}

func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	defer configMu.RUnlock()
	return envSpecsLocked()
}

func envSpecsLocked() []EnvSpec {
	if appIdentity == nil {
		return []EnvSpec{}
	}
	specs := make([]EnvSpec, 0, len(envBindings))
	for _, b := range envBindings {
		specs = append(specs, EnvSpec{Name: appIdentity.EnvPrefix + "_" + b.suffix, Path: b.path})
	}
	return specs
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
