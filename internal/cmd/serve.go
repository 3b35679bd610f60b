package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/vigil/internal/config"
	"github.com/3leaps/vigil/internal/observability"
	"github.com/3leaps/vigil/internal/server"
	"github.com/3leaps/vigil/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP job API",
	Long: `Start the HTTP server exposing job submission, status, cancellation,
progress events, prediction, strategies, samples, models and alerts.

Health probes are served on /health, /health/live, /health/ready and
/health/startup. Prometheus metrics are served on a separate port when
metrics are enabled.`,
	RunE: runServe,
}

var (
	serveHost    string
	servePort    int
	serveWorkers int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config: localhost)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config: 8080)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Concurrent job limit (default from config: 4)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	overrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		overrides["server.host"] = serveHost
	}
	if cmd.Flags().Changed("port") {
		overrides["server.port"] = servePort
	}
	if cmd.Flags().Changed("workers") {
		overrides["workers"] = serveWorkers
	}

	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	identity := GetAppIdentity()
	if identity == nil {
		id := config.DefaultIdentity
		identity = &id
	}
	if err := observability.InitServerLogger(identity.BinaryName, cfg.LoggingSettings()); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer observability.Sync()
	log := observability.ServerLogger

	eng, err := buildEngine(ctx, cfg, engineOptions{log: log, metrics: cfg.Metrics.Enabled})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start engine", err)
	}

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("signals", signalHealthChecker{})
	health.RegisterChecker("identity", identityHealthChecker{
		binaryName: identity.BinaryName,
		envPrefix:  identity.EnvPrefix,
		configName: identity.ConfigName,
	})
	health.RegisterChecker("alerts", storeHealthChecker{name: "alert", store: eng.store})
	health.RegisterChecker("models", storeHealthChecker{name: "model", store: eng.models})

	opts := []server.Option{
		server.WithLogger(log.Named("http")),
		server.WithOrchestrator(eng.orch),
		server.WithSamples(eng.catalog),
		server.WithModelStore(eng.models),
		server.WithSubmitRateLimit(cfg.RateLimit.SubmitRPS, cfg.RateLimit.Burst),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithProfiler(cfg.Debug.PprofEnabled),
	}
	if cfg.Executor.JobTimeout > 0 {
		opts = append(opts, server.WithPredictTimeout(cfg.Executor.JobTimeout))
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	var metricsSrv *http.Server
	if eng.metrics != nil && cfg.Metrics.Port > 0 {
		metricsSrv = newMetricsServer(cfg.Server.Host, cfg.Metrics.Port, eng.metrics.Handler())
	}

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start() }()
	if metricsSrv != nil {
		go func() {
			log.Info("Metrics server listening", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	log.Info("Starting vigil server",
		zap.String("version", versionInfo.Version),
		zap.String("addr", srv.Addr()),
		zap.Int("workers", cfg.Workers),
		zap.String("alert_store", cfg.Alerts.Store),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("Server stopped", zap.Error(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Metrics shutdown incomplete", zap.Error(err))
		}
	}
	if err := eng.Close(shutdownCtx); err != nil {
		log.Warn("Engine shutdown incomplete", zap.Error(err))
	}

	if serveErr != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", serveErr)
	}
	log.Info("Server stopped")
	return nil
}

func newMetricsServer(host string, port int, h http.Handler) *http.Server {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", h)
	return &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// signalHealthChecker reports the process as able to receive signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error {
	return nil
}

// identityHealthChecker fails when the application identity is incomplete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("identity: missing env prefix")
	case c.configName == "":
		return errors.New("identity: missing config name")
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// storeHealthChecker pings stores that hold a connection.
type storeHealthChecker struct {
	name  string
	store any
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	if c.store == nil {
		return fmt.Errorf("%s store not configured", c.name)
	}
	if p, ok := c.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
