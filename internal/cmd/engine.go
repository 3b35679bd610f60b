package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/vigil/internal/config"
	"github.com/3leaps/vigil/internal/observability"
	"github.com/3leaps/vigil/pkg/alert"
	"github.com/3leaps/vigil/pkg/jobregistry"
	"github.com/3leaps/vigil/pkg/model"
	"github.com/3leaps/vigil/pkg/orchestrator"
	"github.com/3leaps/vigil/pkg/sample"
	"github.com/3leaps/vigil/pkg/source"
	"github.com/3leaps/vigil/pkg/strategy"
)

// engine is a fully wired orchestrator together with the resources it owns.
type engine struct {
	cfg      *config.Config
	orch     *orchestrator.Orchestrator
	catalog  *sample.Catalog
	resolver *source.Resolver
	store    alert.Store
	models   model.Store
	history  *jobregistry.Store
	metrics  *observability.Metrics

	closers []func()
}

type engineOptions struct {
	log     *zap.Logger
	metrics bool
}

// buildEngine wires every engine dependency from cfg.
func buildEngine(ctx context.Context, cfg *config.Config, opts engineOptions) (_ *engine, err error) {
	log := opts.log
	if log == nil {
		log = zap.NewNop()
	}
	e := &engine{cfg: cfg}
	defer func() {
		if err != nil {
			e.closeResources()
		}
	}()

	if e.catalog, err = loadCatalog(cfg); err != nil {
		return nil, err
	}
	if e.resolver, err = buildResolver(ctx, cfg); err != nil {
		return nil, err
	}

	reg, err := strategy.NewDefaultRegistry(strategy.Deps{
		Sources:   e.resolver,
		Samples:   e.catalog,
		TimeScale: cfg.Simulate.TimeScale,
	})
	if err != nil {
		return nil, fmt.Errorf("register strategies: %w", err)
	}

	if e.store, err = e.openAlertStore(ctx); err != nil {
		return nil, err
	}

	emitterOpts := []alert.EmitterOption{alert.WithEmitterLogger(log.Named("alerts"))}
	if strings.TrimSpace(cfg.Alerts.MQTT.Broker) != "" {
		sink, err := alert.DialMQTT(cfg.MQTTSettings())
		if err != nil {
			return nil, fmt.Errorf("connect alert broker: %w", err)
		}
		e.closers = append(e.closers, sink.Close)
		emitterOpts = append(emitterOpts, alert.WithSink(sink))
	}
	emitter := alert.NewEmitter(e.store, emitterOpts...)

	if e.models, err = e.openModelStore(ctx); err != nil {
		return nil, err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(log.Named("engine")),
		orchestrator.WithEmitter(emitter),
		orchestrator.WithModels(e.models),
	}
	if cfg.Jobs.History {
		dir, err := cfg.JobsHistoryDir()
		if err != nil {
			return nil, err
		}
		e.history = jobregistry.NewStore(dir)
		orchOpts = append(orchOpts, orchestrator.WithRecorder(jobregistry.NewRecorder(e.history, log.Named("history"))))
	}
	if opts.metrics {
		e.metrics = observability.NewMetrics()
		orchOpts = append(orchOpts, orchestrator.WithMetrics(e.metrics))
	}

	e.orch = orchestrator.New(reg, cfg.OrchestratorConfig(), orchOpts...)
	return e, nil
}

// Close stops the orchestrator and releases stores and connections.
func (e *engine) Close(ctx context.Context) error {
	var err error
	if e.orch != nil {
		err = e.orch.Shutdown(ctx)
	}
	e.closeResources()
	return err
}

func (e *engine) closeResources() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func (e *engine) openAlertStore(ctx context.Context) (alert.Store, error) {
	if e.cfg.Alerts.Store != "sqlite" {
		return alert.NewMemoryStore(), nil
	}
	path, err := e.cfg.AlertsDBPath()
	if err != nil {
		return nil, err
	}
	st, err := alert.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func() { _ = st.Close() })
	return st, nil
}

func (e *engine) openModelStore(ctx context.Context) (model.Store, error) {
	if e.cfg.Models.Store != "sqlite" {
		st, err := model.NewMemoryStore(model.Defaults()...)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	st, err := openModelStore(ctx, e.cfg)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func() { _ = st.Close() })
	return st, nil
}

func loadCatalog(cfg *config.Config) (*sample.Catalog, error) {
	path := strings.TrimSpace(cfg.Samples.Catalog)
	if path == "" {
		return sample.Default(), nil
	}
	c, err := sample.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load sample catalog: %w", err)
	}
	return c, nil
}

func buildResolver(ctx context.Context, cfg *config.Config) (*source.Resolver, error) {
	if !cfg.Source.S3.Enabled {
		return source.NewResolver(), nil
	}
	b, err := source.NewS3Backend(ctx, cfg.S3Settings())
	if err != nil {
		return nil, fmt.Errorf("configure s3 source: %w", err)
	}
	return source.NewResolver(source.WithBackend(source.SchemeS3, b)), nil
}

// openAlertStore opens the configured alert store for the offline alert
// commands. Memory stores have nothing to review between processes.
func openAlertStore(ctx context.Context, cfg *config.Config) (*alert.SQLiteStore, error) {
	if cfg.Alerts.Store != "sqlite" {
		return nil, errors.New("alerts.store is memory; set VIGIL_ALERT_STORE=sqlite to keep alerts between runs")
	}
	path, err := cfg.AlertsDBPath()
	if err != nil {
		return nil, err
	}
	return alert.OpenSQLite(ctx, path)
}

// openModelStore opens the SQLite model catalogue, seeding the built-in
// models on first use.
func openModelStore(ctx context.Context, cfg *config.Config) (*model.SQLiteStore, error) {
	if cfg.Models.Store != "sqlite" {
		return nil, errors.New("models.store is memory; set VIGIL_MODEL_STORE=sqlite to keep models between runs")
	}
	path, err := cfg.ModelsDBPath()
	if err != nil {
		return nil, err
	}
	st, err := model.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := st.Seed(ctx, model.Defaults()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("seed model store: %w", err)
	}
	return st, nil
}

// historyStore returns the job history store from cfg.
func historyStore(cfg *config.Config) (*jobregistry.Store, error) {
	dir, err := cfg.JobsHistoryDir()
	if err != nil {
		return nil, err
	}
	return jobregistry.NewStore(dir), nil
}
