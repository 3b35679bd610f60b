// Package server exposes the vigil engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/3leaps/vigil/internal/errors"
	"github.com/3leaps/vigil/internal/server/handlers"
	"github.com/3leaps/vigil/internal/server/middleware"
	"github.com/3leaps/vigil/pkg/alert"
	"github.com/3leaps/vigil/pkg/model"
	"github.com/3leaps/vigil/pkg/orchestrator"
	"github.com/3leaps/vigil/pkg/sample"
)

// Server is the HTTP front end.
type Server struct {
	host string
	port int

	orch           *orchestrator.Orchestrator
	samples        *sample.Catalog
	alerts         alert.Store
	models         model.Store
	metrics        http.Handler
	limiter        *rate.Limiter
	log            *zap.Logger
	profiler       bool
	predictTimeout time.Duration

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	router     chi.Router
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithOrchestrator mounts the job, strategy and predict endpoints. The
// orchestrator's alert store, when present, backs the alert endpoints.
func WithOrchestrator(o *orchestrator.Orchestrator) Option {
	return func(s *Server) {
		s.orch = o
		if o != nil && o.Emitter() != nil && s.alerts == nil {
			s.alerts = o.Emitter().Store()
		}
	}
}

// WithSamples mounts the sample catalogue endpoints.
func WithSamples(c *sample.Catalog) Option {
	return func(s *Server) { s.samples = c }
}

// WithAlertStore overrides the store behind the alert endpoints.
func WithAlertStore(st alert.Store) Option {
	return func(s *Server) { s.alerts = st }
}

// WithModelStore mounts the model catalogue endpoints.
func WithModelStore(st model.Store) Option {
	return func(s *Server) { s.models = st }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithSubmitRateLimit limits job submission and prediction to rps with
// burst. rps <= 0 disables limiting.
func WithSubmitRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithProfiler mounts net/http/pprof under /debug.
func WithProfiler(enabled bool) Option {
	return func(s *Server) { s.profiler = enabled }
}

// WithTimeouts sets the http.Server timeouts. Zero values keep defaults.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// WithPredictTimeout bounds how long /v1/predict waits for a result.
func WithPredictTimeout(d time.Duration) Option {
	return func(s *Server) { s.predictTimeout = d }
}

// New creates a server listening on host:port once started.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		log:          zap.NewNop(),
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.log))
	r.Use(middleware.ErrorHandler)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, req, http.StatusNotFound, apperrors.CodeNotFound,
			"no route for "+req.Method+" "+req.URL.Path, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, req, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed,
			"method "+req.Method+" not allowed for "+req.URL.Path, nil)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if s.profiler {
		r.Mount("/debug", chimw.Profiler())
	}

	r.Route("/v1", func(r chi.Router) {
		if s.orch != nil {
			jobs := handlers.NewJobsAPI(s.orch, s.log, s.predictTimeout)
			limited := middleware.RateLimit(s.limiter)

			r.With(limited).Post("/jobs", jobs.Submit)
			r.Get("/jobs", jobs.List)
			r.Get("/jobs/{id}", jobs.Get)
			r.Delete("/jobs/{id}", jobs.Cancel)
			r.Post("/jobs/{id}/cancel", jobs.Cancel)
			r.Get("/jobs/{id}/events", jobs.Events)
			r.With(limited).Post("/predict", jobs.Predict)

			strategies := handlers.StrategiesHandler(s.orch)
			r.Get("/strategies", strategies)
			r.Get("/strategies/{kind}", strategies)
		}
		if s.samples != nil {
			samples := handlers.NewSamplesAPI(s.samples)
			r.Get("/samples", samples.List)
			r.Post("/samples", samples.Create)
			r.Get("/samples/{id}", samples.Get)
			r.Patch("/samples/{id}", samples.SetVerified)
			r.Delete("/samples/{id}", samples.Delete)
		}
		if s.models != nil {
			models := handlers.NewModelsAPI(s.models)
			r.Get("/models", models.List)
			r.Get("/models/{id}", models.Get)
			r.Patch("/models/{id}", models.UpdateStatus)
		}
		if s.alerts != nil {
			alerts := handlers.NewAlertsAPI(s.alerts)
			r.Get("/alerts", alerts.List)
			r.Get("/alerts/{id}", alerts.Get)
			r.Patch("/alerts/{id}", alerts.UpdateStatus)
		}
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", zap.String("addr", s.Addr()))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
