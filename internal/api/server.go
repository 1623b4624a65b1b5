// Package api wires the HTTP surface: uploads, job submission, status and
// results, artifact streaming, progress websocket and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/parbench/internal/artifact"
	"github.com/psantana5/parbench/internal/orchestrator"
	"github.com/psantana5/parbench/internal/progress"
	"github.com/psantana5/parbench/internal/telemetry"
	"github.com/psantana5/parbench/internal/workspace"
	"github.com/psantana5/parbench/pkg/logging"
	"github.com/psantana5/parbench/pkg/middleware"
	"github.com/psantana5/parbench/pkg/ratelimit"
	"github.com/psantana5/parbench/pkg/tracing"
)

// Options configures a Handler. Orchestrator and Workspace are required.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Workspace    *workspace.Workspace
	Hub          *progress.Hub
	Metrics      *telemetry.Metrics
	Limiter      *ratelimit.Limiter
	Tracer       *tracing.Provider
	Logger       *logging.Logger

	// HealthCheck reports backing store health; nil means always healthy
	HealthCheck func() error

	MaxUploadBytes int64
	CORSOrigin     string
}

// Handler serves the API
type Handler struct {
	orch     *orchestrator.Orchestrator
	ws       *workspace.Workspace
	resolver *artifact.Resolver
	streamer *artifact.Streamer
	hub      *progress.Hub
	metrics  *telemetry.Metrics
	limiter  *ratelimit.Limiter
	tracer   *tracing.Provider
	logger   *logging.Logger
	health   func() error

	maxUpload  int64
	corsOrigin string
	started    time.Time
}

// New creates a handler
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Hub == nil {
		opts.Hub = progress.NewHub(opts.Logger)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 500 * 1024 * 1024
	}
	h := &Handler{
		orch:       opts.Orchestrator,
		ws:         opts.Workspace,
		streamer:   artifact.NewStreamer(opts.Logger),
		hub:        opts.Hub,
		metrics:    opts.Metrics,
		limiter:    opts.Limiter,
		tracer:     opts.Tracer,
		logger:     opts.Logger,
		health:     opts.HealthCheck,
		maxUpload:  opts.MaxUploadBytes,
		corsOrigin: opts.CORSOrigin,
		started:    time.Now(),
	}
	h.resolver = artifact.NewResolver(opts.Workspace.OutputRoot(), h.featureOf)
	return h
}

func (h *Handler) featureOf(jobID string) (string, bool) {
	job, err := h.orch.Get(jobID)
	if err != nil || job.Feature == "" {
		return "", false
	}
	return job.Feature, true
}

// RegisterRoutes attaches every endpoint to r
func (h *Handler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	api.HandleFunc("/features", h.Features).Methods(http.MethodGet)
	api.Handle("/upload", h.limited(h.Upload)).Methods(http.MethodPost)
	api.Handle("/process", h.limited(h.Process)).Methods(http.MethodPost)
	api.HandleFunc("/jobs", h.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/status/{id}", h.Status).Methods(http.MethodGet)
	api.HandleFunc("/results/{id}", h.Results).Methods(http.MethodGet)
	api.HandleFunc("/video/{id}/{type}", h.Video).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/scene/{id}/{type}", h.Scene).Methods(http.MethodGet)
	api.HandleFunc("/cleanup/{id}", h.Cleanup).Methods(http.MethodDelete)
	api.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Handle("/ws/progress", h.hub.Handler())
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Router returns the complete handler with middleware applied
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(h.logger))
	if h.tracer != nil {
		r.Use(tracing.HTTPMiddleware(h.tracer))
	}
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}
	r.Use(middleware.AccessLog(h.logger))
	r.Use(middleware.CORS(h.corsOrigin))
	return r
}

func (h *Handler) limited(fn http.HandlerFunc) http.Handler {
	if h.limiter == nil {
		return fn
	}
	return h.limiter.Middleware(ratelimit.IPKeyFunc)(fn)
}
