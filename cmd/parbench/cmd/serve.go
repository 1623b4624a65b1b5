package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/parbench/internal/api"
	"github.com/psantana5/parbench/internal/convert"
	"github.com/psantana5/parbench/internal/orchestrator"
	"github.com/psantana5/parbench/internal/progress"
	"github.com/psantana5/parbench/internal/retention"
	"github.com/psantana5/parbench/internal/runner"
	"github.com/psantana5/parbench/internal/telemetry"
	"github.com/psantana5/parbench/internal/workspace"
	"github.com/psantana5/parbench/pkg/logging"
	"github.com/psantana5/parbench/pkg/ratelimit"
	"github.com/psantana5/parbench/pkg/shutdown"
	"github.com/psantana5/parbench/pkg/store"
	tlsutil "github.com/psantana5/parbench/pkg/tls"
	"github.com/psantana5/parbench/pkg/tracing"
)

// Version is stamped at build time
var Version = "dev"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Long:  `Start the HTTP API, the job orchestrator and the progress websocket.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().String("store", "", "store type: memory, sqlite or postgres")
	serveCmd.Flags().Int("max-concurrent", 0, "maximum concurrently running jobs (0 = unbounded)")
	serveCmd.Flags().Bool("compile", false, "build variant executables before each job")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("store.type", serveCmd.Flags().Lookup("store"))
	viper.BindPFlag("jobs.max_concurrent", serveCmd.Flags().Lookup("max-concurrent"))
	viper.BindPFlag("compile.enabled", serveCmd.Flags().Lookup("compile"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logging.NewFileLogger(cfg.Log.Dir, "parbench", "server", logging.ParseLevel(cfg.Log.Level), cfg.Log.Format == "json")
	if err != nil {
		return err
	}
	defer logger.Close()

	logger.Info("Starting parbench", map[string]interface{}{
		"version":      Version,
		"addr":         cfg.Server.Addr,
		"store":        cfg.Store.Type,
		"project_root": cfg.Paths.ProjectRoot,
	})

	st, err := store.NewStore(store.Config{
		Type: cfg.Store.Type,
		DSN:  cfg.Store.DSN,
		Path: cfg.Paths.Resolve(cfg.Store.Path),
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		logger.Warn("Tracing unavailable, continuing without it", map[string]interface{}{"error": err.Error()})
		tracer = tracing.NewNoop(cfg.Tracing.ServiceName)
	}

	metrics := telemetry.New()
	run := runner.New(logger.WithField("component", "runner"))
	hub := progress.NewHub(logger.WithField("component", "progress"))

	conv := convert.New(run, convert.Config{
		FFmpeg:  cfg.Convert.FFmpeg,
		Timeout: cfg.Convert.Timeout,
		Codecs:  cfg.Convert.FallbackCodecs,
	}, logger.WithField("component", "convert"))
	conv.OnTier = func(t convert.Tier) { metrics.Conversion(string(t)) }

	suffix := cfg.Paths.ExecutableSuffix
	if suffix == "" && runtime.GOOS == "windows" {
		suffix = ".exe"
	}
	orch, err := orchestrator.New(orchestrator.Config{
		ProjectRoot:      cfg.Paths.ProjectRoot,
		BuildDir:         cfg.Paths.BuildDir,
		ExecutableSuffix: suffix,
		CompileEnabled:   cfg.Compile.Enabled,
		CompileCommand:   cfg.Compile.Command,
		CompileTimeout:   cfg.Compile.Timeout,
		RunTimeout:       cfg.Run.Timeout,
		MaxConcurrent:    cfg.Jobs.MaxConcurrent,
	}, orchestrator.Deps{
		Store:     st,
		Executor:  run,
		Converter: conv,
		Progress:  hub,
		Metrics:   metrics,
		Tracer:    tracer,
		Logger:    logger.WithField("component", "orchestrator"),
	})
	if err != nil {
		st.Close()
		return err
	}
	if n, err := orch.RecoverInterrupted(); err != nil {
		logger.Error("Failed to recover interrupted jobs", map[string]interface{}{"error": err.Error()})
	} else if n > 0 {
		logger.Warn("Recovered interrupted jobs", map[string]interface{}{"count": n})
	}

	ws := workspace.New(
		cfg.Paths.Resolve(cfg.Paths.UploadDir),
		cfg.Paths.Resolve(cfg.Paths.OutputDir),
		cfg.Convert.FFprobe,
		run,
		logger.WithField("component", "workspace"),
	)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	registerScrapeCounters(metrics, hub, run)

	sweeper := retention.New(retention.Config{
		Enabled:  cfg.Retention.Enabled,
		Interval: cfg.Retention.Interval,
		MaxAge:   cfg.Retention.MaxAge,
	}, orch, ws, logger.WithField("component", "retention"))
	if limiter != nil {
		sweeper.AfterSweep = func() {
			if n := limiter.CleanupOldLimiters(cfg.Retention.Interval); n > 0 {
				logger.Debug("Dropped idle rate limiters", map[string]interface{}{"count": n})
			}
		}
	}
	sweeper.Start()

	handler := api.New(api.Options{
		Orchestrator:   orch,
		Workspace:      ws,
		Hub:            hub,
		Metrics:        metrics,
		Limiter:        limiter,
		Tracer:         tracer,
		Logger:         logger.WithField("component", "api"),
		HealthCheck:    st.HealthCheck,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		CORSOrigin:     cfg.Server.CORSOrigin,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// hooks run in reverse registration order
	sm := shutdown.New(cfg.Shutdown.Timeout, logger)
	sm.Register("store", shutdown.CloseResource(st))
	sm.Register("tracing", tracer.Shutdown)
	sm.Register("orchestrator", orch.Shutdown)
	sm.Register("retention", func(context.Context) error {
		sweeper.Stop()
		return nil
	})
	sm.Register("http", shutdown.StopHTTPServer(srv))

	if cfg.Server.TLS.Enabled {
		tlsCfg, err := tlsutil.ServerConfig(
			cfg.Paths.Resolve(cfg.Server.TLS.CertFile),
			cfg.Paths.Resolve(cfg.Server.TLS.KeyFile),
			cfg.Server.TLS.SelfSigned,
			cfg.Server.TLS.Hosts...,
		)
		if err != nil {
			sm.Shutdown()
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		srv.TLSConfig = tlsCfg
	}

	go func() {
		logger.Info("API listening", map[string]interface{}{"addr": srv.Addr, "tls": srv.TLSConfig != nil})
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
			sm.Trigger()
		}
	}()

	if err := sm.WaitWithContext(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func registerScrapeCounters(metrics *telemetry.Metrics, hub *progress.Hub, run *runner.Runner) {
	metrics.RegisterCounterFunc("progress_updates_emitted_total", "Progress updates broadcast to subscribers.", func() float64 {
		return float64(hub.Emitted())
	})
	metrics.RegisterCounterFunc("progress_updates_dropped_total", "Progress updates dropped because a subscriber queue was full.", func() float64 {
		return float64(hub.Dropped())
	})
	stats := run.Stats()
	for _, key := range []string{"runs_started", "runs_timed_out", "runs_launch_failures"} {
		key := key
		metrics.RegisterCounterFunc("runner_"+key+"_total", "External process "+key+" counter.", func() float64 {
			return float64(stats.Snapshot()[key])
		})
	}
}
