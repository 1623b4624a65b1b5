// Package orchestrator owns the job lifecycle: it registers submissions,
// runs each job's compile, run and convert stages in a background
// goroutine and publishes every state change as an atomic record swap.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/psantana5/parbench/internal/runner"
	"github.com/psantana5/parbench/internal/telemetry"
	"github.com/psantana5/parbench/pkg/logging"
	"github.com/psantana5/parbench/pkg/models"
	"github.com/psantana5/parbench/pkg/store"
	"github.com/psantana5/parbench/pkg/tracing"
)

const (
	MinThreads = 1
	MaxThreads = 16
)

// Emitter receives progress notifications
type Emitter interface {
	Emit(jobID, message string, progress int)
}

// Converter normalizes media artifacts; results keep input order
type Converter interface {
	NormalizeAll(ctx context.Context, srcs []string) []string
}

// Config controls executable lookup and stage timeouts
type Config struct {
	ProjectRoot      string
	BuildDir         string
	ExecutableSuffix string

	CompileEnabled bool
	// CompileCommand is run once per variant with {program} replaced by
	// the program name, e.g. grayscale_openmp.
	CompileCommand []string
	CompileTimeout time.Duration
	RunTimeout     time.Duration

	// MaxConcurrent bounds running pipelines; 0 means unbounded.
	MaxConcurrent int
}

// Deps are the collaborators the orchestrator drives
type Deps struct {
	Store     store.Store
	Executor  runner.Executor
	Converter Converter
	Progress  Emitter
	Metrics   *telemetry.Metrics
	Tracer    *tracing.Provider
	Logger    *logging.Logger
}

// Request is a validated-on-entry job submission
type Request struct {
	JobID          string
	Feature        string
	InputPath      string
	OutputDir      string
	PthreadThreads int
	OpenMPThreads  int
}

// Orchestrator schedules one pipeline goroutine per job
type Orchestrator struct {
	cfg     Config
	store   store.Store
	exec    runner.Executor
	conv    Converter
	emitter Emitter
	metrics *telemetry.Metrics
	tracer  *tracing.Provider
	logger  *logging.Logger

	sem *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	active  atomic.Int64
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, string, int) {}

// New creates an orchestrator. Store and Executor are required.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("orchestrator: executor is required")
	}
	if deps.Progress == nil {
		deps.Progress = nopEmitter{}
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.NewNoop("parbench")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 600 * time.Second
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = 600 * time.Second
	}
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = "."
	}
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolve project root: %w", err)
	}
	cfg.ProjectRoot = root

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:     cfg,
		store:   deps.Store,
		exec:    deps.Executor,
		conv:    deps.Converter,
		emitter: deps.Progress,
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
		logger:  deps.Logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
	if cfg.MaxConcurrent > 0 {
		o.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return o, nil
}

// Validate checks a request without side effects
func Validate(req Request) (models.Feature, error) {
	if req.JobID == "" {
		return models.Feature{}, invalid("job_id", "Missing required field: job_id")
	}
	if req.Feature == "" {
		return models.Feature{}, invalid("feature", "Missing required field: feature")
	}
	f, ok := models.LookupFeature(req.Feature)
	if !ok {
		return models.Feature{}, invalid("feature", "Invalid feature: %s", req.Feature)
	}
	if req.PthreadThreads < MinThreads || req.PthreadThreads > MaxThreads {
		return models.Feature{}, invalid("pthread_threads", "pthread_threads must be between %d and %d, got %d", MinThreads, MaxThreads, req.PthreadThreads)
	}
	if req.OpenMPThreads < MinThreads || req.OpenMPThreads > MaxThreads {
		return models.Feature{}, invalid("openmp_threads", "openmp_threads must be between %d and %d, got %d", MinThreads, MaxThreads, req.OpenMPThreads)
	}
	if req.InputPath == "" {
		return models.Feature{}, invalid("input_path", "Missing required field: input_path")
	}
	if req.OutputDir == "" {
		return models.Feature{}, invalid("output_dir", "Missing required field: output_dir")
	}
	return f, nil
}

// Start registers the job as queued and launches its pipeline. It returns
// as soon as the record is visible to Get; ctx only links the trace.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*models.Job, error) {
	if o.closed.Load() {
		return nil, ErrShuttingDown
	}
	feature, err := Validate(req)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:       req.JobID,
		Status:   models.JobStatusQueued,
		Progress: 0,
		Message:  "Job queued",
		Feature:  feature.ID,
		Config: models.JobConfig{
			PthreadThreads: req.PthreadThreads,
			OpenMPThreads:  req.OpenMPThreads,
		},
		InputPath: req.InputPath,
		OutputDir: req.OutputDir,
		CreatedAt: time.Now(),
	}
	if err := o.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("register job %s: %w", req.JobID, err)
	}

	o.logger.Info("Job queued", map[string]interface{}{
		"job_id":          job.ID,
		"feature":         feature.ID,
		"pthread_threads": req.PthreadThreads,
		"openmp_threads":  req.OpenMPThreads,
	})
	o.metrics.JobQueued()

	link := trace.LinkFromContext(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(job.Clone(), feature, link)
	}()

	return job.Clone(), nil
}

// Get returns a snapshot of the job
func (o *Orchestrator) Get(id string) (*models.Job, error) {
	return o.store.GetJob(id)
}

// List returns snapshots of every job
func (o *Orchestrator) List() []*models.Job {
	return o.store.GetAllJobs()
}

// Delete forgets a job. Unknown ids are not an error. A pipeline still
// running for the id stops at its next stage boundary.
func (o *Orchestrator) Delete(id string) error {
	if err := o.store.DeleteJob(id); err != nil && !errors.Is(err, store.ErrJobNotFound) {
		return err
	}
	return nil
}

// Active returns the number of pipelines holding a slot
func (o *Orchestrator) Active() int {
	return int(o.active.Load())
}

// RecoverInterrupted fails every non-terminal record left by a previous
// process. Call once before accepting submissions.
func (o *Orchestrator) RecoverInterrupted() (int, error) {
	recovered := 0
	for _, job := range o.store.GetAllJobs() {
		if models.IsTerminalState(job.Status) {
			continue
		}
		next := job.Clone()
		now := time.Now()
		next.Status = models.JobStatusFailed
		next.Message = "Processing failed"
		next.Error = "interrupted by service restart"
		next.Metrics = nil
		next.Artifacts = nil
		next.CompletedAt = &now
		next.StateTransitions = append(next.StateTransitions, models.StateTransition{
			From: job.Status, To: models.JobStatusFailed, Timestamp: now, Reason: next.Error,
		})
		if err := o.store.ReplaceJob(next); err != nil {
			return recovered, fmt.Errorf("recover job %s: %w", job.ID, err)
		}
		recovered++
		o.logger.Warn("Marked interrupted job failed", map[string]interface{}{"job_id": job.ID, "was": string(job.Status)})
	}
	return recovered, nil
}

// Wait blocks until every launched pipeline has returned
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops accepting jobs, cancels in-flight pipelines and waits for
// them to record their failure.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closed.Store(true)
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pipelines: %w", ctx.Err())
	}
}

func (o *Orchestrator) startSpan(ctx context.Context, name string, jobID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("job.id", jobID))
	return o.tracer.StartSpan(ctx, name, attrs...)
}
