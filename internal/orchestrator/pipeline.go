package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/parbench/internal/perf"
	"github.com/psantana5/parbench/internal/runner"
	"github.com/psantana5/parbench/pkg/models"
	"github.com/psantana5/parbench/pkg/store"
	"github.com/psantana5/parbench/pkg/tracing"
)

// Progress allocation per stage
const (
	progressCompileDone = 35
	progressConvert     = 96
	progressDone        = 100
)

var variantBase = map[models.Variant]int{
	models.VariantSequential: 40,
	models.VariantPthread:    60,
	models.VariantOpenMP:     80,
}

// variantTitle is used in stage and error messages
func variantTitle(v models.Variant) string {
	switch v {
	case models.VariantPthread:
		return "Pthread"
	case models.VariantOpenMP:
		return "OpenMP"
	default:
		return "Sequential"
	}
}

func variantLabel(v models.Variant) string {
	if v == models.VariantOpenMP {
		return "OpenMP"
	}
	return string(v)
}

// pipeline carries one job through its stages. cur is the last record
// this pipeline published; only this goroutine writes the job.
type pipeline struct {
	o       *Orchestrator
	cur     *models.Job
	feature models.Feature
}

func (o *Orchestrator) execute(job *models.Job, feature models.Feature, link trace.Link) {
	ctx, span := o.tracer.Tracer().Start(o.baseCtx, "job.pipeline",
		trace.WithLinks(link),
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.feature", feature.ID),
			attribute.Int("job.pthread_threads", job.Config.PthreadThreads),
			attribute.Int("job.openmp_threads", job.Config.OpenMPThreads),
		),
	)
	defer span.End()

	p := &pipeline{o: o, cur: job, feature: feature}

	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			p.fail(ctx, &stageError{stage: "queue", msg: "interrupted: service shutting down"})
			o.metrics.JobFinished(string(models.JobStatusFailed), false)
			return
		}
		defer o.sem.Release(1)
	}

	o.active.Add(1)
	defer o.active.Add(-1)
	o.metrics.JobStarted()

	err := p.guardedRun(ctx)
	switch {
	case err == nil:
		o.metrics.JobFinished(string(models.JobStatusCompleted), true)
	case errors.Is(err, errJobGone):
		o.logger.Info("Job removed while running, pipeline stopped", map[string]interface{}{"job_id": job.ID})
		o.metrics.JobFinished("removed", true)
	default:
		p.fail(ctx, err)
		o.metrics.JobFinished(string(models.JobStatusFailed), true)
	}
}

// guardedRun turns a panic in any stage into a job failure
func (p *pipeline) guardedRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &stageError{stage: "internal", msg: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	return p.run(ctx)
}

func (p *pipeline) run(ctx context.Context) error {
	if err := p.compile(ctx); err != nil {
		return err
	}
	for _, v := range models.Variants {
		if err := p.checkCanceled(ctx); err != nil {
			return err
		}
		if err := p.runVariant(ctx, v); err != nil {
			return err
		}
	}
	if err := p.checkCanceled(ctx); err != nil {
		return err
	}
	if err := p.convert(ctx); err != nil {
		return err
	}
	return p.complete()
}

func (p *pipeline) checkCanceled(ctx context.Context) error {
	if ctx.Err() != nil {
		return &stageError{stage: "shutdown", msg: "interrupted: service shutting down"}
	}
	return nil
}

// update publishes a new record derived from cur and broadcasts msg.
// Progress never moves backwards.
func (p *pipeline) update(status models.JobStatus, progress int, msg string, mutate func(*models.Job)) error {
	next := p.cur.Clone()
	if next.Status != status {
		next.StateTransitions = append(next.StateTransitions, models.StateTransition{
			From:      next.Status,
			To:        status,
			Timestamp: time.Now(),
		})
		next.Status = status
	}
	if progress > next.Progress {
		next.Progress = progress
	}
	next.Message = msg
	if mutate != nil {
		mutate(next)
	}
	return p.publish(next, msg)
}

func (p *pipeline) publish(next *models.Job, broadcast string) error {
	if err := p.o.store.ReplaceJob(next); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return errJobGone
		}
		return fmt.Errorf("publish job state: %w", err)
	}
	p.cur = next
	p.o.emitter.Emit(next.ID, broadcast, next.Progress)
	return nil
}

func (p *pipeline) compile(ctx context.Context) error {
	o := p.o
	if !o.cfg.CompileEnabled || len(o.cfg.CompileCommand) == 0 {
		return p.update(models.JobStatusCompiling, progressCompileDone, "Using prebuilt executables", func(j *models.Job) {
			now := time.Now()
			j.StartedAt = &now
		})
	}

	ctx, span := o.startSpan(ctx, "stage.compile", p.cur.ID)
	defer span.End()
	start := time.Now()
	defer func() { o.metrics.ObserveStage("compile", time.Since(start)) }()

	for i, v := range models.Variants {
		msg := fmt.Sprintf("Compiling %s version...", variantLabel(v))
		var mutate func(*models.Job)
		if i == 0 {
			mutate = func(j *models.Job) {
				now := time.Now()
				j.StartedAt = &now
			}
		}
		if err := p.update(models.JobStatusCompiling, 10*(i+1), msg, mutate); err != nil {
			return err
		}

		program := p.feature.Program(v)
		path, args := o.compileCommand(program)
		res := o.exec.Run(ctx, runner.Spec{
			JobID:   p.cur.ID,
			Name:    "compile:" + string(v),
			Path:    path,
			Args:    args,
			Dir:     o.cfg.ProjectRoot,
			Timeout: o.cfg.CompileTimeout,
		})
		o.metrics.ProcessRun(string(res.Reason))
		if !res.OK() {
			err := &stageError{stage: "compile", msg: fmt.Sprintf("%s compilation failed: %s", variantTitle(v), failureText(res))}
			tracing.SetError(ctx, err)
			return err
		}
	}

	return p.update(models.JobStatusCompiling, progressCompileDone, "Compilation complete!", nil)
}

// compileCommand expands the configured template for one program
func (o *Orchestrator) compileCommand(program string) (string, []string) {
	parts := make([]string, len(o.cfg.CompileCommand))
	for i, arg := range o.cfg.CompileCommand {
		parts[i] = strings.ReplaceAll(arg, "{program}", program)
	}
	path := parts[0]
	if strings.ContainsRune(path, filepath.Separator) && !filepath.IsAbs(path) {
		path = filepath.Join(o.cfg.ProjectRoot, path)
	}
	return path, parts[1:]
}

// Executable returns the on-disk path of a variant program
func (o *Orchestrator) Executable(f models.Feature, v models.Variant) string {
	return filepath.Join(o.cfg.ProjectRoot, o.cfg.BuildDir, f.Program(v)+o.cfg.ExecutableSuffix)
}

// ArtifactPath returns where a variant writes its output for a job
func ArtifactPath(outputDir string, f models.Feature, v models.Variant) string {
	return filepath.Join(outputDir, f.Program(v)+f.ArtifactExt())
}

func (p *pipeline) runVariant(ctx context.Context, v models.Variant) error {
	o := p.o
	job := p.cur
	base := variantBase[v]
	threads := job.Config.Threads(v)

	msg := fmt.Sprintf("Running %s version...", variantLabel(v))
	if v != models.VariantSequential {
		msg = fmt.Sprintf("Running %s version (%d threads)...", variantLabel(v), threads)
	}
	if err := p.update(models.RunningStatus(v), base, msg, nil); err != nil {
		return err
	}

	if v == models.VariantSequential {
		if err := p.checkPreconditions(); err != nil {
			return err
		}
	}

	ctx, span := o.startSpan(ctx, "stage.run", job.ID,
		attribute.String("variant", string(v)),
		attribute.Int("threads", threads),
	)
	defer span.End()

	output := ArtifactPath(job.OutputDir, p.feature, v)
	args := []string{job.InputPath, output}
	if v != models.VariantSequential {
		args = []string{job.InputPath, strconv.Itoa(threads), output}
	}

	res := o.exec.Run(ctx, runner.Spec{
		JobID:   job.ID,
		Name:    "run:" + string(v),
		Path:    o.Executable(p.feature, v),
		Args:    args,
		Dir:     o.cfg.ProjectRoot,
		Timeout: o.cfg.RunTimeout,
	})
	o.metrics.ProcessRun(string(res.Reason))
	o.metrics.ObserveStage("run:"+string(v), res.Duration)

	fields := map[string]interface{}{
		"job_id":      job.ID,
		"stage":       "run",
		"variant":     string(v),
		"exit_code":   res.ExitCode,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if !res.OK() {
		o.logger.Error("Variant execution failed", fields)
		err := &stageError{stage: "run", msg: fmt.Sprintf("%s execution failed: %s", variantTitle(v), failureText(res))}
		tracing.SetError(ctx, err)
		return err
	}

	rec := perf.Parse(res.Output())
	if rec.ExecutionTime != nil {
		fields["execution_time"] = *rec.ExecutionTime
		o.metrics.ObserveVariant(string(v), *rec.ExecutionTime)
		span.SetAttributes(attribute.Float64("execution_time", *rec.ExecutionTime))
	}
	fields["success"] = rec.Success
	o.logger.Info("Variant complete", fields)

	return p.update(models.RunningStatus(v), base+15, fmt.Sprintf("%s version complete!", variantTitle(v)), func(j *models.Job) {
		if j.Metrics == nil {
			j.Metrics = make(map[models.Variant]models.MetricRecord, len(models.Variants))
		}
		j.Metrics[v] = rec
		if fileExists(output) {
			if j.Artifacts == nil {
				j.Artifacts = make(map[models.Variant]string, len(models.Variants))
			}
			j.Artifacts[v] = output
		}
	})
}

func (p *pipeline) checkPreconditions() error {
	job := p.cur
	if _, err := os.Stat(job.InputPath); err != nil {
		return &stageError{stage: "precondition", msg: fmt.Sprintf("Input video not found: %s", job.InputPath)}
	}
	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		return &stageError{stage: "precondition", msg: fmt.Sprintf("Failed to create output directory: %v", err)}
	}
	return nil
}

func (p *pipeline) convert(ctx context.Context) error {
	o := p.o
	if p.feature.ProducesText() || o.conv == nil {
		return p.update(models.JobStatusConverting, progressConvert, "Collecting results...", nil)
	}
	if err := p.update(models.JobStatusConverting, progressConvert, "Converting videos to MP4...", nil); err != nil {
		return err
	}

	ctx, span := o.startSpan(ctx, "stage.convert", p.cur.ID)
	defer span.End()
	start := time.Now()

	var variants []models.Variant
	var srcs []string
	for _, v := range models.Variants {
		if path, ok := p.cur.Artifacts[v]; ok {
			variants = append(variants, v)
			srcs = append(srcs, path)
		}
	}
	final := o.conv.NormalizeAll(ctx, srcs)
	o.metrics.ObserveStage("convert", time.Since(start))

	return p.update(models.JobStatusConverting, progressConvert, "Conversion complete", func(j *models.Job) {
		for i, v := range variants {
			if fileExists(final[i]) {
				j.Artifacts[v] = final[i]
			} else {
				delete(j.Artifacts, v)
			}
		}
	})
}

func (p *pipeline) complete() error {
	next := p.cur.Clone()
	now := time.Now()
	next.StateTransitions = append(next.StateTransitions, models.StateTransition{
		From: next.Status, To: models.JobStatusCompleted, Timestamp: now,
	})
	next.Status = models.JobStatusCompleted
	next.Progress = progressDone
	next.Message = "Processing complete!"
	next.CompletedAt = &now
	if err := p.publish(next, "All processing complete!"); err != nil {
		return err
	}

	var elapsed time.Duration
	if next.StartedAt != nil {
		elapsed = now.Sub(*next.StartedAt)
	}
	p.o.logger.Info("Job completed", map[string]interface{}{
		"job_id":      next.ID,
		"feature":     next.Feature,
		"duration_ms": elapsed.Milliseconds(),
	})
	return nil
}

// fail publishes the terminal failed record. Metrics and artifacts from
// earlier stages are dropped; the last progress is kept on the record
// while the broadcast reports 0.
func (p *pipeline) fail(ctx context.Context, cause error) {
	msg := cause.Error()
	tracing.SetError(ctx, cause)

	next := p.cur.Clone()
	now := time.Now()
	next.StateTransitions = append(next.StateTransitions, models.StateTransition{
		From: next.Status, To: models.JobStatusFailed, Timestamp: now, Reason: msg,
	})
	next.Status = models.JobStatusFailed
	next.Message = "Processing failed"
	next.Error = msg
	next.Metrics = nil
	next.Artifacts = nil
	next.CompletedAt = &now

	if err := p.o.store.ReplaceJob(next); err != nil {
		if !errors.Is(err, store.ErrJobNotFound) {
			p.o.logger.Error("Failed to record job failure", map[string]interface{}{"job_id": next.ID, "error": err})
		}
	} else {
		p.cur = next
	}
	p.o.emitter.Emit(next.ID, "Error: "+msg, 0)

	p.o.logger.Error("Job failed", map[string]interface{}{
		"job_id": next.ID,
		"stage":  stageOf(cause),
		"error":  msg,
	})
}

func stageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return "publish"
}

// failureText is the stderr of a failed run, or a synthesized description
// when the program wrote nothing there.
func failureText(res *runner.Result) string {
	if s := strings.TrimSpace(res.Stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(res.Stdout); s != "" {
		return s
	}
	return fmt.Sprintf("exit status %d", res.ExitCode)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
