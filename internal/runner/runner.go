package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"time"

	"github.com/psantana5/parbench/pkg/logging"
)

// waitDelay bounds how long Wait keeps reading pipes held open by
// grandchildren after the process itself is gone.
const waitDelay = 5 * time.Second

// Spec describes one external program invocation
type Spec struct {
	JobID   string
	Name    string // stage label, e.g. "run:sequential"
	Path    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Executor runs external programs. Implemented by *Runner.
type Executor interface {
	Run(ctx context.Context, spec Spec) *Result
}

// Runner executes programs directly, never through a shell
type Runner struct {
	logger *logging.Logger
	stats  *Stats
}

// New creates a Runner. A nil logger discards output.
func New(logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{logger: logger, stats: &Stats{}}
}

// Stats returns the runner's counters
func (r *Runner) Stats() *Stats {
	return r.stats
}

// Run executes spec and always returns a Result. Launch faults and timeouts
// are reported as exit code 1 with an explanatory stderr.
func (r *Runner) Run(ctx context.Context, spec Spec) *Result {
	r.stats.Started.Add(1)
	t := newTiming()

	runCtx := ctx
	cancel := func() {}
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.WaitDelay = waitDelay
	isolate(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		t.complete()
		res := newResult(spec, 0, "", fmt.Sprintf("failed to start %s: %v", spec.Path, err), 1, ExitReasonLaunch, t)
		r.finish(res)
		return res
	}
	pid := cmd.Process.Pid

	err := cmd.Wait()
	t.complete()

	exitCode := 0
	reason := ExitReasonSuccess
	errText := stderr.String()

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		exitCode = 1
		reason = ExitReasonTimeout
		errText = fmt.Sprintf("Execution timeout after %d seconds", int(math.Round(spec.Timeout.Seconds())))
	case ctx.Err() != nil:
		exitCode = 1
		reason = ExitReasonCanceled
		errText = fmt.Sprintf("Execution canceled: %v", ctx.Err())
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			reason = ExitReasonError
			if exitCode < 0 {
				exitCode = 1
				reason = ExitReasonSignal
			}
		} else {
			exitCode = 1
			reason = ExitReasonError
			if errText == "" {
				errText = err.Error()
			}
		}
	}

	res := newResult(spec, pid, stdout.String(), errText, exitCode, reason, t)
	r.finish(res)
	return res
}

func (r *Runner) finish(res *Result) {
	r.stats.Record(res)

	fields := map[string]interface{}{
		"job_id":      res.JobID,
		"stage":       res.Name,
		"exit_code":   res.ExitCode,
		"exit_reason": string(res.Reason),
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.OK() {
		r.logger.Debug("process finished", fields)
		return
	}
	r.logger.Warn("process failed", fields)
}
