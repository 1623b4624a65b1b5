package runner

import (
	"time"
)

// ExitReason describes why a process run ended
type ExitReason string

const (
	ExitReasonSuccess  ExitReason = "success"        // Exit code 0
	ExitReasonError    ExitReason = "error"          // Exit code != 0
	ExitReasonSignal   ExitReason = "signal"         // Killed by a signal we did not send
	ExitReasonTimeout  ExitReason = "timeout"        // Exceeded Spec.Timeout
	ExitReasonCanceled ExitReason = "canceled"       // Parent context canceled
	ExitReasonLaunch   ExitReason = "launch_failure" // Could not start the executable
)

// Result is the immutable outcome of one process run
type Result struct {
	JobID string `json:"job_id,omitempty"`
	Name  string `json:"name,omitempty"`
	PID   int    `json:"pid,omitempty"`

	Stdout   string     `json:"stdout"`
	Stderr   string     `json:"stderr"`
	ExitCode int        `json:"exit_code"`
	Reason   ExitReason `json:"exit_reason"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}

func newResult(spec Spec, pid int, stdout, stderr string, exitCode int, reason ExitReason, t *timing) *Result {
	return &Result{
		JobID:     spec.JobID,
		Name:      spec.Name,
		PID:       pid,
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  exitCode,
		Reason:    reason,
		StartTime: t.startedAt,
		EndTime:   t.completedAt,
		Duration:  t.duration(),
	}
}

// OK reports whether the process exited zero
func (r *Result) OK() bool {
	return r.ExitCode == 0
}

// Output returns stdout followed by stderr, the text the metrics parser reads
func (r *Result) Output() string {
	return r.Stdout + r.Stderr
}

// timing records start/end timestamps only
type timing struct {
	startedAt   time.Time
	completedAt time.Time
}

func newTiming() *timing {
	return &timing{startedAt: time.Now()}
}

func (t *timing) complete() {
	t.completedAt = time.Now()
}

func (t *timing) duration() time.Duration {
	if t.completedAt.IsZero() {
		return time.Since(t.startedAt)
	}
	return t.completedAt.Sub(t.startedAt)
}
