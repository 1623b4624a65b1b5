package runner

import "sync/atomic"

// Stats are plain counters. Every counter is explainable by looking at
// the Results that produced it.
type Stats struct {
	Started        atomic.Uint64
	Completed      atomic.Uint64
	ExitZero       atomic.Uint64
	ExitNonZero    atomic.Uint64
	Timeouts       atomic.Uint64
	LaunchFailures atomic.Uint64
}

// Record updates counters from a finished Result
func (s *Stats) Record(r *Result) {
	s.Completed.Add(1)
	if r.ExitCode == 0 {
		s.ExitZero.Add(1)
	} else {
		s.ExitNonZero.Add(1)
	}
	switch r.Reason {
	case ExitReasonTimeout:
		s.Timeouts.Add(1)
	case ExitReasonLaunch:
		s.LaunchFailures.Add(1)
	}
}

// Snapshot returns current counter values
func (s *Stats) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"runs_started":         s.Started.Load(),
		"runs_completed":       s.Completed.Load(),
		"runs_exit_zero":       s.ExitZero.Load(),
		"runs_exit_non_zero":   s.ExitNonZero.Load(),
		"runs_timed_out":       s.Timeouts.Load(),
		"runs_launch_failures": s.LaunchFailures.Load(),
	}
}
