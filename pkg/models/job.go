package models

import (
	"time"
)

// JobStatus represents the status of a benchmark job
type JobStatus string

const (
	JobStatusQueued            JobStatus = "queued"             // Registered, pipeline not started
	JobStatusCompiling         JobStatus = "compiling"          // Building variant executables
	JobStatusRunningSequential JobStatus = "running_sequential" // Sequential variant executing
	JobStatusRunningPthread    JobStatus = "running_pthread"    // Thread-pool variant executing
	JobStatusRunningOpenMP     JobStatus = "running_openmp"     // Data-parallel variant executing
	JobStatusConverting        JobStatus = "converting"         // Normalizing artifacts
	JobStatusCompleted         JobStatus = "completed"          // All variants finished
	JobStatusFailed            JobStatus = "failed"             // A stage failed permanently

	// JobStatusNotFound is only reported by lookups, never stored.
	JobStatusNotFound JobStatus = "not_found"
)

// Variant is one execution strategy of a feature
type Variant string

const (
	VariantSequential Variant = "sequential"
	VariantPthread    Variant = "pthread"
	VariantOpenMP     Variant = "openmp"
)

// Variants lists the variants in the order the pipeline runs them
var Variants = []Variant{VariantSequential, VariantPthread, VariantOpenMP}

// ParseVariant converts a logical variant token into a Variant
func ParseVariant(s string) (Variant, bool) {
	for _, v := range Variants {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}

// JobConfig holds the per-job thread counts. Immutable once the job starts.
type JobConfig struct {
	PthreadThreads int `json:"pthread_threads"`
	OpenMPThreads  int `json:"openmp_threads"`
}

// Threads returns the thread count a variant runs with
func (c JobConfig) Threads(v Variant) int {
	switch v {
	case VariantPthread:
		return c.PthreadThreads
	case VariantOpenMP:
		return c.OpenMPThreads
	default:
		return 1
	}
}

// Job is the record the orchestrator publishes for each submission.
// Published records are never mutated; every update replaces the record.
type Job struct {
	ID               string                   `json:"job_id"`
	Status           JobStatus                `json:"status"`
	Progress         int                      `json:"progress"`
	Message          string                   `json:"message"`
	Feature          string                   `json:"feature,omitempty"`
	Config           JobConfig                `json:"config"`
	InputPath        string                   `json:"input_path,omitempty"`
	OutputDir        string                   `json:"output_dir,omitempty"`
	Metrics          map[Variant]MetricRecord `json:"metrics,omitempty"`
	Artifacts        map[Variant]string       `json:"artifacts,omitempty"`
	Error            string                   `json:"error,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	StartedAt        *time.Time               `json:"started_at,omitempty"`
	CompletedAt      *time.Time               `json:"completed_at,omitempty"`
	StateTransitions []StateTransition        `json:"state_transitions,omitempty"`
}

// StateTransition records one FSM edge taken by a job
type StateTransition struct {
	From      JobStatus `json:"from"`
	To        JobStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Metrics != nil {
		c.Metrics = make(map[Variant]MetricRecord, len(j.Metrics))
		for k, v := range j.Metrics {
			c.Metrics[k] = v.Clone()
		}
	}
	if j.Artifacts != nil {
		c.Artifacts = make(map[Variant]string, len(j.Artifacts))
		for k, v := range j.Artifacts {
			c.Artifacts[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.StateTransitions != nil {
		c.StateTransitions = append([]StateTransition(nil), j.StateTransitions...)
	}
	return &c
}

// IsTextFeature reports whether the job's feature produces text artifacts
func (j *Job) IsTextFeature() bool {
	return IsTextFeatureKey(FeatureKey(j.Feature))
}
