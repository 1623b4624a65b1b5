package models

// MetricRecord is parsed from the raw output of a single variant run.
// Nil fields mean the value could not be extracted.
type MetricRecord struct {
	ExecutionTime   *float64 `json:"execution_time"`
	FramesProcessed *int     `json:"frames_processed"`
	FPS             *float64 `json:"fps"`
	Success         bool     `json:"success"`
	Error           *string  `json:"error"`
}

// Clone returns a copy that shares no pointers with m
func (m MetricRecord) Clone() MetricRecord {
	c := MetricRecord{Success: m.Success}
	if m.ExecutionTime != nil {
		v := *m.ExecutionTime
		c.ExecutionTime = &v
	}
	if m.FramesProcessed != nil {
		v := *m.FramesProcessed
		c.FramesProcessed = &v
	}
	if m.FPS != nil {
		v := *m.FPS
		c.FPS = &v
	}
	if m.Error != nil {
		v := *m.Error
		c.Error = &v
	}
	return c
}

// VariantSummary is the comparison row for one variant
type VariantSummary struct {
	Time       *float64 `json:"time"`
	FPS        *float64 `json:"fps"`
	Frames     *int     `json:"frames"`
	Threads    int      `json:"threads"`
	Speedup    *float64 `json:"speedup"`
	Efficiency *float64 `json:"efficiency"`
}

// PerformanceSummary compares the three variants against the sequential baseline
type PerformanceSummary struct {
	Sequential VariantSummary `json:"sequential"`
	Pthread    VariantSummary `json:"pthread"`
	OpenMP     VariantSummary `json:"openmp"`
}

// Get returns the summary row for a variant
func (s PerformanceSummary) Get(v Variant) VariantSummary {
	switch v {
	case VariantPthread:
		return s.Pthread
	case VariantOpenMP:
		return s.OpenMP
	default:
		return s.Sequential
	}
}

// Float64 returns a pointer to v
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v
func Int(v int) *int { return &v }

// String returns a pointer to v
func String(v string) *string { return &v }

// JobResults is the results view of a completed job. Video and scene URLs
// are nil when the artifact does not exist or does not apply.
type JobResults struct {
	Status           JobStatus                `json:"status"`
	Feature          string                   `json:"feature"`
	IsSceneDetection bool                     `json:"is_scene_detection"`
	Metrics          PerformanceSummary       `json:"metrics"`
	Videos           map[string]*string       `json:"videos"`
	SceneResults     map[string]*string       `json:"scene_results,omitempty"`
	RawMetrics       map[Variant]MetricRecord `json:"raw_metrics"`
}
