package perf

import (
	"github.com/psantana5/parbench/pkg/models"
)

// Aggregate builds the comparison report for one job. It is pure and
// propagates missing inputs as nil derived fields.
func Aggregate(seq, pthread, openmp models.MetricRecord, pthreadThreads, openmpThreads int) models.PerformanceSummary {
	seq = seq.Clone()
	return models.PerformanceSummary{
		Sequential: models.VariantSummary{
			Time:       seq.ExecutionTime,
			FPS:        seq.FPS,
			Frames:     seq.FramesProcessed,
			Threads:    1,
			Speedup:    models.Float64(1.0),
			Efficiency: models.Float64(100.0),
		},
		Pthread: compare(seq, pthread, pthreadThreads),
		OpenMP:  compare(seq, openmp, openmpThreads),
	}
}

// AggregateJob aggregates a job's stored metrics. Variants that never
// produced a record count as empty records.
func AggregateJob(job *models.Job) models.PerformanceSummary {
	return Aggregate(
		job.Metrics[models.VariantSequential],
		job.Metrics[models.VariantPthread],
		job.Metrics[models.VariantOpenMP],
		job.Config.PthreadThreads,
		job.Config.OpenMPThreads,
	)
}

func compare(seq, variant models.MetricRecord, threads int) models.VariantSummary {
	variant = variant.Clone()
	speedup := Speedup(seq.ExecutionTime, variant.ExecutionTime)
	return models.VariantSummary{
		Time:       variant.ExecutionTime,
		FPS:        variant.FPS,
		Frames:     variant.FramesProcessed,
		Threads:    threads,
		Speedup:    speedup,
		Efficiency: Efficiency(speedup, threads),
	}
}

// Speedup returns seq/variant rounded to 2 decimals, or nil when either
// time is missing or the variant time is not positive.
func Speedup(seqTime, variantTime *float64) *float64 {
	if seqTime == nil || variantTime == nil || *variantTime <= 0 {
		return nil
	}
	return models.Float64(round2(*seqTime / *variantTime))
}

// Efficiency returns speedup per thread as a percentage, rounded to 2 decimals.
func Efficiency(speedup *float64, threads int) *float64 {
	if speedup == nil || *speedup <= 0 || threads <= 0 {
		return nil
	}
	return models.Float64(round2(*speedup / float64(threads) * 100))
}
