// Package perf turns raw variant output into metric records and compares
// the variants against the sequential baseline.
package perf

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/psantana5/parbench/pkg/models"
)

var (
	execTimeRe   = regexp.MustCompile(`Execution time:\s+([\d.]+)s`)
	processingRe = regexp.MustCompile(`Processing (\d+) frames`)
	processedRe  = regexp.MustCompile(`Processed (\d+) frames`)
	errorLineRe  = regexp.MustCompile(`[Ee]rror:?\s*(.+?)(?:\n|$)`)
)

// Parse extracts a MetricRecord from the combined stdout/stderr of a run.
// It never fails: anomalies degrade to nil fields and Success=false.
func Parse(raw string) (rec models.MetricRecord) {
	defer func() {
		if r := recover(); r != nil {
			rec = parsingError(fmt.Errorf("%v", r))
		}
	}()

	if m := execTimeRe.FindStringSubmatch(raw); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return parsingError(err)
		}
		rec.ExecutionTime = &v
		rec.Success = true
	}

	// "Processed" is checked last so it wins when both forms appear.
	for _, re := range []*regexp.Regexp{processingRe, processedRe} {
		if m := re.FindStringSubmatch(raw); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return parsingError(err)
			}
			rec.FramesProcessed = &n
		}
	}

	if rec.ExecutionTime != nil && rec.FramesProcessed != nil && *rec.ExecutionTime > 0 {
		rec.FPS = models.Float64(round2(float64(*rec.FramesProcessed) / *rec.ExecutionTime))
	}

	lower := strings.ToLower(raw)
	if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
		rec.Success = false
		if m := errorLineRe.FindStringSubmatch(raw); m != nil {
			if msg := strings.TrimSpace(m[1]); msg != "" {
				rec.Error = &msg
			}
		}
	}

	return rec
}

func parsingError(err error) models.MetricRecord {
	return models.MetricRecord{Error: models.String("Parsing error: " + err.Error())}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
