// Package telemetry exposes service metrics in the Prometheus text format
// and a host resource snapshot.
package telemetry

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
)

const namespace = "parbench"

// Metrics owns a private registry. All methods are safe on a nil receiver
// so components can run without telemetry.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	activeJobs    prometheus.Gauge
	queuedJobs    prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	processRuns   *prometheus.CounterVec
	conversions   *prometheus.CounterVec
	variantTime   *prometheus.HistogramVec
	bytesReceived *prometheus.CounterVec
	bytesSent     *prometheus.CounterVec
}

// New creates and registers every collector
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs that reached a terminal state",
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Pipelines currently executing a stage",
		}),
		queuedJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_queued",
			Help:      "Jobs waiting for a pipeline slot",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"stage"}),
		processRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_runs_total",
			Help:      "External program invocations by exit reason",
		}, []string{"reason"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Artifact normalizations by winning tier",
		}, []string{"tier"}),
		variantTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "variant_execution_seconds",
			Help:      "Execution time reported by variant programs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"variant"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_bytes_total",
			Help:      "Bytes received in HTTP request bodies",
		}, []string{"method", "route"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_response_bytes_total",
			Help:      "Bytes sent in HTTP responses",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal,
		m.activeJobs,
		m.queuedJobs,
		m.stageDuration,
		m.processRuns,
		m.conversions,
		m.variantTime,
		m.bytesReceived,
		m.bytesSent,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterCounterFunc exposes a monotonically increasing value read on scrape
func (m *Metrics) RegisterCounterFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// JobQueued is called when a job starts waiting for a slot
func (m *Metrics) JobQueued() {
	if m == nil {
		return
	}
	m.queuedJobs.Inc()
}

// JobStarted moves a job from waiting to executing
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.queuedJobs.Dec()
	m.activeJobs.Inc()
}

// JobFinished records a terminal status. wasActive is false when the job
// never left the queue.
func (m *Metrics) JobFinished(status string, wasActive bool) {
	if m == nil {
		return
	}
	if wasActive {
		m.activeJobs.Dec()
	} else {
		m.queuedJobs.Dec()
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records how long a pipeline stage took
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveVariant records the execution time a variant reported
func (m *Metrics) ObserveVariant(variant string, seconds float64) {
	if m == nil {
		return
	}
	m.variantTime.WithLabelValues(variant).Observe(seconds)
}

// ProcessRun counts an external program invocation
func (m *Metrics) ProcessRun(reason string) {
	if m == nil {
		return
	}
	m.processRuns.WithLabelValues(reason).Inc()
}

// Conversion counts a normalization by the tier that produced it
func (m *Metrics) Conversion(tier string) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(tier).Inc()
}

// Handler serves the registry in the text exposition format
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		families, err := m.registry.Gather()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to gather metrics: %v", err), http.StatusInternalServerError)
			return
		}

		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, format)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				fmt.Fprintf(&buf, "# error encoding %s: %v\n", mf.GetName(), err)
			}
		}

		w.Header().Set("Content-Type", string(format))
		_, _ = w.Write(buf.Bytes())
	})
}
