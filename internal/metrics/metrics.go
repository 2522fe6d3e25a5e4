// Package metrics exposes Prometheus instrumentation for the sorting pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Lllllllleong/packingslipsorter/internal/models"
)

const namespace = "slipsorter"

// Stage labels used for document and failure counters.
const (
	StageGrouped      = "grouped"
	StageConsolidated = "consolidated"
	StageArchive      = "archive"
)

// Metrics holds the collectors of one service instance. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pagesClassified  *prometheus.CounterVec
	documentsWritten *prometheus.CounterVec
	writeFailures    *prometheus.CounterVec
	jobsFinished     *prometheus.CounterVec
	jobDuration      prometheus.Histogram
	activeJobs       prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pagesClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_classified_total",
			Help:      "Pages classified, by how the SKU was resolved.",
		}, []string{"resolution"}),
		documentsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_written_total",
			Help:      "Output documents written, by stage.",
		}, []string{"stage"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Documents skipped after a write or read failure, by stage.",
		}, []string{"stage"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of finished jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Jobs currently running.",
		}),
	}
	m.registry.MustRegister(
		m.pagesClassified,
		m.documentsWritten,
		m.writeFailures,
		m.jobsFinished,
		m.jobDuration,
		m.activeJobs,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PageClassified(r models.Resolution) {
	if m == nil {
		return
	}
	m.pagesClassified.WithLabelValues(string(r)).Inc()
}

func (m *Metrics) DocumentWritten(stage string) {
	if m == nil {
		return
	}
	m.documentsWritten.WithLabelValues(stage).Inc()
}

func (m *Metrics) WriteFailed(stage string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

func (m *Metrics) JobFinished(status models.JobStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
	m.jobsFinished.WithLabelValues(string(status)).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}
