// Package metrics exposes prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Error kinds
const (
	ErrorTransform = "transform"
	ErrorRecord    = "record"
	ErrorCommit    = "commit"
	ErrorWrite     = "write"
)

// File outcomes
const (
	FileProcessed = "processed"
	FileSkipped   = "skipped"
	FileFailed    = "failed"
)

// IngestMetrics defines the metrics operations used by the ingestion service.
type IngestMetrics interface {
	IncRecords()
	IncErrors(kind string, n int64)
	AddPostsWritten(n int64)
	AddAccountsWritten(n int64)
	ObserveCommit(d time.Duration)
	IncThrottlePauses()
	IncFiles(outcome string)
	SetResources(memoryPercent, cpuPercent float64)
}

var _ IngestMetrics = (*Metrics)(nil)
var _ IngestMetrics = Noop{}

// Metrics implements IngestMetrics with prometheus collectors.
type Metrics struct {
	Records         prometheus.Counter
	Errors          *prometheus.CounterVec // labels: kind
	PostsWritten    prometheus.Counter
	AccountsWritten prometheus.Counter
	Batches         prometheus.Counter
	CommitTime      prometheus.Histogram
	ThrottlePauses  prometheus.Counter
	Files           *prometheus.CounterVec // labels: outcome
	MemoryPercent   prometheus.Gauge
	CPUPercent      prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Records: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total number of source rows read",
		}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by kind",
		}, []string{"kind"}),
		PostsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_written_total",
			Help:      "Total number of posts inserted or modified",
		}),
		AccountsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_written_total",
			Help:      "Total number of accounts inserted or modified",
		}),
		Batches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of batch commits attempted",
		}),
		CommitTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Time taken to commit one batch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		ThrottlePauses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_pauses_total",
			Help:      "Total number of pauses caused by resource pressure",
		}),
		Files: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Total number of files by outcome",
		}, []string{"outcome"}),
		MemoryPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_used_percent",
			Help:      "Last sampled host memory utilization",
		}),
		CPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_load_percent",
			Help:      "Last sampled one-minute load relative to logical CPUs",
		}),
	}
}

func (m *Metrics) IncRecords() { m.Records.Inc() }
func (m *Metrics) IncThrottlePauses() { m.ThrottlePauses.Inc() }
func (m *Metrics) IncFiles(outcome string) { m.Files.WithLabelValues(outcome).Inc() }
func (m *Metrics) AddPostsWritten(n int64) { m.PostsWritten.Add(float64(n)) }
func (m *Metrics) AddAccountsWritten(n int64) { m.AccountsWritten.Add(float64(n)) }
func (m *Metrics) IncErrors(kind string, n int64) { m.Errors.WithLabelValues(kind).Add(float64(n)) }

// ObserveCommit records one batch commit and its duration.
func (m *Metrics) ObserveCommit(d time.Duration) {
	m.Batches.Inc()
	m.CommitTime.Observe(d.Seconds())
}

// SetResources updates the resource gauges.
func (m *Metrics) SetResources(memoryPercent, cpuPercent float64) {
	m.MemoryPercent.Set(memoryPercent)
	m.CPUPercent.Set(cpuPercent)
}

// Noop discards all metrics.
type Noop struct{}

func (Noop) IncRecords() {}
func (Noop) IncErrors(string, int64) {}
func (Noop) AddPostsWritten(int64) {}
func (Noop) AddAccountsWritten(int64) {}
func (Noop) ObserveCommit(time.Duration) {}
func (Noop) IncThrottlePauses() {}
func (Noop) IncFiles(string) {}
func (Noop) SetResources(float64, float64) {}

// Handler serves the collectors of gatherer in the prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
