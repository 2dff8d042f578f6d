package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/go-comic-fetcher/models"
)

// Metrics bundles Prometheus collectors for the fetcher.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	OutcomesTotal    *prometheus.CounterVec
	DownloadedBytes  prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	LastRunTimestamp prometheus.Gauge
	DedupedDownloads prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comicfetch_requests_total",
			Help: "Total HTTP requests issued, by kind (page or image).",
		},
		[]string{"kind"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comicfetch_request_duration_seconds",
			Help:    "HTTP request latency by kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comicfetch_outcomes_total",
			Help: "Source checks by final status.",
		},
		[]string{"status"},
	)
	downloadedBytes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comicfetch_downloaded_bytes_total",
			Help: "Bytes written to downloaded comic images.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comicfetch_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	lastRun := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "comicfetch_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		},
	)
	deduped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comicfetch_deduped_downloads_total",
			Help: "Image downloads skipped because the same URL was already saved to that file in this run.",
		},
	)

	registry.MustRegister(requests, requestDuration, outcomes, downloadedBytes, errorsTotal, lastRun, deduped)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		OutcomesTotal:    outcomes,
		DownloadedBytes:  downloadedBytes,
		ErrorsTotal:      errorsTotal,
		LastRunTimestamp: lastRun,
		DedupedDownloads: deduped,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(kind string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveOutcome counts a finished source check.
func (m *Metrics) ObserveOutcome(o models.Outcome) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(string(o.Status)).Inc()
	if o.Status == models.StatusDownloaded && o.Bytes > 0 {
		m.DownloadedBytes.Add(float64(o.Bytes))
	}
	if o.Status == models.StatusFailed {
		m.ErrorsTotal.WithLabelValues(o.ErrorType).Inc()
	}
}

// IncDeduped counts a download served from the in-run cache.
func (m *Metrics) IncDeduped() {
	if m == nil {
		return
	}
	m.DedupedDownloads.Inc()
}

// MarkRun records the end of a run.
func (m *Metrics) MarkRun(t time.Time) {
	if m == nil {
		return
	}
	m.LastRunTimestamp.Set(float64(t.Unix()))
}
