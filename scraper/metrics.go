package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for crawl, download and organize runs.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	TasksEmittedTotal prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	DownloadsTotal    *prometheus.CounterVec
	DownloadedBytes   prometheus.Counter
	FiledTotal        *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fenix_requests_total",
			Help: "Total page requests issued by the crawler.",
		},
		[]string{"stage"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fenix_request_duration_seconds",
			Help:    "Page request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	tasks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fenix_download_tasks_total",
			Help: "Total download tasks emitted by the crawler.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fenix_errors_total",
			Help: "Total crawler errors by type.",
		},
		[]string{"error_type"},
	)
	downloads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fenix_downloads_total",
			Help: "Download outcomes (downloaded, already_staged, failed kinds).",
		},
		[]string{"outcome"},
	)
	downloadedBytes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fenix_downloaded_bytes_total",
			Help: "Bytes written to the staging directory.",
		},
	)
	filed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fenix_organized_files_total",
			Help: "Organizer outcomes (filed, duplicate, failed).",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, tasks, errorsTotal, downloads, downloadedBytes, filed)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		TasksEmittedTotal: tasks,
		ErrorsTotal:       errorsTotal,
		DownloadsTotal:    downloads,
		DownloadedBytes:   downloadedBytes,
		FiledTotal:        filed,
	}
}

// IncRequest increments the requests counter for a stage.
func (m *Metrics) IncRequest(stage string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(stage).Inc()
}

// ObserveDuration records a request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncTasks increments the emitted download tasks counter.
func (m *Metrics) IncTasks() {
	if m == nil {
		return
	}
	m.TasksEmittedTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncDownload records a download outcome.
func (m *Metrics) IncDownload(outcome string) {
	if m == nil {
		return
	}
	m.DownloadsTotal.WithLabelValues(outcome).Inc()
}

// AddBytes adds n staged bytes.
func (m *Metrics) AddBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.DownloadedBytes.Add(float64(n))
}

// IncFiled records an organizer outcome.
func (m *Metrics) IncFiled(outcome string) {
	if m == nil {
		return
	}
	m.FiledTotal.WithLabelValues(outcome).Inc()
}
