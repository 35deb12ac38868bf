// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsProcessedTotal   *prometheus.CounterVec
	jobsTotal             *prometheus.CounterVec
	taskRetriesTotal      prometheus.Counter
	queueDepth            prometheus.Gauge
	batchDurationSeconds  prometheus.Histogram
	backupTotal           *prometheus.CounterVec
	backupDurationSeconds prometheus.Histogram
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_processed_total",
				Help: "Total items run through the content processor, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Total orchestrated jobs, labeled by final status.",
			},
			[]string{"status"},
		)

		taskRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_task_retries_total",
				Help: "Total fetch task retries scheduled by the queue.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_queue_depth",
				Help: "Number of tasks currently held by the in-memory queue.",
			},
		)

		batchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_batch_duration_seconds",
				Help:    "Histogram of batch processing durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		backupTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_backups_total",
				Help: "Total backup operations, labeled by kind and result.",
			},
			[]string{"kind", "result"},
		)

		backupDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_backup_duration_seconds",
				Help:    "Histogram of backup and restore durations.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem increments the processed-item counter for an outcome
// (success, duplicate, low_quality, error).
func ObserveItem(outcome string) {
	if itemsProcessedTotal != nil {
		itemsProcessedTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveJob increments the job counter for the given final status.
func ObserveJob(status string) {
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveTaskRetry increments the retry counter.
func ObserveTaskRetry() {
	if taskRetriesTotal != nil {
		taskRetriesTotal.Inc()
	}
}

// SetQueueDepth records the current queue size.
func SetQueueDepth(n int) {
	if queueDepth != nil {
		queueDepth.Set(float64(n))
	}
}

// ObserveBatch records the duration of one batch processing pass.
func ObserveBatch(d time.Duration) {
	if batchDurationSeconds != nil {
		batchDurationSeconds.Observe(d.Seconds())
	}
}

// ObserveBackup records a backup/restore operation outcome and duration.
func ObserveBackup(kind, result string, d time.Duration) {
	if backupTotal != nil {
		backupTotal.WithLabelValues(kind, result).Inc()
	}
	if backupDurationSeconds != nil {
		backupDurationSeconds.Observe(d.Seconds())
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil || httpRequestDuration == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
