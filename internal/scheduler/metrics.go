package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scheduler.
type Metrics struct {
	JobsSubmitted      prometheus.Counter
	DownloadsCompleted prometheus.Counter
	DownloadsFailed    prometheus.Counter
	RetriesTotal       prometheus.Counter
	FallbacksTotal     prometheus.Counter
	QueueDepth         prometheus.Gauge
	ActiveDownloads    prometheus.Gauge
	BreakerOpen        prometheus.Gauge
	DownloadDuration   prometheus.Histogram
}

// NewMetrics registers and returns the scheduler metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "soulspot_scheduler_jobs_submitted_total",
			Help: "The total number of download jobs submitted",
		}),
		DownloadsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "soulspot_scheduler_downloads_completed_total",
			Help: "The total number of downloads that completed successfully",
		}),
		DownloadsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "soulspot_scheduler_downloads_failed_total",
			Help: "The total number of jobs that terminally failed",
		}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "soulspot_scheduler_retries_total",
			Help: "The total number of retry attempts scheduled",
		}),
		FallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "soulspot_scheduler_fallbacks_total",
			Help: "The total number of alternative-candidate fallbacks",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soulspot_scheduler_queue_depth",
			Help: "The current number of jobs waiting in the queue",
		}),
		ActiveDownloads: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soulspot_scheduler_active_downloads",
			Help: "The number of downloads currently in flight",
		}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soulspot_scheduler_breaker_open",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "soulspot_scheduler_download_duration_seconds",
			Help:    "The duration of download attempts in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
}
