package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Farm metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiln_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	WorkersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_workers_total",
			Help: "Total number of registered workers",
		},
	)

	WorkersOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_workers_online",
			Help: "Number of workers with a heartbeat inside the liveness window",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiln_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_api_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// Assignment metrics
	JobsAssignedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_jobs_assigned_total",
			Help: "Total number of jobs assigned to workers",
		},
	)

	JobsUnassignedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_jobs_unassigned_total",
			Help: "Total number of submissions left unassigned (no idle worker)",
		},
	)

	AssignmentLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiln_assignment_latency_seconds",
			Help:    "Time taken to pick a worker and persist an assignment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Watchdog metrics
	JobsResetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_jobs_reset_total",
			Help: "Total number of stuck jobs reset by the watchdog, by reason",
		},
		[]string{"reason"},
	)

	WatchdogPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiln_watchdog_pass_duration_seconds",
			Help:    "Time taken for a watchdog scan in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WatchdogPassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_watchdog_passes_total",
			Help: "Total number of watchdog scans completed",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkersOnline)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(JobsAssignedTotal)
	prometheus.MustRegister(JobsUnassignedTotal)
	prometheus.MustRegister(AssignmentLatency)
	prometheus.MustRegister(JobsResetTotal)
	prometheus.MustRegister(WatchdogPassDuration)
	prometheus.MustRegister(WatchdogPassesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
