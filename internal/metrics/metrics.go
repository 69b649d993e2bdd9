package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenpush_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zenpush_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	ticksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenpush_ticks_total",
			Help: "Tick runs by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zenpush_tick_duration_seconds",
			Help:    "Wall time of a complete tick",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	remindersScanned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zenpush_reminders_scanned",
			Help: "Reminders returned by the most recent scan",
		},
	)

	remindersMatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zenpush_reminders_matched_total",
			Help: "Reminders found due in their tick window",
		},
	)

	remindersSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenpush_reminders_skipped_total",
			Help: "Due or candidate reminders skipped, by reason",
		},
		[]string{"reason"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenpush_jobs_total",
			Help: "Notification jobs by outcome and reminder type",
		},
		[]string{"status", "type"},
	)

	dispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zenpush_dispatch_latency_seconds",
			Help:    "Push transport send latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"outcome"},
	)

	jobsReconciled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zenpush_jobs_reconciled_total",
			Help: "Stale pending jobs moved to failed at tick start",
		},
	)

	duplicateJobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zenpush_duplicate_jobs_total",
			Help: "Job creations skipped because the idempotency key already existed",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenpush_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"key"},
	)

	breakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zenpush_transport_breaker_open",
			Help: "1 when the transport circuit breaker is not closed",
		},
		[]string{"breaker"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zenpush_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zenpush_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTick records one tick attempt from the given trigger.
func RecordTick(trigger, outcome string, duration time.Duration) {
	ticksTotal.WithLabelValues(trigger, outcome).Inc()
	if duration > 0 {
		tickDuration.Observe(duration.Seconds())
	}
}

// SetRemindersScanned sets the size of the latest reminder scan
func SetRemindersScanned(count int) {
	remindersScanned.Set(float64(count))
}

// RecordReminderMatched counts a reminder due in the current window
func RecordReminderMatched() {
	remindersMatched.Inc()
}

// RecordReminderSkipped counts a reminder skipped for reason
func RecordReminderSkipped(reason string) {
	remindersSkipped.WithLabelValues(reason).Inc()
}

// RecordJob records a job reaching status for a reminder type
func RecordJob(status, reminderType string) {
	jobsTotal.WithLabelValues(status, reminderType).Inc()
}

// RecordDispatch records transport latency for a send
func RecordDispatch(outcome string, latency time.Duration) {
	dispatchLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// RecordJobsReconciled adds n stale jobs failed during reconciliation
func RecordJobsReconciled(n int64) {
	jobsReconciled.Add(float64(n))
}

// RecordDuplicateJob records an idempotency key collision
func RecordDuplicateJob() {
	duplicateJobs.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(key string) {
	rateLimitRejections.WithLabelValues(key).Inc()
}

// SetBreakerOpen reports whether the named breaker is rejecting traffic
func SetBreakerOpen(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	breakerOpen.WithLabelValues(name).Set(v)
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
