// Package metrics provides Prometheus metrics for the scoreboard service.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultRefreshInterval = 10 * time.Second

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          atomic.Bool
	refreshInterval  atomic.Int64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Scoreboard business metrics
	scoresSubmitted   *prometheus.CounterVec
	scoresReplayed    prometheus.Counter
	submissionLatency prometheus.Histogram
	playersRegistered prometheus.Counter
	linkOutcomes      *prometheus.CounterVec
	legacyChecks      *prometheus.CounterVec

	// Rank index metrics
	rankUpdates      prometheus.Counter
	rankErrors       prometheus.Counter
	rankRebuilds     *prometheus.CounterVec
	rankRebuildTime  prometheus.Histogram
	rankQueryLatency prometheus.Histogram
	dirtyLevels      prometheus.Gauge
	levelsTracked    prometheus.Gauge

	// Storage metrics
	storageLatency *prometheus.HistogramVec
	storageErrors  *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimited         *prometheus.CounterVec

	// Reindex queue and workers
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueDequeued    prometheus.Counter
	queueRejected    *prometheus.CounterVec
	workerCount      prometheus.Gauge
	workerJobLatency prometheus.Histogram
	workerErrors     prometheus.Counter
	workerRetries    prometheus.Counter

	// Live feed
	feedSubscribers prometheus.Gauge
	feedBroadcasts  prometheus.Counter
	feedDropped     prometheus.Counter

	// Errors by component
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process registry without default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager registered on the configured registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "scoreboard",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	m.enabled.Store(true)
	m.refreshInterval.Store(int64(defaultRefreshInterval))
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.scoresSubmitted = m.counterVec("scores_submitted_total", "Score submissions by outcome", "outcome")
	m.scoresReplayed = m.counter("scores_replayed_total", "Submissions answered from the idempotency cache")
	m.submissionLatency = m.histogram("submission_latency_milliseconds", "End-to-end score registration latency", m.histogramBuckets)
	m.playersRegistered = m.counter("players_registered_total", "Players created")
	m.linkOutcomes = m.counterVec("link_outcomes_total", "Legacy account link attempts by outcome", "outcome")
	m.legacyChecks = m.counterVec("legacy_checks_total", "Legacy credential checks by outcome", "outcome")

	m.rankUpdates = m.counter("rank_updates_total", "Rank index upserts applied")
	m.rankErrors = m.counter("rank_errors_total", "Rank index upserts that failed")
	m.rankRebuilds = m.counterVec("rank_rebuilds_total", "Levels re-derived from the score store", "reason")
	m.rankRebuildTime = m.histogram("rank_rebuild_duration_milliseconds", "Time to re-derive one level", m.histogramBuckets)
	m.rankQueryLatency = m.histogram("rank_query_latency_milliseconds", "Rank and top-K query latency", m.histogramBuckets)
	m.dirtyLevels = m.gauge("dirty_levels", "Levels whose rank index awaits re-derivation")
	m.levelsTracked = m.gauge("levels_tracked", "Levels held by the rank index")

	m.storageLatency = m.histogramVec("storage_latency_milliseconds", "Storage operation latency", "operation")
	m.storageErrors = m.counterVec("storage_errors_total", "Storage operation failures", "operation")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by route, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")
	m.rateLimited = m.counterVec("http_rate_limited_total", "Requests rejected by the rate limiter", "endpoint")

	m.queueSize = m.gauge("reindex_queue_size", "Pending reindex jobs")
	m.queueCapacity = m.gauge("reindex_queue_capacity", "Reindex queue capacity")
	m.queueEnqueued = m.counter("reindex_queue_enqueued_total", "Reindex jobs enqueued")
	m.queueDequeued = m.counter("reindex_queue_dequeued_total", "Reindex jobs dequeued")
	m.queueRejected = m.counterVec("reindex_queue_rejected_total", "Reindex jobs rejected", "reason")
	m.workerCount = m.gauge("reindex_workers", "Reindex workers running")
	m.workerJobLatency = m.histogram("reindex_job_latency_milliseconds", "Reindex job latency", m.histogramBuckets)
	m.workerErrors = m.counter("reindex_job_errors_total", "Reindex jobs that failed")
	m.workerRetries = m.counter("reindex_job_retries_total", "Reindex jobs scheduled for retry")

	m.feedSubscribers = m.gauge("feed_subscribers", "Open live leaderboard subscriptions")
	m.feedBroadcasts = m.counter("feed_broadcasts_total", "Leaderboard updates broadcast")
	m.feedDropped = m.counter("feed_dropped_total", "Leaderboard updates dropped because a buffer was full")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause time",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordSubmission counts one registerScore outcome (ok, unauthorized, invalid, error).
func RecordSubmission(outcome string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.scoresSubmitted.WithLabelValues(outcome).Inc()
}

// RecordSubmissionReplay counts a submission served from the idempotency cache.
func RecordSubmissionReplay() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.scoresReplayed.Inc()
}

// RecordSubmissionLatency records registration latency in milliseconds.
func RecordSubmissionLatency(ms float64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.submissionLatency.Observe(ms)
}

// RecordPlayerRegistered counts a created player.
func RecordPlayerRegistered() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.playersRegistered.Inc()
}

// RecordLinkOutcome counts a link attempt (linked, idempotent, already_linked, conflict, invalid_credential, error).
func RecordLinkOutcome(outcome string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.linkOutcomes.WithLabelValues(outcome).Inc()
}

// RecordLegacyCheck counts a legacy credential check (ok, bad_api_key, invalid_credential).
func RecordLegacyCheck(outcome string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.legacyChecks.WithLabelValues(outcome).Inc()
}

// RecordRankUpdate counts an applied rank index upsert.
func RecordRankUpdate() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.rankUpdates.Inc()
}

// RecordRankError counts a failed rank index upsert.
func RecordRankError() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.rankErrors.Inc()
}

// RecordRankRebuild records a level re-derivation and its duration.
func RecordRankRebuild(reason string, ms float64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.rankRebuilds.WithLabelValues(reason).Inc()
	globalManager.rankRebuildTime.Observe(ms)
}

// RecordRankQueryLatency records rank or top-K query latency.
func RecordRankQueryLatency(ms float64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.rankQueryLatency.Observe(ms)
}

// UpdateDirtyLevels sets the number of levels awaiting re-derivation.
func UpdateDirtyLevels(n int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.dirtyLevels.Set(float64(n))
}

// UpdateLevelsTracked sets the number of levels held by the rank index.
func UpdateLevelsTracked(n int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.levelsTracked.Set(float64(n))
}

// RecordStorageLatency records the latency of a storage operation.
func RecordStorageLatency(op string, ms float64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.storageLatency.WithLabelValues(op).Observe(ms)
}

// RecordStorageError counts a failed storage operation.
func RecordStorageError(op string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.storageErrors.WithLabelValues(op).Inc()
}

// RecordHTTPRequest counts one HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, ms float64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(ms)
}

// RecordRateLimited counts a request rejected by the limiter.
func RecordRateLimited(endpoint string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.rateLimited.WithLabelValues(endpoint).Inc()
}

// UpdateQueueSize sets the pending reindex job count.
func UpdateQueueSize(n int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.queueSize.Set(float64(n))
}

// UpdateQueueCapacity sets the reindex queue capacity.
func UpdateQueueCapacity(n int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.queueCapacity.Set(float64(n))
}

// RecordQueueEnqueue counts an enqueued job.
func RecordQueueEnqueue() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue counts a dequeued job.
func RecordQueueDequeue() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.queueDequeued.Inc()
}

// RecordQueueRejected counts a job the queue refused.
func RecordQueueRejected(reason string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the number of running reindex workers.
func UpdateWorkerCount(n int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.workerCount.Set(float64(n))
}

// RecordWorkerJobLatency records reindex job latency.
func RecordWorkerJobLatency(ms float64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.workerJobLatency.Observe(ms)
}

// RecordWorkerError counts a failed reindex job.
func RecordWorkerError() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.workerErrors.Inc()
}

// RecordWorkerRetry counts a reindex job scheduled for retry.
func RecordWorkerRetry() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.workerRetries.Inc()
}

// UpdateFeedSubscribers sets the open subscription count.
func UpdateFeedSubscribers(n int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.feedSubscribers.Set(float64(n))
}

// RecordFeedBroadcast counts a broadcast leaderboard update.
func RecordFeedBroadcast() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.feedBroadcasts.Inc()
}

// RecordFeedDropped counts an update dropped for a slow subscriber.
func RecordFeedDropped() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.feedDropped.Inc()
}

// RecordErrorByComponent counts an error attributed to a component.
func RecordErrorByComponent(component, errorType string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap bytes allocated.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(n int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(n))
}

// RecordSystemGCPauseTime records the average GC pause.
func RecordSystemGCPauseTime(ms float64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.systemGCPauseTime.Observe(ms)
}

// SetEnabled switches collection by the package recorders on or off.
func SetEnabled(enabled bool) { globalManager.enabled.Store(enabled) }

// SetRefreshInterval sets how often periodic gauges are refreshed. A
// non-positive interval is ignored.
func SetRefreshInterval(interval time.Duration) {
	if interval > 0 {
		globalManager.refreshInterval.Store(int64(interval))
	}
}

// Enabled reports whether the package recorders collect.
func Enabled() bool { return globalManager.Enabled() }

// RefreshInterval reports the global refresh interval.
func RefreshInterval() time.Duration { return globalManager.RefreshInterval() }

// GetRegistry returns the registry the global manager writes to.
func GetRegistry() *prometheus.Registry { return customRegistry }

// Since returns the milliseconds elapsed since start, the unit every
// latency histogram in this package uses.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
