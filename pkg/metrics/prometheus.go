// Package metrics provides Prometheus metrics for the kudos reward ledger.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Event intake and processing
	eventsReceived       prometheus.Counter
	eventsDuplicate      prometheus.Counter
	eventsProcessed      prometheus.Counter
	eventsFailed         *prometheus.CounterVec
	evaluationLatency    prometheus.Histogram
	pendingEvents        prometheus.Gauge
	eventsReprocessed    prometheus.Counter
	dispatchBackpressure prometheus.Counter

	// Rewards
	grants    *prometheus.CounterVec
	xpAwarded *prometheus.CounterVec
	levelUps  prometheus.Counter

	// Transactions
	txRetries  *prometheus.CounterVec
	txDuration *prometheus.HistogramVec

	// Team aggregate sync
	teamSyncUpdates prometheus.Counter
	teamSyncErrors  prometheus.Counter

	// Notifications
	notificationsPublished prometheus.Counter
	notificationErrors     prometheus.Counter

	// Leaderboard projection
	leaderboardUsers prometheus.Gauge

	// Queues and workers, labelled by queue / pool name
	queueSize          *prometheus.GaugeVec
	queueCapacity      *prometheus.GaugeVec
	queueEnqueued      *prometheus.CounterVec
	queueDequeued      *prometheus.CounterVec
	queueEnqueueErrors *prometheus.CounterVec
	workerCount        *prometheus.GaugeVec
	workerLatency      *prometheus.HistogramVec
	workerErrors       *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "kudos",
		subsystem:        "ledger",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

// RefreshInterval reports how often gauge refreshers should run.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Enabled reports whether recording functions have any effect.
func (m *Manager) Enabled() bool { return m.enabled }

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

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.eventsReceived = m.counter("events_received_total", "Events accepted from producers")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Producer events rejected as duplicates")
	m.eventsProcessed = m.counter("events_processed_total", "Events evaluated and marked processed")
	m.eventsFailed = m.counterVec("events_failed_total", "Events left pending with a processing error", "reason")
	m.evaluationLatency = m.histogram("evaluation_latency_milliseconds", "Evaluation and grant latency in milliseconds", m.histogramBuckets)
	m.pendingEvents = m.gauge("pending_events", "Events observed as pending by the last listing")
	m.eventsReprocessed = m.counter("events_reprocessed_total", "Events re-dispatched by an operator")
	m.dispatchBackpressure = m.counter("dispatch_backpressure_total", "Events not dispatched because the queue was full")

	m.grants = m.counterVec("grants_total", "Rule grants by rule id", "rule")
	m.xpAwarded = m.counterVec("xp_awarded_total", "XP credited to users by source", "source")
	m.levelUps = m.counter("level_ups_total", "Grants that moved a user to a higher level")

	m.txRetries = m.counterVec("tx_retries_total", "Transaction attempts retried after a write conflict", "store")
	m.txDuration = m.histogramVec("tx_duration_milliseconds", "Transaction duration including retries", "store")

	m.teamSyncUpdates = m.counter("team_sync_updates_total", "Team aggregate increments applied")
	m.teamSyncErrors = m.counter("team_sync_errors_total", "Team aggregate increments that failed")

	m.notificationsPublished = m.counter("notifications_published_total", "Reward notifications published")
	m.notificationErrors = m.counter("notification_errors_total", "Reward notifications that failed to publish")

	m.leaderboardUsers = m.gauge("leaderboard_users", "Users tracked by the leaderboard projection")

	m.queueSize = m.gaugeVec("queue_size", "Current number of queued items", "queue")
	m.queueCapacity = m.gaugeVec("queue_capacity", "Configured queue capacity", "queue")
	m.queueEnqueued = m.counterVec("queue_enqueued_total", "Items enqueued", "queue")
	m.queueDequeued = m.counterVec("queue_dequeued_total", "Items dequeued", "queue")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Enqueue attempts rejected", "queue", "reason")
	m.workerCount = m.gaugeVec("worker_count", "Workers running per pool", "pool")
	m.workerLatency = m.histogramVec("worker_processing_latency_milliseconds", "Per-item handler latency", "pool")
	m.workerErrors = m.counterVec("worker_errors_total", "Handler errors per pool", "pool")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100})
}

func on() bool { return globalManager != nil && globalManager.enabled }

// RecordEventReceived counts a producer event accepted for storage.
func RecordEventReceived() {
	if on() {
		globalManager.eventsReceived.Inc()
	}
}

// RecordEventDuplicate counts a producer event rejected by the deduper.
func RecordEventDuplicate() {
	if on() {
		globalManager.eventsDuplicate.Inc()
	}
}

// RecordEventProcessed counts an event committed as processed.
func RecordEventProcessed() {
	if on() {
		globalManager.eventsProcessed.Inc()
	}
}

// RecordEventFailed counts an event left pending.
func RecordEventFailed(reason string) {
	if on() {
		globalManager.eventsFailed.WithLabelValues(reason).Inc()
	}
}

// RecordEvaluationLatency observes one Process call.
func RecordEvaluationLatency(latencyMs float64) {
	if on() {
		globalManager.evaluationLatency.Observe(latencyMs)
	}
}

// UpdatePendingEvents sets the last observed pending backlog.
func UpdatePendingEvents(count int) {
	if on() {
		globalManager.pendingEvents.Set(float64(count))
	}
}

// RecordEventReprocessed counts an operator-triggered re-dispatch.
func RecordEventReprocessed() {
	if on() {
		globalManager.eventsReprocessed.Inc()
	}
}

// RecordDispatchBackpressure counts an event the dispatcher could not enqueue.
func RecordDispatchBackpressure() {
	if on() {
		globalManager.dispatchBackpressure.Inc()
	}
}

// RecordGrant counts one rule grant.
func RecordGrant(ruleID string) {
	if on() {
		globalManager.grants.WithLabelValues(ruleID).Inc()
	}
}

// RecordXPAwarded adds xp credited from source ("achievement", "admin").
func RecordXPAwarded(source string, xp int64) {
	if on() && xp > 0 {
		globalManager.xpAwarded.WithLabelValues(source).Add(float64(xp))
	}
}

// RecordLevelUp counts a level increase.
func RecordLevelUp() {
	if on() {
		globalManager.levelUps.Inc()
	}
}

// RecordTxRetry counts a conflicting transaction attempt.
func RecordTxRetry(store string) {
	if on() {
		globalManager.txRetries.WithLabelValues(store).Inc()
	}
}

// RecordTxDuration observes a whole RunInTx call.
func RecordTxDuration(store string, latencyMs float64) {
	if on() {
		globalManager.txDuration.WithLabelValues(store).Observe(latencyMs)
	}
}

// RecordTeamSyncUpdate counts an applied team increment.
func RecordTeamSyncUpdate() {
	if on() {
		globalManager.teamSyncUpdates.Inc()
	}
}

// RecordTeamSyncError counts a failed team increment.
func RecordTeamSyncError() {
	if on() {
		globalManager.teamSyncErrors.Inc()
	}
}

// RecordNotificationPublished counts a published reward notification.
func RecordNotificationPublished() {
	if on() {
		globalManager.notificationsPublished.Inc()
	}
}

// RecordNotificationError counts a notification that failed to publish.
func RecordNotificationError() {
	if on() {
		globalManager.notificationErrors.Inc()
	}
}

// UpdateLeaderboardUsers sets the number of ranked users.
func UpdateLeaderboardUsers(count int) {
	if on() {
		globalManager.leaderboardUsers.Set(float64(count))
	}
}

// UpdateQueueSize sets the current length of queue.
func UpdateQueueSize(queue string, size int) {
	if on() {
		globalManager.queueSize.WithLabelValues(queue).Set(float64(size))
	}
}

// UpdateQueueCapacity sets the configured capacity of queue.
func UpdateQueueCapacity(queue string, capacity int) {
	if on() {
		globalManager.queueCapacity.WithLabelValues(queue).Set(float64(capacity))
	}
}

// RecordQueueEnqueue counts an accepted item.
func RecordQueueEnqueue(queue string) {
	if on() {
		globalManager.queueEnqueued.WithLabelValues(queue).Inc()
	}
}

// RecordQueueDequeue counts a delivered item.
func RecordQueueDequeue(queue string) {
	if on() {
		globalManager.queueDequeued.WithLabelValues(queue).Inc()
	}
}

// RecordQueueEnqueueError counts a rejected item.
func RecordQueueEnqueueError(queue, reason string) {
	if on() {
		globalManager.queueEnqueueErrors.WithLabelValues(queue, reason).Inc()
	}
}

// UpdateWorkerCount sets the number of workers in pool.
func UpdateWorkerCount(pool string, count int) {
	if on() {
		globalManager.workerCount.WithLabelValues(pool).Set(float64(count))
	}
}

// RecordWorkerProcessingLatency observes one handled item.
func RecordWorkerProcessingLatency(pool string, latencyMs float64) {
	if on() {
		globalManager.workerLatency.WithLabelValues(pool).Observe(latencyMs)
	}
}

// RecordWorkerError counts a handler error.
func RecordWorkerError(pool string) {
	if on() {
		globalManager.workerErrors.WithLabelValues(pool).Inc()
	}
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if on() {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration observes an HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	if on() {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
	}
}

// RecordErrorByComponent counts an error raised by component.
func RecordErrorByComponent(component, errorType string) {
	if on() {
		globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// UpdateSystemMemoryUsage sets allocated heap bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if on() {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	if on() {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime observes the average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	if on() {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// GetRegistry returns the registry every global collector is registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RefreshInterval reports how often the process should refresh its
// sampled gauges (memory, goroutines, queue depth).
func RefreshInterval() time.Duration { return globalManager.refreshInterval }

// Total sums every counter or gauge sample of the named family in the global
// registry. name is the fully-qualified metric name.
func Total(name string) (float64, error) {
	families, err := customRegistry.Gather()
	if err != nil {
		return 0, errors.Join(ErrObserveFailed, err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range f.GetMetric() {
			if c := m.GetCounter(); c != nil {
				sum += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				sum += g.GetValue()
			}
		}
		return sum, nil
	}
	return 0, ErrNotFound
}
