// Package metrics provides Prometheus metrics for the runac service.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Runbility
	lookups      prometheus.Counter
	lookupZeroes prometheus.Counter

	// Wagers
	wagersSettled      *prometheus.CounterVec
	wagerStakeTotal    prometheus.Counter
	wagerPayoutTotal   prometheus.Counter
	wagerRejected      *prometheus.CounterVec
	reconciliationNeed *prometheus.CounterVec

	// Market
	purchases        *prometheus.CounterVec
	purchaseRejected *prometheus.CounterVec

	// Records and approvals
	recordsSubmitted   prometheus.Counter
	recordTransitions  *prometheus.CounterVec
	approvalsProcessed prometheus.Counter
	approvalsDuplicate prometheus.Counter
	pointsGranted      prometheus.Counter

	// Leaderboard
	leaderboardUsers   prometheus.Gauge
	leaderboardRebuild prometheus.Histogram
	rankingCacheHits   *prometheus.CounterVec

	// Queue and workers
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueRejected     *prometheus.CounterVec
	workerCount       prometheus.Gauge
	workerLatency     prometheus.Histogram
	workerErrors      *prometheus.CounterVec
	workerProcessed   prometheus.Counter
	storeLatency      *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	httpRateLimited   *prometheus.CounterVec
	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// customRegistry avoids the default Go runtime metrics on the global registry.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	customRegistry.MustRegister(collectors.NewGoCollector())
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "runac",
		subsystem:        "core",
		histogramBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		registry:         prometheus.DefaultRegisterer,
	}
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

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for all collectors
	m.lookups = m.counter("runbility_lookups_total", "Total number of runbility lookups")
	m.lookupZeroes = m.counter("runbility_guarded_total", "Lookups rejected by the numeric guard (returned 0)")

	m.wagersSettled = m.counterVec("wagers_settled_total", "Settled wagers by drawn multiplier", "multiplier")
	m.wagerStakeTotal = m.counter("wager_stake_points_total", "Sum of all settled stakes")
	m.wagerPayoutTotal = m.counter("wager_payout_points_total", "Sum of all settled payouts")
	m.wagerRejected = m.counterVec("wagers_rejected_total", "Wagers rejected before settlement", "reason")
	m.reconciliationNeed = m.counterVec("reconciliation_required_total",
		"Settlements that failed after the debit and need manual reconciliation", "stage")

	m.purchases = m.counterVec("market_purchases_total", "Completed market purchases", "item")
	m.purchaseRejected = m.counterVec("market_purchases_rejected_total", "Rejected market purchases", "reason")

	m.recordsSubmitted = m.counter("records_submitted_total", "Run records submitted for approval")
	m.recordTransitions = m.counterVec("record_transitions_total", "Run record status transitions", "status")
	m.approvalsProcessed = m.counter("approvals_processed_total", "Approval events processed by workers")
	m.approvalsDuplicate = m.counter("approvals_duplicate_total", "Approval events dropped as duplicates")
	m.pointsGranted = m.counter("points_granted_total", "Points granted by approved runs (merge delta)")

	m.leaderboardUsers = m.gauge("leaderboard_users", "Users currently ranked")
	m.leaderboardRebuild = m.histogram("leaderboard_rebuild_milliseconds", "Full leaderboard rebuild duration")
	m.rankingCacheHits = m.counterVec("ranking_cache_requests_total", "Ranking cache lookups", "result")

	m.queueSize = m.gauge("queue_size", "Current approval queue backlog")
	m.queueCapacity = m.gauge("queue_capacity", "Configured approval queue capacity")
	m.queueRejected = m.counterVec("queue_rejected_total", "Enqueue attempts rejected", "reason")
	m.workerCount = m.gauge("worker_count", "Number of approval workers")
	m.workerLatency = m.histogram("worker_processing_milliseconds", "Approval processing latency")
	m.workerErrors = m.counterVec("worker_errors_total", "Approval processing errors", "kind")
	m.workerProcessed = m.counter("worker_processed_total", "Approval events handled by workers")

	m.storeLatency = m.histogramVec("store_operation_milliseconds", "Storage operation latency", "driver", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Storage operation failures", "driver", "op")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by route", "endpoint", "method", "status_code")
	m.httpDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")
	m.httpRateLimited = m.counterVec("http_rate_limited_total", "Requests rejected by the per-user limiter", "endpoint")
	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")
}

// RecordLookup counts one runbility lookup; guarded marks a 0 result from bad input.
func RecordLookup(guarded bool) {
	globalManager.lookups.Inc()
	if guarded {
		globalManager.lookupZeroes.Inc()
	}
}

// RecordWagerSettled records one fully settled wager.
func RecordWagerSettled(multiplier float64, stake, payout int64) {
	globalManager.wagersSettled.WithLabelValues(strconv.FormatFloat(multiplier, 'f', -1, 64)).Inc()
	globalManager.wagerStakeTotal.Add(float64(stake))
	globalManager.wagerPayoutTotal.Add(float64(payout))
}

// RecordWagerRejected counts a wager rejected by validation or balance checks.
func RecordWagerRejected(reason string) {
	globalManager.wagerRejected.WithLabelValues(reason).Inc()
}

// RecordReconciliationRequired counts a settlement that broke after the debit.
func RecordReconciliationRequired(stage string) {
	globalManager.reconciliationNeed.WithLabelValues(stage).Inc()
}

// RecordPurchase counts a completed market purchase.
func RecordPurchase(itemID string) {
	globalManager.purchases.WithLabelValues(itemID).Inc()
}

// RecordPurchaseRejected counts a rejected market purchase.
func RecordPurchaseRejected(reason string) {
	globalManager.purchaseRejected.WithLabelValues(reason).Inc()
}

// RecordRecordSubmitted counts a submitted run record.
func RecordRecordSubmitted() {
	globalManager.recordsSubmitted.Inc()
}

// RecordRecordTransition counts a status change of a run record.
func RecordRecordTransition(status string) {
	globalManager.recordTransitions.WithLabelValues(status).Inc()
}

// RecordApprovalProcessed counts a processed approval event.
func RecordApprovalProcessed() {
	globalManager.approvalsProcessed.Inc()
}

// RecordApprovalDuplicate counts an approval dropped by the deduper.
func RecordApprovalDuplicate() {
	globalManager.approvalsDuplicate.Inc()
}

// RecordPointsGranted adds the balance delta produced by a merge grant.
func RecordPointsGranted(delta float64) {
	if delta > 0 {
		globalManager.pointsGranted.Add(delta)
	}
}

// UpdateLeaderboardUsers sets the number of ranked users.
func UpdateLeaderboardUsers(count int) {
	globalManager.leaderboardUsers.Set(float64(count))
}

// RecordLeaderboardRebuild records a full rebuild duration in milliseconds.
func RecordLeaderboardRebuild(ms float64) {
	globalManager.leaderboardRebuild.Observe(ms)
}

// RecordRankingCache records a ranking cache hit or miss.
func RecordRankingCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	globalManager.rankingCacheHits.WithLabelValues(result).Inc()
}

// UpdateQueueSize sets the current queue backlog.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the configured queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueRejected counts an enqueue that was refused.
func RecordQueueRejected(reason string) {
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the number of approval workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessed records a handled approval and its latency.
func RecordWorkerProcessed(latencyMs float64) {
	globalManager.workerProcessed.Inc()
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordWorkerError counts a worker failure of the given kind.
func RecordWorkerError(kind string) {
	globalManager.workerErrors.WithLabelValues(kind).Inc()
}

// RecordStoreOperation records storage latency and failure.
func RecordStoreOperation(driver, op string, latencyMs float64, err error) {
	globalManager.storeLatency.WithLabelValues(driver, op).Observe(latencyMs)
	if err != nil {
		globalManager.storeErrors.WithLabelValues(driver, op).Inc()
	}
}

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited(endpoint string) {
	globalManager.httpRateLimited.WithLabelValues(endpoint).Inc()
}

// RecordErrorByComponent records an error by component and type.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the registry that backs /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
