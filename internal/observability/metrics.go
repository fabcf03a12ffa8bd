// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	MessagesReceived *prometheus.CounterVec
	FeedReconnects   prometheus.Counter

	// Detection metrics
	CandidatesDetected *prometheus.CounterVec
	CandidatesAdmitted *prometheus.CounterVec
	CandidatesDropped  prometheus.Counter
	DuplicatesRejected prometheus.Counter

	// Execution metrics
	TradesExecuted *prometheus.CounterVec
	TradeRetries   prometheus.Counter
	SwapLatency    *prometheus.HistogramVec
	OracleLatency  *prometheus.HistogramVec

	// Position metrics
	OpenPositions  prometheus.Gauge
	RulesTriggered prometheus.Counter

	// Monitor metrics
	MonitorCycles  prometheus.Counter
	MonitorSkipped prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
	UptimeSeconds       prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_sniper"
	}

	return &Metrics{
		// Feed metrics
		MessagesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_received_total",
			Help:      "Total number of chat messages received by channel",
		}, []string{"channel"}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnections",
		}),

		// Detection metrics
		CandidatesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "candidates_detected_total",
			Help:      "Total number of token addresses detected by channel",
		}, []string{"channel"}),
		CandidatesAdmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "candidates_admitted_total",
			Help:      "Total number of candidates admitted past the dedup gate",
		}, []string{"channel"}),
		CandidatesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "candidates_dropped_total",
			Help:      "Total number of admitted candidates dropped due to full buffer",
		}),
		DuplicatesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "duplicates_rejected_total",
			Help:      "Total number of repeat sightings rejected by the dedup gate",
		}),

		// Execution metrics
		TradesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trades_executed_total",
			Help:      "Total number of trade executions by side and status",
		}, []string{"side", "status"}),
		TradeRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trade_retries_total",
			Help:      "Total number of transient-failure retries",
		}),
		SwapLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "swap_latency_seconds",
			Help:      "End-to-end swap execution latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"side"}),
		OracleLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "request_latency_seconds",
			Help:      "Swap oracle request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		// Position metrics
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "open",
			Help:      "Current number of OPEN positions",
		}),
		RulesTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "rules_triggered_total",
			Help:      "Total number of take-profit rules triggered",
		}),

		// Monitor metrics
		MonitorCycles: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycles_total",
			Help:      "Total number of take-profit evaluation cycles",
		}),
		MonitorSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "positions_skipped_total",
			Help:      "Total number of positions skipped because an operation was in flight",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful monitor cycle",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordMessageReceived increments the feed message counter.
func RecordMessageReceived(channel string) {
	DefaultMetrics.MessagesReceived.WithLabelValues(channel).Inc()
}

// RecordFeedReconnect increments the feed reconnect counter.
func RecordFeedReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// RecordCandidateDetected increments the detected candidate counter.
func RecordCandidateDetected(channel string) {
	DefaultMetrics.CandidatesDetected.WithLabelValues(channel).Inc()
}

// RecordCandidateAdmitted increments the admitted candidate counter.
func RecordCandidateAdmitted(channel string) {
	DefaultMetrics.CandidatesAdmitted.WithLabelValues(channel).Inc()
}

// RecordCandidateDropped increments the dropped candidate counter.
func RecordCandidateDropped() {
	DefaultMetrics.CandidatesDropped.Inc()
}

// RecordDuplicateRejected increments the dedup rejection counter.
func RecordDuplicateRejected() {
	DefaultMetrics.DuplicatesRejected.Inc()
}

// RecordTradeExecuted records a trade execution outcome.
func RecordTradeExecuted(side, status string, seconds float64) {
	DefaultMetrics.TradesExecuted.WithLabelValues(side, status).Inc()
	DefaultMetrics.SwapLatency.WithLabelValues(side).Observe(seconds)
}

// RecordTradeRetry increments the retry counter.
func RecordTradeRetry() {
	DefaultMetrics.TradeRetries.Inc()
}

// RecordOracleLatency records an oracle request duration.
func RecordOracleLatency(operation string, seconds float64) {
	DefaultMetrics.OracleLatency.WithLabelValues(operation).Observe(seconds)
}

// SetOpenPositions updates the open positions gauge.
func SetOpenPositions(n int) {
	DefaultMetrics.OpenPositions.Set(float64(n))
}

// RecordRuleTriggered increments the take-profit trigger counter.
func RecordRuleTriggered() {
	DefaultMetrics.RulesTriggered.Inc()
}

// RecordMonitorCycle records a completed evaluation cycle.
func RecordMonitorCycle(unixSeconds float64) {
	DefaultMetrics.MonitorCycles.Inc()
	DefaultMetrics.LastSuccessfulCycle.Set(unixSeconds)
}

// RecordMonitorSkip increments the busy-position skip counter.
func RecordMonitorSkip() {
	DefaultMetrics.MonitorSkipped.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
