// Package monitoring owns the Prometheus metric families and the HTTP
// server that exposes them. All families share the omikuji namespace.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "omikuji"

var (
	promFeedValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_value",
		Help:      "Latest value fetched from the external datasource",
	}, []string{"feed", "network"})

	promContractValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "contract_value",
		Help:      "Latest answer read from the FluxAggregator contract, unscaled",
	}, []string{"feed", "network"})

	promFeedDeviation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_deviation_percent",
		Help:      "Percent deviation between feed value and contract value",
	}, []string{"feed", "network"})

	promContractRound = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "contract_round",
		Help:      "Latest round id reported by the contract",
	}, []string{"feed", "network"})

	promWalletBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "wallet_balance_wei",
		Help:      "Signer wallet balance in wei",
	}, []string{"network", "address"})

	promFeedLastUpdate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_last_update_timestamp",
		Help:      "Unix timestamp of the last confirmed on-chain update",
	}, []string{"feed", "network"})

	promUpdateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "update_decisions_total",
		Help:      "Update decisions partitioned by outcome and reason",
	}, []string{"feed", "network", "decision", "reason"})

	promUpdateAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "update_attempts_total",
		Help:      "Submission attempts, including fee-bump replacements",
	}, []string{"feed", "network"})

	promUpdateDeviation = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "update_deviation_percent",
		Help:      "Deviation observed at the moment an update was triggered",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25, 50, 100},
	})

	promUpdateLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "update_lag_seconds",
		Help:      "Seconds between the source timestamp and on-chain confirmation",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	promConsecutiveSkipped = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "consecutive_skipped_updates",
		Help:      "Number of polls in a row that decided not to update",
	}, []string{"feed", "network"})

	promGasUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gas_used_total",
		Help:      "Cumulative gas consumed by confirmed transactions",
	}, []string{"feed", "network"})

	promGasPriceGwei = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gas_price_gwei",
		Help:      "Effective gas price paid, in gwei",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	})

	promTransactionCost = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transaction_cost_wei",
		Help:      "Total wei spent per confirmed transaction",
		Buckets:   prometheus.ExponentialBuckets(1e12, 4, 12),
	})

	promGasEfficiency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gas_efficiency_percent",
		Help:      "gas_used / gas_limit per confirmed transaction, percent",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100},
	})

	promTransactionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transaction_count_total",
		Help:      "Terminal transaction outcomes by status",
	}, []string{"feed", "network", "status", "tx_type"})

	promGasLimit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gas_limit",
		Help:      "Gas limit used for the most recent submission",
	}, []string{"feed", "network"})

	promNumGasBumps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "num_gas_bumps_total",
		Help:      "Number of fee bumps applied to stuck transactions",
	})

	promGasBumpExceedsLimit = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gas_bump_exceeds_limit_total",
		Help:      "Number of times a fee bump was capped by the configured ceiling. Any counts of this type indicate a serious problem.",
	})

	promDatasourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "datasource_http_requests_total",
		Help:      "HTTP requests to the external datasource by status code",
	}, []string{"feed", "network", "status_code"})

	promDatasourceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "datasource_http_request_duration_seconds",
		Help:      "Latency of datasource HTTP requests",
		Buckets:   prometheus.DefBuckets,
	})

	promDatasourceAvailability = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "datasource_availability",
		Help:      "1 while the last fetch succeeded, 0 after a failure",
	}, []string{"feed", "network"})

	promDatasourceConsecutiveErrors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "datasource_consecutive_errors",
		Help:      "Consecutive fetch failures since the last success",
	}, []string{"feed", "network"})

	promParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_errors_total",
		Help:      "Datasource responses that could not be parsed",
	}, []string{"feed", "network"})

	promRPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "JSON-RPC requests by method",
	}, []string{"network", "method"})

	promRPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rpc_request_duration_seconds",
		Help:      "JSON-RPC request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "method"})

	promRPCErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_errors_total",
		Help:      "JSON-RPC requests that returned an error",
	}, []string{"network", "method"})

	promChainHead = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chain_head_block",
		Help:      "Most recently observed block number",
	}, []string{"network"})

	promInvalidValues = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invalid_values_total",
		Help:      "Feed values rejected before submission",
	}, []string{"feed", "network", "validation_type"})

	promCriticalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "critical_errors_total",
		Help:      "Unrecoverable component errors",
	}, []string{"component"})

	promDegradedMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "degraded_mode_active",
		Help:      "1 while a component is running with reduced functionality",
	}, []string{"component"})

	promRetryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transaction_retry_exhausted_total",
		Help:      "Submissions abandoned after exhausting fee-bump retries",
	}, []string{"feed", "network"})

	promKeyOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "key_operations_total",
		Help:      "Key backend operations by outcome",
	}, []string{"operation", "backend", "status"})

	promKeyCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "key_cache_hits_total",
		Help:      "Key lookups served from the TTL cache",
	})

	promKeyCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "key_cache_misses_total",
		Help:      "Key lookups that had to hit the backend",
	})

	promActiveDatafeeds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_datafeeds",
		Help:      "Feed monitors currently running",
	})

	promScheduledTasksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduled_tasks_active",
		Help:      "Scheduled tasks currently registered",
	})
)

func SetFeedValue(feed, network string, v float64) {
	promFeedValue.WithLabelValues(feed, network).Set(v)
}

func SetContractValue(feed, network string, v float64) {
	promContractValue.WithLabelValues(feed, network).Set(v)
}

func SetFeedDeviation(feed, network string, pct float64) {
	promFeedDeviation.WithLabelValues(feed, network).Set(pct)
}

func SetContractRound(feed, network string, round float64) {
	promContractRound.WithLabelValues(feed, network).Set(round)
}

func SetWalletBalance(network, address string, wei float64) {
	promWalletBalance.WithLabelValues(network, address).Set(wei)
}

func SetFeedLastUpdate(feed, network string, unix int64) {
	promFeedLastUpdate.WithLabelValues(feed, network).Set(float64(unix))
}

// RecordUpdateDecision counts one poll outcome. decision is "update" or
// "skip"; reason explains it (deviation_exceeded, min_frequency_elapsed,
// both_triggers, below_threshold, out_of_bounds, not_eligible). Polls that
// fail before a decision is reached are not counted here.
func RecordUpdateDecision(feed, network, decision, reason string) {
	promUpdateDecisions.WithLabelValues(feed, network, decision, reason).Inc()
}

func IncUpdateAttempt(feed, network string) {
	promUpdateAttempts.WithLabelValues(feed, network).Inc()
}

func ObserveUpdateDeviation(pct float64) {
	promUpdateDeviation.Observe(pct)
}

func ObserveUpdateLag(seconds float64) {
	promUpdateLag.Observe(seconds)
}

func SetConsecutiveSkipped(feed, network string, n float64) {
	promConsecutiveSkipped.WithLabelValues(feed, network).Set(n)
}

func AddGasUsed(feed, network string, gas float64) {
	promGasUsed.WithLabelValues(feed, network).Add(gas)
}

func ObserveGasPriceGwei(gwei float64) {
	promGasPriceGwei.Observe(gwei)
}

func ObserveTransactionCostWei(wei float64) {
	promTransactionCost.Observe(wei)
}

func ObserveGasEfficiency(pct float64) {
	promGasEfficiency.Observe(pct)
}

func IncTransactionCount(feed, network, status, txType string) {
	promTransactionCount.WithLabelValues(feed, network, status, txType).Inc()
}

func SetGasLimit(feed, network string, limit float64) {
	promGasLimit.WithLabelValues(feed, network).Set(limit)
}

func IncGasBump() {
	promNumGasBumps.Inc()
}

func IncGasBumpExceedsLimit() {
	promGasBumpExceedsLimit.Inc()
}

func IncDatasourceRequest(feed, network, statusCode string) {
	promDatasourceRequests.WithLabelValues(feed, network, statusCode).Inc()
}

func ObserveDatasourceDuration(d time.Duration) {
	promDatasourceDuration.Observe(d.Seconds())
}

func SetDatasourceAvailability(feed, network string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	promDatasourceAvailability.WithLabelValues(feed, network).Set(v)
}

func SetDatasourceConsecutiveErrors(feed, network string, n float64) {
	promDatasourceConsecutiveErrors.WithLabelValues(feed, network).Set(n)
}

func IncParseError(feed, network string) {
	promParseErrors.WithLabelValues(feed, network).Inc()
}

// RecordRPC tracks one JSON-RPC round trip.
func RecordRPC(network, method string, d time.Duration, err error) {
	promRPCRequests.WithLabelValues(network, method).Inc()
	promRPCDuration.WithLabelValues(network, method).Observe(d.Seconds())
	if err != nil {
		promRPCErrors.WithLabelValues(network, method).Inc()
	}
}

func SetChainHeadBlock(network string, block float64) {
	promChainHead.WithLabelValues(network).Set(block)
}

func IncInvalidValue(feed, network, validationType string) {
	promInvalidValues.WithLabelValues(feed, network, validationType).Inc()
}

func IncCriticalError(component string) {
	promCriticalErrors.WithLabelValues(component).Inc()
}

func SetDegradedMode(component string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	promDegradedMode.WithLabelValues(component).Set(v)
}

func IncRetryExhausted(feed, network string) {
	promRetryExhausted.WithLabelValues(feed, network).Inc()
}

func IncKeyOperation(operation, backend, status string) {
	promKeyOperations.WithLabelValues(operation, backend, status).Inc()
}

func IncKeyCacheHit() {
	promKeyCacheHits.Inc()
}

func IncKeyCacheMiss() {
	promKeyCacheMisses.Inc()
}

func SetActiveDatafeeds(n float64) {
	promActiveDatafeeds.Set(n)
}

func SetScheduledTasksActive(n float64) {
	promScheduledTasksActive.Set(n)
}
