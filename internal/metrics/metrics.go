// Package metrics provides the Prometheus instrumentation shared by the
// Relayer and Indexer processes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lockmint_bridge"

// Chain watcher metrics (§4.2)
var (
	// BlocksScannedTotal counts blocks that have passed through a window scan.
	BlocksScannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_scanned_total",
			Help:      "total blocks covered by watcher scan windows",
		},
		[]string{"chain"},
	)

	// WatcherLagBlocks is how far a chain's cursor trails its head.
	WatcherLagBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_lag_blocks",
			Help:      "blocks between chain head and the last synced cursor",
		},
		[]string{"chain"},
	)

	// WatcherTickDuration times one poll-scan-advance cycle.
	WatcherTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "watcher_tick_duration_seconds",
			Help:      "duration of one watcher poll/scan/advance cycle",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"chain"},
	)

	// EventsObservedTotal counts raw logs dispatched to a handler.
	EventsObservedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_observed_total",
			Help:      "chain events dispatched to a handler",
		},
		[]string{"chain", "event_type"},
	)

	// ReorgsDetectedTotal counts cursor rewinds triggered by a hash mismatch.
	ReorgsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reorgs_detected_total",
			Help:      "detected reorganizations that forced a cursor rewind",
		},
		[]string{"chain"},
	)
)

// Relayer processor metrics (§4.4)
var (
	// RelayerTransactionsTotal counts BridgeTransaction status transitions by the status entered.
	RelayerTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayer_transactions_total",
			Help:      "bridge transactions by status transition",
		},
		[]string{"status"}, // pending, relaying, completed, failed
	)

	// RelayerRelayDuration times pending->completed/failed.
	RelayerRelayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relayer_relay_duration_seconds",
			Help:      "time from deposit detection to withdrawal outcome",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"target_chain"},
	)

	// RelayerRetriesTotal counts retryable submission attempts.
	RelayerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayer_submission_retries_total",
			Help:      "retried withdraw submissions",
		},
		[]string{"target_chain"},
	)

	// RelayerLiquidityRejectionsTotal counts insufficient-liquidity refusals.
	RelayerLiquidityRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayer_liquidity_rejections_total",
			Help:      "withdrawals refused for insufficient liquidity",
		},
		[]string{"target_chain", "token"},
	)

	// RelayerGasPriceGwei is the last gas price plan submitted per chain.
	RelayerGasPriceGwei = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relayer_gas_price_gwei",
			Help:      "last planned gas price, post-ceiling",
		},
		[]string{"target_chain"},
	)

	// RelayerPendingNonceGauge tracks the sender's last used nonce per chain.
	RelayerPendingNonceGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relayer_nonce_current",
			Help:      "current relayer sender nonce",
		},
		[]string{"target_chain"},
	)
)

// Indexer processor metrics (§4.5)
var (
	// TransfersTotal counts Transfer rows by status.
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "correlated transfers by status",
		},
		[]string{"status"}, // pending, completed
	)

	// UncorrelatedWithdrawsTotal counts Withdraw events that arrived with no
	// matching Transfer row yet.
	UncorrelatedWithdrawsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uncorrelated_withdraws_total",
			Help:      "withdraw events recorded before their matching deposit",
		},
		[]string{"chain"},
	)

	// CorrelationLatency times deposit-detected to withdraw-detected.
	CorrelationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_correlation_latency_seconds",
			Help:      "time between a deposit and its matching withdraw event",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"source_chain", "target_chain"},
	)
)

// Reconciliation metrics (§7)
var (
	// ReconciledTransactionsTotal counts rows flipped completed by a sweep.
	ReconciledTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_transactions_total",
			Help:      "relaying transactions confirmed processed by a reconciliation sweep",
		},
		[]string{"target_chain"},
	)

	// StuckRelayingGauge is the current count of rows still stuck relaying.
	StuckRelayingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stuck_relaying_transactions",
			Help:      "transactions currently in relaying status",
		},
	)
)

// Database metrics
var (
	// DBQueryDuration times a repository call.
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "database query duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation", "table"},
	)
)

// RecordWatcherTick records one poll/scan/advance cycle for chain.
func RecordWatcherTick(chain string, durationSeconds float64, blocksScanned int64, chainHead, lastSynced uint64) {
	WatcherTickDuration.WithLabelValues(chain).Observe(durationSeconds)
	if blocksScanned > 0 {
		BlocksScannedTotal.WithLabelValues(chain).Add(float64(blocksScanned))
	}
	if chainHead >= lastSynced {
		WatcherLagBlocks.WithLabelValues(chain).Set(float64(chainHead - lastSynced))
	}
}

// RecordEventObserved records one dispatched log.
func RecordEventObserved(chain, eventType string) {
	EventsObservedTotal.WithLabelValues(chain, eventType).Inc()
}

// RecordReorg records a cursor rewind on chain.
func RecordReorg(chain string) {
	ReorgsDetectedTotal.WithLabelValues(chain).Inc()
}

// RecordTransactionStatus records a BridgeTransaction status transition.
func RecordTransactionStatus(status string) {
	RelayerTransactionsTotal.WithLabelValues(status).Inc()
}

// RecordRelayOutcome records the end-to-end relay duration for a completed
// or failed transaction.
func RecordRelayOutcome(targetChain string, durationSeconds float64) {
	RelayerRelayDuration.WithLabelValues(targetChain).Observe(durationSeconds)
}

// RecordSubmissionRetry records one retried withdraw submission.
func RecordSubmissionRetry(targetChain string) {
	RelayerRetriesTotal.WithLabelValues(targetChain).Inc()
}

// RecordLiquidityRejection records a refused withdrawal.
func RecordLiquidityRejection(targetChain, token string) {
	RelayerLiquidityRejectionsTotal.WithLabelValues(targetChain, token).Inc()
}

// UpdateGasPrice records the last planned gas price for targetChain, in gwei.
func UpdateGasPrice(targetChain string, gasPriceGwei float64) {
	RelayerGasPriceGwei.WithLabelValues(targetChain).Set(gasPriceGwei)
}

// UpdateNonce records the relayer sender's current nonce for targetChain.
func UpdateNonce(targetChain string, nonce uint64) {
	RelayerPendingNonceGauge.WithLabelValues(targetChain).Set(float64(nonce))
}

// RecordTransferStatus records a Transfer status transition.
func RecordTransferStatus(status string) {
	TransfersTotal.WithLabelValues(status).Inc()
}

// RecordUncorrelatedWithdraw records a Withdraw event seen before its
// matching Deposit.
func RecordUncorrelatedWithdraw(chain string) {
	UncorrelatedWithdrawsTotal.WithLabelValues(chain).Inc()
}

// RecordCorrelationLatency records the time between a deposit and its
// matching withdraw event.
func RecordCorrelationLatency(sourceChain, targetChain string, seconds float64) {
	CorrelationLatency.WithLabelValues(sourceChain, targetChain).Observe(seconds)
}

// RecordReconciled records one relaying row confirmed processed by a sweep.
func RecordReconciled(targetChain string) {
	ReconciledTransactionsTotal.WithLabelValues(targetChain).Inc()
}

// UpdateStuckRelaying updates the current count of relaying rows.
func UpdateStuckRelaying(count int) {
	StuckRelayingGauge.Set(float64(count))
}

// NewHTTPServer builds the /metrics scrape endpoint each binary exposes
// on its own listener, independent of the gRPC health service.
func NewHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
