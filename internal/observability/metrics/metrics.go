package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "energy_"

	resultSuccess  = "success"
	resultError    = "error"
	resultRejected = "rejected"
)

var (
	registerOnce sync.Once

	operationTotal   *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec

	distributedQuantity prometheus.Counter
	settledQuantity     *prometheus.CounterVec

	ledgerMembers      prometheus.Gauge
	ledgerTotalShare   prometheus.Gauge
	ledgerPeriod       prometheus.Gauge
	ledgerUnconsumed   prometheus.Gauge
	ledgerBattery      prometheus.Gauge
	ledgerSystemBal    *prometheus.GaugeVec
	ledgerZeroSum      prometheus.Gauge
	zeroSumViolations  prometheus.Counter
	exportTotal        *prometheus.CounterVec
	meterRateLimited   prometheus.Counter
	streamClients      prometheus.Gauge
	eventPublishErrors prometheus.Counter
	outboxDispatch     *prometheus.CounterVec
	eventConsumed      *prometheus.CounterVec
)

// Init registers engine metrics. When db is non-nil, gauges over the
// outbox and dead letter tables are registered as well.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		operationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "operation_total",
				Help: "Ledger operations by operation and result",
			},
			[]string{"operation", "result"},
		)
		operationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "operation_latency_seconds",
				Help:    "Ledger operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "result"},
		)
		distributedQuantity = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "distributed_quantity_total",
			Help: "Energy units allocated to members",
		})
		settledQuantity = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settled_quantity_total",
				Help: "Energy units settled by settlement phase",
			},
			[]string{"phase"},
		)
		ledgerMembers = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "ledger_members",
			Help: "Registered members",
		})
		ledgerTotalShare = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "ledger_total_share_bps",
			Help: "Sum of member shares in basis points",
		})
		ledgerPeriod = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "ledger_period",
			Help: "Number of completed distributions",
		})
		ledgerUnconsumed = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "ledger_unconsumed_quantity",
			Help: "Unconsumed quantity across current token lots",
		})
		ledgerBattery = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "battery_level",
			Help: "Shared battery charge level",
		})
		ledgerSystemBal = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "system_balance",
				Help: "System account balances",
			},
			[]string{"account"},
		)
		ledgerZeroSum = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "ledger_zero_sum",
			Help: "1 when all balances sum to zero at the last audit",
		})
		zeroSumViolations = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "zero_sum_violations_total",
			Help: "Audits that found a non-zero ledger sum",
		})
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_export_total",
				Help: "Ledger exports by format and result",
			},
			[]string{"format", "result"},
		)
		meterRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "meter_rate_limited_total",
			Help: "Metering batches refused by the rate limiter",
		})
		streamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "stream_clients",
			Help: "Connected websocket clients",
		})
		eventPublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "event_publish_errors_total",
			Help: "Domain events that failed to publish after commit",
		})
		outboxDispatch = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Outbox delivery outcomes (sent, retry, dead_letter, store_error)",
			},
			[]string{"result"},
		)
		eventConsumed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_consumed_total",
				Help: "Events seen by idempotent consumers by consumer and result",
			},
			[]string{"consumer", "result"},
		)

		prometheus.MustRegister(
			operationTotal,
			operationLatency,
			distributedQuantity,
			settledQuantity,
			ledgerMembers,
			ledgerTotalShare,
			ledgerPeriod,
			ledgerUnconsumed,
			ledgerBattery,
			ledgerSystemBal,
			ledgerZeroSum,
			zeroSumViolations,
			exportTotal,
			meterRateLimited,
			streamClients,
			eventPublishErrors,
			outboxDispatch,
			eventConsumed,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveOperation records a ledger operation.
func ObserveOperation(operation, result string, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if operationTotal != nil {
		operationTotal.WithLabelValues(operation, result).Inc()
	}
	if operationLatency != nil {
		operationLatency.WithLabelValues(operation, result).Observe(duration.Seconds())
	}
}

// AddDistributed counts allocated units.
func AddDistributed(quantity int64) {
	if distributedQuantity != nil && quantity > 0 {
		distributedQuantity.Add(float64(quantity))
	}
}

// AddSettled counts units settled in one phase (own, matched, imported, exported).
func AddSettled(phase string, quantity int64) {
	if settledQuantity != nil && quantity > 0 {
		settledQuantity.WithLabelValues(phase).Add(float64(quantity))
	}
}

// LedgerGauges is the set of values published after each commit.
type LedgerGauges struct {
	Members      int
	TotalShare   int
	Period       uint64
	Unconsumed   int64
	BatteryLevel int64
	Community    int64
	Export       int64
	Import       int64
}

// SetLedger updates ledger gauges.
func SetLedger(g LedgerGauges) {
	if ledgerMembers == nil {
		return
	}
	ledgerMembers.Set(float64(g.Members))
	ledgerTotalShare.Set(float64(g.TotalShare))
	ledgerPeriod.Set(float64(g.Period))
	ledgerUnconsumed.Set(float64(g.Unconsumed))
	ledgerBattery.Set(float64(g.BatteryLevel))
	ledgerSystemBal.WithLabelValues("community").Set(float64(g.Community))
	ledgerSystemBal.WithLabelValues("export").Set(float64(g.Export))
	ledgerSystemBal.WithLabelValues("import").Set(float64(g.Import))
}

// ObserveZeroSum records the outcome of a zero-sum audit.
func ObserveZeroSum(ok bool) {
	if ledgerZeroSum == nil {
		return
	}
	if ok {
		ledgerZeroSum.Set(1)
		return
	}
	ledgerZeroSum.Set(0)
	zeroSumViolations.Inc()
}

// ObserveExport records a ledger export.
func ObserveExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}

// IncMeterRateLimited counts a refused metering batch.
func IncMeterRateLimited() {
	if meterRateLimited != nil {
		meterRateLimited.Inc()
	}
}

// SetStreamClients sets the websocket client gauge.
func SetStreamClients(count int) {
	if streamClients != nil {
		streamClients.Set(float64(count))
	}
}

// IncEventPublishError counts a failed post-commit publish.
func IncEventPublishError() {
	if eventPublishErrors != nil {
		eventPublishErrors.Inc()
	}
}

// ObserveDispatch records one outbox delivery outcome.
func ObserveDispatch(result string) {
	if outboxDispatch != nil && result != "" {
		outboxDispatch.WithLabelValues(result).Inc()
	}
}

// ObserveConsumed records how a consumer handled one event.
func ObserveConsumed(consumer, result string) {
	if eventConsumed != nil && consumer != "" && result != "" {
		eventConsumed.WithLabelValues(consumer, result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultError    = resultError
	ResultRejected = resultRejected
)
