// Package metrics holds the process-wide Prometheus collectors for the ledger.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

const namespace = "hkn_ledger"

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Ledger operations by name and outcome.",
	}, []string{"operation", "status"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Ledger operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	transactionVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transaction_volume",
		Help:      "Sum of committed amounts by transaction kind.",
	}, []string{"kind"})

	poolWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pool_acquire_wait_seconds",
		Help:      "Time spent waiting for a pooled connection.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	})

	poolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_connections_in_use",
		Help:      "Connections currently checked out of the pool.",
	})

	poolEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pool_events_total",
		Help:      "Pool exhaustion and discarded-connection events.",
	}, []string{"event"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by cache name and result.",
	}, []string{"cache", "result"})

	retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Retried attempts by operation.",
	}, []string{"operation"})
)

// RecordOperation records the outcome and latency of a ledger operation.
func RecordOperation(operation, status string, elapsed time.Duration) {
	operationsTotal.WithLabelValues(operation, status).Inc()
	operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordTransaction adds a committed log entry amount to the volume counter.
func RecordTransaction(kind string, amount decimal.Decimal) {
	f, _ := amount.Float64()
	transactionVolume.WithLabelValues(kind).Add(f)
}

func ObservePoolWait(d time.Duration) { poolWait.Observe(d.Seconds()) }

func SetPoolInUse(n int) { poolInUse.Set(float64(n)) }

func RecordPoolExhausted() { poolEvents.WithLabelValues("exhausted").Inc() }

func RecordPoolDiscard() { poolEvents.WithLabelValues("discarded").Inc() }

// RecordCacheLookup counts a hit or miss for the named cache.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(cache, result).Inc()
}

func RecordRetry(operation string) { retries.WithLabelValues(operation).Inc() }

var reconciliationMismatches = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "reconciliation_mismatches",
	Help:      "Accounts whose balance disagreed with the log in the last sweep.",
})

func SetReconciliationMismatches(n int) { reconciliationMismatches.Set(float64(n)) }

var httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "http_request_duration_seconds",
	Help:      "HTTP request latency by route and status.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status"})

// RecordHTTPRequest observes one served HTTP request.
func RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
