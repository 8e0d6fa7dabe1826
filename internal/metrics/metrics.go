// Package metrics exposes the settlement engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var SettlementRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Name:      "runs_total",
	Help:      "Settlement runs by transactable kind and outcome.",
}, []string{"kind", "outcome"})

var LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Name:      "ledger_entries_total",
	Help:      "Ledger appends by entry kind; created=false counts idempotent replays.",
}, []string{"entry_kind", "created"})

var CompensationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Name:      "compensation_failures_total",
	Help:      "Compensating dispute writes that failed and need an operator.",
}, []string{"kind"})

var StoreCallSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "settlement",
	Name:      "store_call_seconds",
	Help:      "Latency of ledger and deal store calls made during settlement.",
	Buckets:   prometheus.DefBuckets,
}, []string{"op"})

var ReconciledTransactables = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Name:      "reconciled_total",
	Help:      "Stuck transactables moved to disputed by the reconciler.",
}, []string{"kind"})

func ObserveStoreCall(op string, start time.Time) {
	StoreCallSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settlement",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "API requests by method, route pattern and status code.",
}, []string{"method", "route", "status"})
