// Package metrics defines the Prometheus instruments for the ledger
// engine. Everything registers on the default registry and is served
// by the ops listener in cmd/server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts processor operations by op and result.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger processor operations by operation and result.",
	}, []string{"op", "result"})

	// CommitConflicts counts optimistic-concurrency conflicts that led
	// to a retry of the read-compute-write cycle.
	CommitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_commit_conflicts_total",
		Help: "Revision conflicts on atomic bill+customer commits.",
	})

	// RetriesExhausted counts operations that failed after the maximum
	// number of optimistic retries.
	RetriesExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_retries_exhausted_total",
		Help: "Operations that gave up after the retry bound.",
	})

	// BillsReopened counts CLOSED -> OPEN transitions.
	BillsReopened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_bills_reopened_total",
		Help: "Bills reopened by a later item or reversal.",
	})

	// DriftDetected counts customers whose rollups disagreed with the
	// fold over their bills.
	DriftDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_drift_detected_total",
		Help: "Customer rollup drift detections.",
	})

	// DriftRepaired counts successful rollup recomputations.
	DriftRepaired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_drift_repaired_total",
		Help: "Customer rollups repaired by full recompute.",
	})

	// Subscribers tracks currently attached snapshot subscribers.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_subscribers",
		Help: "Currently attached snapshot subscribers.",
	})

	// SubscribersDropped counts subscribers detached for not keeping up.
	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_subscribers_dropped_total",
		Help: "Subscribers force-detached after their buffer filled.",
	})
)
