package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values shared by the saga counters.
const (
	OutcomeApplied    = "applied"
	OutcomeRolledBack = "rolled_back"
	OutcomeRejected   = "rejected"
	OutcomeFailed     = "failed"
	OutcomeSynced     = "synced"
	OutcomeAborted    = "aborted"
	OutcomeRetryable  = "retryable"
	OutcomeJournaled  = "journaled"
	OutcomeDone       = "done"
	OutcomeDropped    = "dropped"
)

type Registry struct {
	reg *prometheus.Registry

	Redemptions        *prometheus.CounterVec
	Rollbacks          *prometheus.CounterVec
	Finalizations      *prometheus.CounterVec
	DeviceTasks        *prometheus.CounterVec
	LedgerCallSec      *prometheus.HistogramVec
	ReconciliationOpen prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	redemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_redemptions_total",
		Help: "Reward redemptions by outcome.",
	}, []string{"outcome"})
	rollbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_rollbacks_total",
		Help: "Compensating ledger rollbacks by outcome.",
	}, []string{"outcome"})
	finalizations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_finalizations_total",
		Help: "Finalization attempts by outcome.",
	}, []string{"outcome"})
	deviceTasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_device_tasks_total",
		Help: "Device side effects by device and outcome.",
	}, []string{"device", "outcome"})
	ledgerCall := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_ledger_call_seconds",
		Help:    "Latency of ledger calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	reconOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_reconciliation_open",
		Help: "Reconciliation records awaiting follow-up.",
	})

	r.MustRegister(redemptions, rollbacks, finalizations, deviceTasks, ledgerCall, reconOpen)
	return &Registry{
		reg:                r,
		Redemptions:        redemptions,
		Rollbacks:          rollbacks,
		Finalizations:      finalizations,
		DeviceTasks:        deviceTasks,
		LedgerCallSec:      ledgerCall,
		ReconciliationOpen: reconOpen,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
