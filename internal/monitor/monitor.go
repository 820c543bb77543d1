// Package monitor exposes the process's Prometheus metrics and the HTTP
// server that serves them, adapted from the teacher's internal/monitor:
// same promauto-registered vars + /metrics handler, renamed from the
// pool/dispatcher/session taxonomy to the sandbox orchestrator's own.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sandbox Manager metrics
var (
	SandboxesTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sandboxd",
		Subsystem: "sandbox",
		Name:      "total",
		Help:      "Current number of non-deleted sandboxes by computed status",
	}, []string{"status"})

	SandboxCreateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sandboxd",
		Subsystem: "sandbox",
		Name:      "create_latency_seconds",
		Help:      "Latency of Sandbox Manager Create calls",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	SandboxDeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "sandbox",
		Name:      "deletes_total",
		Help:      "Total number of sandbox deletes (request-path and reconciler combined)",
	})
)

// Session Manager metrics
var (
	SessionEnsureRunningLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sandboxd",
		Subsystem: "session",
		Name:      "ensure_running_latency_seconds",
		Help:      "Latency of Session Manager EnsureRunning calls",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})

	SessionStartFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "session",
		Name:      "start_failures_total",
		Help:      "Total number of EnsureRunning calls that ended in FAILED",
	})
)

// Warmup Queue metrics (spec §4.6 stats counters, ported as Prometheus
// instruments instead of the original's dataclass counters)
var (
	WarmupEnqueueTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "warmup",
		Name:      "enqueue_total",
		Help:      "Total number of Warmup Queue Enqueue calls that admitted a task",
	})
	WarmupDedupTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "warmup",
		Name:      "dedup_total",
		Help:      "Total number of Enqueue calls rejected because the sandbox was already queued",
	})
	WarmupDropTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "warmup",
		Name:      "drop_total",
		Help:      "Total number of tasks dropped by the full-queue policy",
	})
	WarmupConsumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "warmup",
		Name:      "consumed_total",
		Help:      "Total number of tasks taken off the queue by a worker",
	})
	WarmupSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "warmup",
		Name:      "success_total",
		Help:      "Total number of tasks whose EnsureRunning succeeded",
	})
	WarmupFailureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "warmup",
		Name:      "failure_total",
		Help:      "Total number of tasks whose EnsureRunning failed",
	})
	WarmupActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sandboxd",
		Subsystem: "warmup",
		Name:      "active_workers",
		Help:      "Number of warmup workers currently processing a task",
	})
)

// Warm Pool Scheduler metrics
var (
	WarmPoolAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sandboxd",
		Subsystem: "warmpool",
		Name:      "available",
		Help:      "Count of AVAILABLE warm-pool sandboxes per profile",
	}, []string{"profile_id"})

	WarmPoolPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sandboxd",
		Subsystem: "warmpool",
		Name:      "pending",
		Help:      "Count of warm-pool sandboxes with warm_state IS NULL per profile",
	}, []string{"profile_id"})

	WarmPoolCycleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "warmpool",
		Name:      "cycle_errors_total",
		Help:      "Total number of per-profile errors logged during a scheduler cycle",
	})
)

// Reconciler metrics
var (
	ReconcilerTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "reconciler",
		Name:      "tasks_total",
		Help:      "Total number of reconciler task runs by kind and outcome",
	}, []string{"task", "outcome"})
)
