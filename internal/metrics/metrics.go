// Package metrics provides Prometheus collectors for the approval engine.
// All collectors register with the default registry via promauto and are
// exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "approval_engine"

var (
	// EvaluationsTotal counts rule evaluations by result.
	// result: auto_approved | blocked | workflow | error
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "evaluations_total",
			Help:      "Total number of rule evaluations by result.",
		},
		[]string{"result"},
	)

	// RuleConflictsTotal counts evaluations where several active rules tied at the deepest threshold
	RuleConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "conflicts_total",
			Help:      "Total number of tie-broken rule conflicts.",
		},
	)

	WorkflowsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "created_total",
			Help:      "Total number of workflows created by plan length.",
		},
		[]string{"levels"},
	)

	// ActionsTotal counts submitted actions by kind and outcome.
	// outcome: recorded | advanced | completed | superseded | rejected
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "actions_total",
			Help:      "Total number of submitted actions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "action_duration_seconds",
			Help:      "Time to validate, persist and record an action.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"kind"},
	)

	HoldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "holds_total",
			Help:      "Total number of transactions held for manual review by reason.",
		},
		[]string{"reason"},
	)

	// IntegrityFailuresTotal is expected to stay at zero
	IntegrityFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "integrity_failures_total",
			Help:      "Total number of broken hash chains or replay mismatches.",
		},
	)

	RiskRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "request_duration_seconds",
			Help:      "Risk service call duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"status"},
	)

	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "pending",
			Help:      "Events fetched but not yet dispatched in the last relay cycle.",
		},
	)

	OutboxDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "dispatched_total",
			Help:      "Total number of relayed events by type and status.",
		},
		[]string{"type", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)
)
