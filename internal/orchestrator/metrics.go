package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal counts finished tasks.
	// Labels: status (COMPLETED, FAILED, CANCELLED)
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excelmind",
			Subsystem: "orchestrator",
			Name:      "tasks_total",
			Help:      "Total number of finished tasks by final status",
		},
		[]string{"status"},
	)

	// PhaseDuration tracks how long each phase takes.
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "excelmind",
			Subsystem: "orchestrator",
			Name:      "phase_duration_seconds",
			Help:      "Duration of orchestrator phases in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// ToolCallsTotal counts tool calls.
	// Labels: tool, outcome (success, error, rejected)
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excelmind",
			Subsystem: "orchestrator",
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	// LLMCallsTotal counts model calls.
	// Labels: outcome (success, error, fallback)
	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excelmind",
			Subsystem: "orchestrator",
			Name:      "llm_calls_total",
			Help:      "Total number of model calls by outcome",
		},
		[]string{"outcome"},
	)

	// RetriesTotal counts scheduled retries and repair cycles.
	// Labels: kind (call, repair)
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excelmind",
			Subsystem: "orchestrator",
			Name:      "retries_total",
			Help:      "Total number of retries by kind",
		},
		[]string{"kind"},
	)

	// CacheRequestsTotal counts response cache lookups.
	// Labels: result (hit, miss)
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "excelmind",
			Subsystem: "llm",
			Name:      "cache_requests_total",
			Help:      "Total number of model response cache lookups",
		},
		[]string{"result"},
	)

	// QualityScore tracks evaluated quality scores.
	QualityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "excelmind",
			Subsystem: "quality",
			Name:      "score",
			Help:      "Overall quality score of evaluated results",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)
)

// ObserveCache records a cache lookup. It matches llm.CacheObserver.
func ObserveCache(hit bool) {
	if hit {
		CacheRequestsTotal.WithLabelValues("hit").Inc()
	} else {
		CacheRequestsTotal.WithLabelValues("miss").Inc()
	}
}
