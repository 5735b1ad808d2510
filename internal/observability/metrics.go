// Package observability provides the ambient metrics and logging
// plumbing: a `log/slog` JSON logger and a small set of Prometheus
// counters/histograms covering turns, tool calls, retries, and
// compactions.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters and histograms the agent core publishes.
// A single Metrics instance is shared process-wide.
type Metrics struct {
	Registry *prometheus.Registry

	TurnsTotal        *prometheus.CounterVec
	TurnDuration      *prometheus.HistogramVec
	ToolCallsTotal    *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
	RetriesTotal      *prometheus.CounterVec
	CompactionsTotal  *prometheus.CounterVec
	OverflowsTotal    *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	SubAgentsSpawned  prometheus.Counter
}

// NewMetrics builds a fresh, private Prometheus registry and registers
// every metric against it. A private registry (rather than
// prometheus.DefaultRegisterer) means constructing more than one Server
// in the same process (as tests do) never panics on duplicate
// collector registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opal",
			Name:      "turns_total",
			Help:      "Completed agent turns, labeled by outcome (ok|error|aborted).",
		}, []string{"outcome"}),

		TurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "opal",
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of a turn from request to finalization.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opal",
			Name:      "tool_calls_total",
			Help:      "Tool invocations, labeled by tool name and outcome (ok|error|denied|skipped).",
		}, []string{"tool", "outcome"}),

		ToolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "opal",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opal",
			Name:      "retries_total",
			Help:      "Provider-call retries, labeled by classification (transient); overflow recoveries are counted by overflow_detections_total.",
		}, []string{"reason"}),

		CompactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opal",
			Name:      "compactions_total",
			Help:      "Compaction runs, labeled by trigger (auto|overflow).",
		}, []string{"trigger"}),

		OverflowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opal",
			Name:      "overflow_detections_total",
			Help:      "Context overflow detections, labeled by path (error|usage).",
		}, []string{"path"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "opal",
			Name:      "active_sessions",
			Help:      "Number of agent sessions currently held in memory.",
		}),

		SubAgentsSpawned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "opal",
			Name:      "sub_agents_spawned_total",
			Help:      "Sub-agents spawned via the sub_agent tool.",
		}),
	}
}
