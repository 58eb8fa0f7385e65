// Package telemetry holds the harness metrics and tracing helpers.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total number of remote sessions created",
		},
		[]string{"env"},
	)

	SessionsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "session",
			Name:      "failed_total",
			Help:      "Total number of rejected or failed session creations",
		},
		[]string{"env", "reason"},
	)

	SessionsDestroyed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "session",
			Name:      "destroyed_total",
			Help:      "Total number of sessions destroyed",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "harness",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of currently active sessions",
		},
	)

	SessionCreateLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "harness",
			Subsystem: "session",
			Name:      "create_seconds",
			Help:      "Session creation latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
		[]string{"env"},
	)

	// Run coordination metrics
	GroupStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "run",
			Name:      "group_starts_total",
			Help:      "Total number of test group start signals",
		},
		[]string{"action"}, // cleaned, skipped
	)

	ArtifactsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "run",
			Name:      "artifacts_deleted_total",
			Help:      "Total number of stale artifacts deleted during cleanup",
		},
	)

	// Interaction metrics
	ElementWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "harness",
			Subsystem: "interact",
			Name:      "element_wait_seconds",
			Help:      "Time spent waiting for elements in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"result"},
	)

	Probes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "interact",
			Name:      "probe_total",
			Help:      "Total number of state probes by result",
		},
		[]string{"result"}, // displayed, hidden, absent, fault
	)

	// Capture metrics
	Captures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "capture",
			Name:      "total",
			Help:      "Total number of failure capture steps by target and result",
		},
		[]string{"target", "result"}, // screenshot|report|store, ok|error|skipped
	)

	// Test outcome metrics
	TestOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "test",
			Name:      "outcomes_total",
			Help:      "Total number of finished tests by status",
		},
		[]string{"status", "infrastructure"},
	)
)

// WriteMetrics writes every metric gathered by g to path in the Prometheus
// text format, for node_exporter's textfile collector. A nil g means the
// default registry.
func WriteMetrics(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
