// Package metrics provides Prometheus metrics for annotation sessions.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for ActionsTotal.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds the counters and gauges recorded by the HTTP surface.
type Metrics struct {
	ActionsTotal   *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	ActiveSessions prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the metrics and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotator_actions_total",
				Help: "Session actions partitioned by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "annotator_action_duration_seconds",
				Help:    "Time spent handling a session action, including table rewrites.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "annotator_active_sessions",
				Help: "Number of sessions currently held in memory.",
			},
		),
		registry: registry,
	}

	for _, c := range []prometheus.Collector{m.ActionsTotal, m.ActionDuration, m.ActiveSessions} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register annotator metrics: %w", err)
		}
	}
	return m, nil
}

// Registry returns the registry the metrics were registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records one action with its outcome and duration.
func (m *Metrics) Observe(action string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.ActionsTotal.WithLabelValues(action, outcome).Inc()
	m.ActionDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}
