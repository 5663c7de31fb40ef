// Package metrics exposes Prometheus collectors for firings, upstream
// fetches, fallback rotation and the task engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"morningbot/internal/task/engine"
)

const namespace = "morningbot"

// Metrics implements the observer hooks of content, rotator, dispatch and
// scheduler.
type Metrics struct {
	firings   *prometheus.CounterVec
	fetches   *prometheus.CounterVec
	rotations prometheus.Counter
	scheduled prometheus.Gauge

	reg prometheus.Registerer
}

// MustNewMetrics registers the collectors with reg and panics on
// duplicate registration. Tests pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "firings_total",
			Help:      "Scheduled firings by outcome and payload kind.",
		}, []string{"outcome", "kind"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Upstream content fetches by source and result.",
		}, []string{"source", "result"}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_rotations_total",
			Help:      "Daily advances of the fallback cursor.",
		}),
		scheduled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_groups",
			Help:      "Groups with an active daily timer.",
		}),
		reg: reg,
	}
	reg.MustRegister(m.firings, m.fetches, m.rotations, m.scheduled)
	return m
}

// Fired counts one firing. kind is empty for skipped firings.
func (m *Metrics) Fired(outcome, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	m.firings.WithLabelValues(outcome, kind).Inc()
}

// Fetched counts one upstream fetch attempt.
func (m *Metrics) Fetched(source string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.fetches.WithLabelValues(source, result).Inc()
}

func (m *Metrics) FallbackRotated() {
	if m == nil {
		return
	}
	m.rotations.Inc()
}

func (m *Metrics) ScheduledGroups(n int) {
	if m == nil {
		return
	}
	m.scheduled.Set(float64(n))
}

// WatchEngine exports the engine's queue depth and drop counters, read on
// every scrape.
func (m *Metrics) WatchEngine(snap func() engine.Snapshot) {
	if m == nil || snap == nil {
		return
	}
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task_engine",
			Name:      "queue_length",
			Help:      "Firings waiting for a worker.",
		}, func() float64 { return float64(snap().QueueLen) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task_engine",
			Name:      "in_flight",
			Help:      "Firings currently running.",
		}, func() float64 { return float64(snap().InFlight) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task_engine",
			Name:      "dropped_total",
			Help:      "Firings dropped because the queue was full or stale.",
		}, func() float64 {
			s := snap()
			return float64(s.DroppedQueueFull + s.DroppedStale)
		}),
	)
}
