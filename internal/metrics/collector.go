// Package metrics defines the Prometheus metrics cisessiond exposes for its
// session table and SPDU traffic, following the same GaugeVec/CounterVec
// collector shape the BFD daemon in this codebase's lineage uses for its
// own session metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "cisessiond"
	subsystem = "session"
)

const (
	labelSlot  = "slot"
	labelState = "state"
	labelTag   = "tag"
)

// Collector holds every cisessiond Prometheus metric.
type Collector struct {
	// SessionsByState tracks the number of sessions currently in each state,
	// per slot. Incremented for the state entered and decremented for the
	// state left on every state transition; Idle is not tracked.
	SessionsByState *prometheus.GaugeVec

	// SPDUsProcessed counts SPDUs successfully decoded and dispatched, by
	// tag.
	SPDUsProcessed *prometheus.CounterVec

	// SPDUsDropped counts SPDUs that failed to decode, per slot.
	SPDUsDropped *prometheus.CounterVec

	// Teardowns counts sessions closed via the connection/slot-close fan-out,
	// per slot.
	Teardowns *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it against reg. If reg is
// nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.SessionsByState,
		c.SPDUsProcessed,
		c.SPDUsDropped,
		c.Teardowns,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		SessionsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "count",
			Help:      "Number of sessions currently in each state, by slot.",
		}, []string{labelSlot, labelState}),

		SPDUsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "spdus_processed_total",
			Help:      "Total SPDUs successfully decoded and dispatched, by tag.",
		}, []string{labelTag}),

		SPDUsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "spdus_dropped_total",
			Help:      "Total SPDUs dropped for failing to decode, by slot.",
		}, []string{labelSlot}),

		Teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "teardowns_total",
			Help:      "Total sessions force-closed by a connection or slot teardown, by slot.",
		}, []string{labelSlot}),
	}
}
