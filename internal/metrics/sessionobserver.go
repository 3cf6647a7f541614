package metrics

import (
	"fmt"

	"cisessiond/internal/session"
)

// SessionObserver adapts a Collector to session.Metrics, letting a
// session.Layer report directly into Prometheus without internal/session
// importing this package.
type SessionObserver struct {
	c *Collector
}

// NewSessionObserver wraps c for use as a session.Option via
// session.WithMetrics.
func NewSessionObserver(c *Collector) *SessionObserver {
	return &SessionObserver{c: c}
}

func slotLabel(slotID uint8) string { return fmt.Sprintf("%d", slotID) }

func (o *SessionObserver) RecordSPDUProcessed(tag uint8) {
	o.c.SPDUsProcessed.WithLabelValues(fmt.Sprintf("0x%02X", tag)).Inc()
}

func (o *SessionObserver) RecordSPDUDropped(slotID uint8) {
	o.c.SPDUsDropped.WithLabelValues(slotLabel(slotID)).Inc()
}

// RecordStateChange adjusts the per-slot gauge for the state being entered
// and left. Idle is not tracked as a gauge value — every unallocated table
// slot is implicitly Idle, so counting it would only measure table size.
func (o *SessionObserver) RecordStateChange(slotID uint8, from, to session.State) {
	slot := slotLabel(slotID)
	if from != session.StateIdle {
		o.c.SessionsByState.WithLabelValues(slot, from.String()).Dec()
	}
	if to != session.StateIdle {
		o.c.SessionsByState.WithLabelValues(slot, to.String()).Inc()
	}
}

func (o *SessionObserver) RecordTeardown(slotID uint8) {
	o.c.Teardowns.WithLabelValues(slotLabel(slotID)).Inc()
}
