package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"cisessiond/internal/metrics"
	"cisessiond/internal/session"
)

func TestNewCollectorRegisters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.SessionsByState == nil {
		t.Error("SessionsByState is nil")
	}
	if c.SPDUsProcessed == nil {
		t.Error("SPDUsProcessed is nil")
	}
	if c.SPDUsDropped == nil {
		t.Error("SPDUsDropped is nil")
	}
	if c.Teardowns == nil {
		t.Error("Teardowns is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestSessionObserverRecordStateChange(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	obs := metrics.NewSessionObserver(c)

	obs.RecordStateChange(3, session.StateIdle, session.StateInCreation)
	obs.RecordStateChange(3, session.StateInCreation, session.StateActive)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	var active float64
	for _, fam := range families {
		if fam.GetName() != "cisessiond_session_count" {
			continue
		}
		for _, m := range fam.Metric {
			if hasLabel(m, "state", "Active") {
				active = m.GetGauge().GetValue()
			}
		}
	}
	if active != 1 {
		t.Errorf("Active gauge = %v, want 1", active)
	}
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.Label {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestSessionObserverSPDUCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	obs := metrics.NewSessionObserver(c)

	obs.RecordSPDUProcessed(0x91)
	obs.RecordSPDUDropped(2)
	obs.RecordTeardown(2)

	if got := testutilCounterValue(c.SPDUsDropped.WithLabelValues("2")); got != 1 {
		t.Errorf("SPDUsDropped = %v, want 1", got)
	}
	if got := testutilCounterValue(c.Teardowns.WithLabelValues("2")); got != 1 {
		t.Errorf("Teardowns = %v, want 1", got)
	}
}

func testutilCounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	c.Write(&m)
	return m.GetCounter().GetValue()
}
