package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSimCollector(reg)
	if err != nil {
		t.Fatal(err)
	}

	c.SignalDelivered("BMS_SOC")
	c.SignalDelivered("BMS_SOC")
	c.FaultInjected("DROP")
	c.IntrusionBlocked("UDS_REQUEST")
	c.StateTransition("BMS_ECU", "CHARGING")
	c.TickAdvanced(42)
	c.SetBatterySoC(73.5)

	if got := testutil.ToFloat64(c.SignalsDelivered.WithLabelValues("BMS_SOC")); got != 2 {
		t.Fatalf("expected 2 deliveries, got %v", got)
	}
	if got := testutil.ToFloat64(c.FaultsInjected.WithLabelValues("DROP")); got != 1 {
		t.Fatalf("expected 1 fault, got %v", got)
	}
	if got := testutil.ToFloat64(c.Intrusions.WithLabelValues("UDS_REQUEST")); got != 1 {
		t.Fatalf("expected 1 intrusion, got %v", got)
	}
	if got := testutil.ToFloat64(c.Transitions.WithLabelValues("BMS_ECU", "CHARGING")); got != 1 {
		t.Fatalf("expected 1 transition, got %v", got)
	}
	if got := testutil.ToFloat64(c.CurrentTick); got != 42 {
		t.Fatalf("expected tick 42, got %v", got)
	}
	if got := testutil.ToFloat64(c.BatterySoC); got != 73.5 {
		t.Fatalf("expected soc 73.5, got %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *SimCollector
	c.SignalDelivered("X")
	c.FaultInjected("DROP")
	c.IntrusionBlocked("X")
	c.StateTransition("A", "B")
	c.TickAdvanced(1)
	c.SetBatterySoC(0)
}

func TestDoubleRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewSimCollector(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSimCollector(reg); err != nil {
		t.Fatalf("second registration should reuse existing collectors: %v", err)
	}
}
