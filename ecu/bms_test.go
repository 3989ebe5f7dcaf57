package ecu

import (
	"testing"

	"github.com/signalsfoundry/vehicle-simulator/model"
)

func chargerReady() model.ChargerStatus {
	return model.ChargerStatus{State: "CONNECTED", MaxPower: 50000}
}

func TestChargeSessionReachesTargetAndDisconnects(t *testing.T) {
	bus := newTestBus(t)
	cfg := DefaultBMSConfig()
	cfg.InitialSoC = 85
	cfg.ChargeRatePerTick = 2
	bms := NewBMS(cfg, nil, nil)
	if err := bms.Attach(bus); err != nil {
		t.Fatal(err)
	}

	var states []string
	for tick := model.Tick(1); tick <= 30; tick++ {
		bus.BeginTick(tick)
		publishAs(t, bus, model.TopicChargerStatus, chargerReady(), "ChargerPlant")
		publishAs(t, bus, model.TopicHVVoltage, model.Scalar(395), "BatteryPlant")
		publishAs(t, bus, model.TopicHVTemp, model.Scalar(35), "BatteryPlant")
		if err := bms.Step(tick, bus); err != nil {
			t.Fatal(err)
		}
		if n := len(states); n == 0 || states[n-1] != bms.State() {
			states = append(states, bms.State())
		}
		if bms.State() == BMSDisconnected && tick > 1 {
			break
		}
	}

	want := []string{BMSHandshake, BMSCharging, BMSTerminating, BMSDisconnected}
	if len(states) != len(want) {
		t.Fatalf("expected state sequence %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected state sequence %v, got %v", want, states)
		}
	}
	if bms.SoC() < cfg.TargetSoC {
		t.Fatalf("expected soc >= %v, got %v", cfg.TargetSoC, bms.SoC())
	}
	if bms.ContactorsClosed() {
		t.Fatal("contactors must be open after termination")
	}
}

func TestOvervoltageOpensContactorsSameTick(t *testing.T) {
	bus := newTestBus(t)
	contactor := listen(t, bus, model.TopicContactorState)

	cfg := DefaultBMSConfig()
	bms := NewBMS(cfg, nil, nil)
	if err := bms.Attach(bus); err != nil {
		t.Fatal(err)
	}

	// Two ticks to get into CHARGING with contactors closed.
	for tick := model.Tick(1); tick <= 2; tick++ {
		bus.BeginTick(tick)
		publishAs(t, bus, model.TopicChargerStatus, chargerReady(), "ChargerPlant")
		publishAs(t, bus, model.TopicHVVoltage, model.Scalar(390), "BatteryPlant")
		if err := bms.Step(tick, bus); err != nil {
			t.Fatal(err)
		}
	}
	if bms.State() != BMSCharging || !bms.ContactorsClosed() {
		t.Fatalf("expected CHARGING with contactors closed, got %s", bms.State())
	}

	bus.BeginTick(3)
	publishAs(t, bus, model.TopicHVVoltage, model.Scalar(cfg.MaxVoltage+5), "BatteryPlant")
	if err := bms.Step(3, bus); err != nil {
		t.Fatal(err)
	}

	if bms.State() != BMSFaulted {
		t.Fatalf("expected FAULTED, got %s", bms.State())
	}
	if bms.FaultReason() != "overvoltage" {
		t.Fatalf("expected overvoltage reason, got %q", bms.FaultReason())
	}
	last := contactor.last(t)
	if last.DeliveredAt != 3 {
		t.Fatalf("contactor command must land on the violation tick, got tick %d", last.DeliveredAt)
	}
	if bool(last.Payload.(model.Bool)) {
		t.Fatal("contactor command must be open")
	}
}

func TestOvercurrentOpensContactorsSameTick(t *testing.T) {
	bus := newTestBus(t)
	contactor := listen(t, bus, model.TopicContactorState)

	cfg := DefaultBMSConfig()
	bms := NewBMS(cfg, nil, nil)
	if err := bms.Attach(bus); err != nil {
		t.Fatal(err)
	}

	for tick := model.Tick(1); tick <= 2; tick++ {
		bus.BeginTick(tick)
		publishAs(t, bus, model.TopicChargerStatus, chargerReady(), "ChargerPlant")
		publishAs(t, bus, model.TopicHVCurrent, model.Scalar(100), "BatteryPlant")
		if err := bms.Step(tick, bus); err != nil {
			t.Fatal(err)
		}
	}
	if bms.State() != BMSCharging || !bms.ContactorsClosed() {
		t.Fatalf("expected CHARGING with contactors closed, got %s", bms.State())
	}

	bus.BeginTick(3)
	publishAs(t, bus, model.TopicHVCurrent, model.Scalar(cfg.MaxCurrent+50), "BatteryPlant")
	if err := bms.Step(3, bus); err != nil {
		t.Fatal(err)
	}

	if bms.State() != BMSFaulted {
		t.Fatalf("expected FAULTED, got %s", bms.State())
	}
	if bms.FaultReason() != "overcurrent" {
		t.Fatalf("expected overcurrent reason, got %q", bms.FaultReason())
	}
	last := contactor.last(t)
	if last.DeliveredAt != 3 {
		t.Fatalf("contactor command must land on the violation tick, got tick %d", last.DeliveredAt)
	}
	if bool(last.Payload.(model.Bool)) {
		t.Fatal("contactor command must be open")
	}
}

func TestOvertemperatureTrips(t *testing.T) {
	bus := newTestBus(t)
	cfg := DefaultBMSConfig()
	bms := NewBMS(cfg, nil, nil)
	if err := bms.Attach(bus); err != nil {
		t.Fatal(err)
	}

	bus.BeginTick(1)
	publishAs(t, bus, model.TopicHVTemp, model.Scalar(cfg.MaxTemp+1), "BatteryPlant")
	if err := bms.Step(1, bus); err != nil {
		t.Fatal(err)
	}
	if bms.State() != BMSFaulted {
		t.Fatalf("expected FAULTED from any state, got %s", bms.State())
	}
	if bms.FaultReason() != "overtemperature" {
		t.Fatalf("expected overtemperature, got %q", bms.FaultReason())
	}
}

func TestFaultedStateIsTerminal(t *testing.T) {
	bus := newTestBus(t)
	bms := NewBMS(DefaultBMSConfig(), nil, nil)
	if err := bms.Attach(bus); err != nil {
		t.Fatal(err)
	}

	bus.BeginTick(1)
	publishAs(t, bus, model.TopicHVVoltage, model.Scalar(300), "BatteryPlant")
	if err := bms.Step(1, bus); err != nil {
		t.Fatal(err)
	}
	if bms.State() != BMSFaulted {
		t.Fatalf("expected FAULTED, got %s", bms.State())
	}

	// Healthy readings and a willing charger must not resurrect the pack.
	for tick := model.Tick(2); tick <= 5; tick++ {
		bus.BeginTick(tick)
		publishAs(t, bus, model.TopicHVVoltage, model.Scalar(390), "BatteryPlant")
		publishAs(t, bus, model.TopicChargerStatus, chargerReady(), "ChargerPlant")
		if err := bms.Step(tick, bus); err != nil {
			t.Fatal(err)
		}
	}
	if bms.State() != BMSFaulted {
		t.Fatalf("FAULTED must be terminal, got %s", bms.State())
	}
}

func TestCablePullDuringChargingStopsSession(t *testing.T) {
	bus := newTestBus(t)
	bms := NewBMS(DefaultBMSConfig(), nil, nil)
	if err := bms.Attach(bus); err != nil {
		t.Fatal(err)
	}

	for tick := model.Tick(1); tick <= 2; tick++ {
		bus.BeginTick(tick)
		publishAs(t, bus, model.TopicChargerStatus, chargerReady(), "ChargerPlant")
		if err := bms.Step(tick, bus); err != nil {
			t.Fatal(err)
		}
	}
	if bms.State() != BMSCharging {
		t.Fatalf("expected CHARGING, got %s", bms.State())
	}

	bus.BeginTick(3)
	publishAs(t, bus, model.TopicChargerStatus, model.ChargerStatus{State: "DISCONNECTED"}, "ChargerPlant")
	if err := bms.Step(3, bus); err != nil {
		t.Fatal(err)
	}
	if bms.State() != BMSDisconnected {
		t.Fatalf("expected DISCONNECTED after cable pull, got %s", bms.State())
	}
	if bms.ContactorsClosed() {
		t.Fatal("contactors must open when the session stops")
	}
}
