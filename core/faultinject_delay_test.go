package core

import (
	"testing"

	"github.com/signalsfoundry/vehicle-simulator/model"
)

func TestDelayRedeliversAtDueTick(t *testing.T) {
	bus := NewVirtualBus()
	fi := NewFaultInjector()
	bus.SetFaultInjector(fi)
	if err := bus.RegisterTopic("RADAR_OBJECTS", "RadarPlant"); err != nil {
		t.Fatal(err)
	}
	c := &captureConsumer{name: "adas"}
	if err := bus.Subscribe("RADAR_OBJECTS", c); err != nil {
		t.Fatal(err)
	}

	err := fi.Install(Rule{
		Topic:      "RADAR_OBJECTS",
		Kind:       FaultDelay,
		DelayTicks: 3,
		Window:     Window{From: 2, To: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	for tick := model.Tick(1); tick <= 6; tick++ {
		fi.BeginTick(tick)
		bus.BeginTick(tick)
		if err := bus.Publish("RADAR_OBJECTS", model.Scalar(float64(tick)), "RadarPlant"); err != nil {
			t.Fatal(err)
		}
	}

	// Tick 2's publish surfaces at tick 5 alongside tick 5's own publish,
	// so six publishes still mean six deliveries.
	if len(c.seen) != 6 {
		t.Fatalf("expected 6 deliveries, got %d", len(c.seen))
	}
	var delayed *model.Signal
	for i := range c.seen {
		if c.seen[i].ProducedAt == 2 {
			delayed = &c.seen[i]
		}
	}
	if delayed == nil {
		t.Fatal("delayed signal never delivered")
	}
	if delayed.DeliveredAt != 5 {
		t.Fatalf("expected DeliveredAt=5, got %d", delayed.DeliveredAt)
	}
	if delayed.ProducedAt != 2 {
		t.Fatalf("expected ProducedAt preserved as 2, got %d", delayed.ProducedAt)
	}
}

func TestDelayedSignalSurvivesRuleClear(t *testing.T) {
	bus := NewVirtualBus()
	fi := NewFaultInjector()
	bus.SetFaultInjector(fi)
	if err := bus.RegisterTopic("RADAR_OBJECTS", "RadarPlant"); err != nil {
		t.Fatal(err)
	}
	c := &captureConsumer{name: "adas"}
	if err := bus.Subscribe("RADAR_OBJECTS", c); err != nil {
		t.Fatal(err)
	}

	err := fi.Install(Rule{
		Topic:      "RADAR_OBJECTS",
		Kind:       FaultDelay,
		DelayTicks: 4,
		Window:     Window{From: 1, To: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	fi.BeginTick(1)
	bus.BeginTick(1)
	if err := bus.Publish("RADAR_OBJECTS", model.Scalar(9), "RadarPlant"); err != nil {
		t.Fatal(err)
	}
	if fi.PendingCount() != 1 {
		t.Fatalf("expected 1 pending signal, got %d", fi.PendingCount())
	}

	// Removing the rule mid-flight must not lose the queued signal.
	fi.Clear("RADAR_OBJECTS")

	for tick := model.Tick(2); tick <= 5; tick++ {
		fi.BeginTick(tick)
		bus.BeginTick(tick)
	}
	if len(c.seen) != 1 {
		t.Fatalf("expected the delayed signal to deliver, got %d deliveries", len(c.seen))
	}
	if c.seen[0].DeliveredAt != 5 {
		t.Fatalf("expected delivery at tick 5, got %d", c.seen[0].DeliveredAt)
	}
	if fi.PendingCount() != 0 {
		t.Fatalf("pending queue should be empty, has %d", fi.PendingCount())
	}
}

func TestDelayRuleRequiresPositiveDelay(t *testing.T) {
	fi := NewFaultInjector()
	err := fi.Install(Rule{Topic: "RADAR_OBJECTS", Kind: FaultDelay})
	if err == nil {
		t.Fatal("expected rejection of DELAY rule without a tick count")
	}
}
