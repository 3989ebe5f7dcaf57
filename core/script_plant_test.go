package core

import (
	"testing"

	"github.com/signalsfoundry/vehicle-simulator/model"
)

func TestScriptPlantPublishesOnSchedule(t *testing.T) {
	bus := NewVirtualBus()
	if err := bus.RegisterTopic("YAW_RATE", "DynamicsPlant"); err != nil {
		t.Fatal(err)
	}
	c := &captureConsumer{name: "esc"}
	if err := bus.Subscribe("YAW_RATE", c); err != nil {
		t.Fatal(err)
	}

	plant := NewScriptPlant("TestHarness", []Stimulus{
		{Tick: 2, Topic: "YAW_RATE", Payload: model.Scalar(0.7)},
		{Tick: 4, Topic: "YAW_RATE", Payload: model.Scalar(0.1)},
	})

	for tick := model.Tick(1); tick <= 4; tick++ {
		bus.BeginTick(tick)
		if err := plant.Step(tick, bus); err != nil {
			t.Fatal(err)
		}
	}

	if len(c.seen) != 2 {
		t.Fatalf("expected 2 scripted publishes, got %d", len(c.seen))
	}
	if c.seen[0].ProducedAt != 2 || c.seen[1].ProducedAt != 4 {
		t.Fatalf("unexpected schedule: %d, %d", c.seen[0].ProducedAt, c.seen[1].ProducedAt)
	}
	// Scripted publishes carry the topic's registered producer, so the
	// gateway firewall sees them as legitimate.
	if c.seen[0].Producer != "DynamicsPlant" {
		t.Fatalf("expected registered producer, got %q", c.seen[0].Producer)
	}
}

func TestScheduledTicksAreSorted(t *testing.T) {
	plant := NewScriptPlant("TestHarness", []Stimulus{
		{Tick: 9, Topic: "A"},
		{Tick: 2, Topic: "B"},
		{Tick: 5, Topic: "C"},
	})
	ticks := plant.ScheduledTicks()
	if len(ticks) != 3 || ticks[0] != 2 || ticks[1] != 5 || ticks[2] != 9 {
		t.Fatalf("expected [2 5 9], got %v", ticks)
	}
}
