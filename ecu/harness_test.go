package ecu

import (
	"testing"

	"github.com/signalsfoundry/vehicle-simulator/core"
	"github.com/signalsfoundry/vehicle-simulator/model"
)

// newTestBus builds a bus carrying the standard vehicle topology.
func newTestBus(t *testing.T) *core.VirtualBus {
	t.Helper()
	bus := core.NewVirtualBus()
	for topic, producer := range core.StandardTopology() {
		if err := bus.RegisterTopic(topic, producer); err != nil {
			t.Fatalf("register %s: %v", topic, err)
		}
	}
	return bus
}

// capture records delivered signals for one topic.
type capture struct {
	name string
	seen []model.Signal
}

func (c *capture) Name() string              { return c.name }
func (c *capture) OnSignal(sig model.Signal) { c.seen = append(c.seen, sig) }

func (c *capture) last(t *testing.T) model.Signal {
	t.Helper()
	if len(c.seen) == 0 {
		t.Fatal("no signal captured")
	}
	return c.seen[len(c.seen)-1]
}

func listen(t *testing.T, bus *core.VirtualBus, topic string) *capture {
	t.Helper()
	c := &capture{name: "probe-" + topic}
	if err := bus.Subscribe(topic, c); err != nil {
		t.Fatalf("subscribe %s: %v", topic, err)
	}
	return c
}

// publishAs places a plant-side signal on the bus under an explicit
// producer name.
func publishAs(t *testing.T, bus *core.VirtualBus, topic string, p model.Payload, producer string) {
	t.Helper()
	if err := bus.Publish(topic, p, producer); err != nil {
		t.Fatalf("publish %s: %v", topic, err)
	}
}
