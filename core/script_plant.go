package core

import (
	"sort"

	"github.com/signalsfoundry/vehicle-simulator/model"
)

// ScriptPlant replays a fixed stimulus timeline from the scenario file.
// It lets fault-injection and controller scenarios run without any
// physics model attached: each scheduled signal is published under the
// topic's registered producer during the produce phase of its tick.
type ScriptPlant struct {
	name   string
	byTick map[model.Tick][]Stimulus
}

// NewScriptPlant builds a plant from the scenario's stimuli. Stimuli
// within one tick keep their file order.
func NewScriptPlant(name string, stimuli []Stimulus) *ScriptPlant {
	byTick := make(map[model.Tick][]Stimulus)
	for _, st := range stimuli {
		byTick[st.Tick] = append(byTick[st.Tick], st)
	}
	return &ScriptPlant{name: name, byTick: byTick}
}

func (p *ScriptPlant) Name() string { return p.name }

// Step publishes every stimulus scheduled for this tick.
func (p *ScriptPlant) Step(t model.Tick, bus *VirtualBus) error {
	for _, st := range p.byTick[t] {
		if err := bus.Publish(st.Topic, st.Payload, bus.Producer(st.Topic)); err != nil {
			return err
		}
	}
	return nil
}

// ScheduledTicks lists the ticks with at least one stimulus, ascending.
func (p *ScriptPlant) ScheduledTicks() []model.Tick {
	out := make([]model.Tick, 0, len(p.byTick))
	for t := range p.byTick {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
