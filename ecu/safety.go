package ecu

import (
	"context"
	"math"

	"github.com/signalsfoundry/vehicle-simulator/core"
	"github.com/signalsfoundry/vehicle-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-simulator/model"
)

const gravity = 9.81

// StabilityMonitor is the ESC controller: while the yaw rate exceeds the
// threshold it publishes a counteracting brake moment and flags ESC as
// active.
type StabilityMonitor struct {
	base
	Threshold float64 // rad/s
	Gain      float64

	yaw    reading
	active bool
}

// NewStabilityMonitor builds the ESC monitor with the standard 0.5 rad/s
// trip point.
func NewStabilityMonitor(log logging.Logger, metrics core.MetricsObserver) *StabilityMonitor {
	return &StabilityMonitor{
		base:      newBase("ESC_ECU", log, metrics),
		Threshold: 0.5,
		Gain:      2.0,
	}
}

// Attach subscribes the monitor to the yaw-rate topic.
func (s *StabilityMonitor) Attach(bus *core.VirtualBus) error {
	return bus.Subscribe(model.TopicYawRate, s)
}

func (s *StabilityMonitor) OnSignal(sig model.Signal) {
	if sig.Topic != model.TopicYawRate {
		return
	}
	if v, ok := sig.Payload.(model.Scalar); ok {
		s.yaw.set(float64(v), sig.DeliveredAt)
	}
}

// Step compares the latest yaw rate against the threshold. The moment
// opposes the yaw direction; status is published only on edges.
func (s *StabilityMonitor) Step(t model.Tick, bus *core.VirtualBus) error {
	exceeded := s.yaw.seen && math.Abs(s.yaw.value) > s.Threshold

	if exceeded != s.active {
		s.active = exceeded
		state := "ESC_INACTIVE"
		if exceeded {
			state = "ESC_ACTIVE"
			s.log.Warn(context.Background(), "yaw threshold exceeded, esc intervening",
				logging.Float("yaw_rate", s.yaw.value),
				logging.Int64("tick", int64(t)),
			)
		}
		s.observeState(state)
		if err := bus.Publish(model.TopicESCStatus, model.Bool(exceeded), s.name); err != nil {
			return err
		}
		if !exceeded {
			return bus.Publish(model.TopicBrakeMoment, model.Scalar(0), s.name)
		}
	}
	if s.active {
		moment := -s.Gain * s.yaw.value
		return bus.Publish(model.TopicBrakeMoment, model.Scalar(moment), s.name)
	}
	return nil
}

// Active reports whether ESC is currently intervening.
func (s *StabilityMonitor) Active() bool { return s.active }

// Restraint states. DEPLOYED is terminal: pyrotechnic devices fire once.
const (
	RestraintArmed    = "ARMED"
	RestraintDeployed = "DEPLOYED"
)

// RestraintMonitor is the airbag control unit: it fires the restraints
// when longitudinal deceleration crosses the crash threshold, within the
// fixed reaction budget of the onset tick.
type RestraintMonitor struct {
	base
	ThresholdG     float64 // deploy when accel (in g) is below this
	ReactionBudget int     // ticks allowed between onset and deployment

	state string
	accel reading

	onsetTick  model.Tick
	deployTick model.Tick
}

// NewRestraintMonitor builds the restraint controller with the -5 g
// threshold and a two-tick reaction budget.
func NewRestraintMonitor(log logging.Logger, metrics core.MetricsObserver) *RestraintMonitor {
	return &RestraintMonitor{
		base:           newBase("ACU_ECU", log, metrics),
		ThresholdG:     -5.0,
		ReactionBudget: 2,
		state:          RestraintArmed,
	}
}

// Attach subscribes the monitor to the longitudinal acceleration topic.
func (r *RestraintMonitor) Attach(bus *core.VirtualBus) error {
	return bus.Subscribe(model.TopicAccelX, r)
}

func (r *RestraintMonitor) OnSignal(sig model.Signal) {
	if sig.Topic != model.TopicAccelX {
		return
	}
	if v, ok := sig.Payload.(model.Scalar); ok {
		r.accel.set(float64(v), sig.DeliveredAt)
	}
}

// Step deploys on the first tick the crash pulse is visible. Once
// deployed, nothing re-arms and nothing re-fires.
func (r *RestraintMonitor) Step(t model.Tick, bus *core.VirtualBus) error {
	if r.state == RestraintDeployed {
		return nil
	}
	if !r.accel.freshAt(t) {
		return nil
	}
	g := r.accel.value / gravity
	if g >= r.ThresholdG {
		r.onsetTick = 0
		return nil
	}

	if r.onsetTick == 0 {
		r.onsetTick = t
	}
	r.state = RestraintDeployed
	r.deployTick = t
	r.observeState(RestraintDeployed)
	r.log.Warn(context.Background(), "crash pulse detected, deploying restraints",
		logging.Float("accel_g", g),
		logging.Int64("tick", int64(t)),
	)

	if err := bus.Publish(model.TopicDeployAirbag, model.Bool(true), r.name); err != nil {
		return err
	}
	if err := bus.Publish(model.TopicDeploySeatbelt, model.Bool(true), r.name); err != nil {
		return err
	}
	alert := model.CrashAlert{Trigger: "longitudinal deceleration", PeakG: g}
	return bus.Publish(model.TopicPostCrashAlert, alert, r.name)
}

// State returns ARMED or DEPLOYED.
func (r *RestraintMonitor) State() string { return r.state }

// DeployTick returns the tick restraints fired, or 0 if still armed.
func (r *RestraintMonitor) DeployTick() model.Tick { return r.deployTick }

// OnsetTick returns the first tick the crash pulse was visible.
func (r *RestraintMonitor) OnsetTick() model.Tick { return r.onsetTick }
