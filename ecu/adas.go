package ecu

import (
	"context"
	"math"

	"github.com/looplab/fsm"

	"github.com/signalsfoundry/vehicle-simulator/core"
	"github.com/signalsfoundry/vehicle-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-simulator/model"
)

// ADAS operating states.
const (
	ADASNominal     = "NOMINAL"
	ADASDegraded    = "DEGRADED"
	ADASIntervening = "INTERVENING"
)

const (
	evConfidenceLost     = "confidence_lost"
	evConfidenceRestored = "confidence_restored"
	evThreatDetected     = "threat_detected"
	evThreatCleared      = "threat_cleared"
)

// ADASConfig fixes the decision thresholds.
type ADASConfig struct {
	TTCThreshold    float64 // s, brake when the closest in-lane object is nearer than this
	ConfidenceFloor float64 // below this smoothed confidence the system degrades
	ConfidenceAlpha float64 // EWMA weight for new confidence samples
	LaneHalfWidth   float64 // m, objects outside are not braking candidates

	SteerOffsetGain  float64
	SteerHeadingGain float64
	SteerLimit       float64
}

// DefaultADASConfig returns the tuned thresholds: a 2.4 s time-to-collision
// budget and a 3.5 m lane.
func DefaultADASConfig() ADASConfig {
	return ADASConfig{
		TTCThreshold:     2.4,
		ConfidenceFloor:  0.6,
		ConfidenceAlpha:  0.3,
		LaneHalfWidth:    1.75,
		SteerOffsetGain:  0.05,
		SteerHeadingGain: 1.5,
		SteerLimit:       0.5,
	}
}

// ADAS is the driver-assistance decision controller: emergency braking on
// in-lane radar threats and lane-centering steering, both gated by a
// smoothed perception-confidence estimate.
type ADAS struct {
	base
	cfg ADASConfig
	sm  *fsm.FSM

	confidence float64
	lane       model.LaneSample
	laneAt     model.Tick
	laneSeen   bool
	objects    []model.RadarObject

	braking bool
}

// NewADAS builds the controller. Confidence starts at full so a run
// without camera input begins NOMINAL.
func NewADAS(cfg ADASConfig, log logging.Logger, metrics core.MetricsObserver) *ADAS {
	a := &ADAS{
		base:       newBase("ADAS_ECU", log, metrics),
		cfg:        cfg,
		confidence: 1,
	}

	events := fsm.Events{
		{Name: evThreatDetected, Src: []string{ADASNominal}, Dst: ADASIntervening},
		{Name: evThreatCleared, Src: []string{ADASIntervening}, Dst: ADASNominal},
		{Name: evConfidenceLost, Src: []string{ADASNominal, ADASIntervening}, Dst: ADASDegraded},
		{Name: evConfidenceRestored, Src: []string{ADASDegraded}, Dst: ADASNominal},
	}
	callbacks := fsm.Callbacks{
		"enter_state": func(ctx context.Context, e *fsm.Event) {
			a.observeState(e.Dst)
		},
	}
	a.sm = fsm.NewFSM(ADASNominal, events, callbacks)
	return a
}

// Attach subscribes the controller to its perception inputs.
func (a *ADAS) Attach(bus *core.VirtualBus) error {
	for _, topic := range []string{model.TopicRadarObjects, model.TopicCameraLane} {
		if err := bus.Subscribe(topic, a); err != nil {
			return err
		}
	}
	return nil
}

// OnSignal buffers the latest perception samples.
func (a *ADAS) OnSignal(sig model.Signal) {
	switch sig.Topic {
	case model.TopicCameraLane:
		if lane, ok := sig.Payload.(model.LaneSample); ok {
			a.lane = lane
			a.laneAt = sig.DeliveredAt
			a.laneSeen = true
		}
	case model.TopicRadarObjects:
		if list, ok := sig.Payload.(model.ObjectList); ok {
			a.objects = list.Objects
		}
	}
}

// Step updates confidence, runs the threat assessment, and publishes the
// brake and steering commands. In DEGRADED no intervention is initiated
// and steering is suppressed; recovery is automatic once confidence
// returns above the floor.
func (a *ADAS) Step(t model.Tick, bus *core.VirtualBus) error {
	ctx := context.Background()

	laneFresh := a.laneSeen && a.laneAt == t
	if laneFresh {
		a.confidence = a.cfg.ConfidenceAlpha*a.lane.Confidence + (1-a.cfg.ConfidenceAlpha)*a.confidence
	}

	if a.confidence < a.cfg.ConfidenceFloor {
		if a.sm.Current() != ADASDegraded {
			a.log.Warn(ctx, "perception confidence below floor, degrading",
				logging.Float("confidence", a.confidence),
				logging.Int64("tick", int64(t)),
			)
			if err := a.sm.Event(ctx, evConfidenceLost); err != nil {
				return err
			}
			if a.braking {
				a.braking = false
				if err := bus.Publish(model.TopicBrakeCmd, model.Scalar(0), a.name); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if a.sm.Current() == ADASDegraded {
		if err := a.sm.Event(ctx, evConfidenceRestored); err != nil {
			return err
		}
	}

	threat, ttc := a.closestThreat()
	switch a.sm.Current() {
	case ADASNominal:
		if threat {
			a.log.Info(ctx, "in-lane threat, braking",
				logging.Float("ttc", ttc),
				logging.Int64("tick", int64(t)),
			)
			if err := a.sm.Event(ctx, evThreatDetected); err != nil {
				return err
			}
		}
	case ADASIntervening:
		if !threat {
			if err := a.sm.Event(ctx, evThreatCleared); err != nil {
				return err
			}
		}
	}

	wantBrake := a.sm.Current() == ADASIntervening
	if wantBrake || a.braking {
		cmd := model.Scalar(0)
		if wantBrake {
			cmd = 1
		}
		if err := bus.Publish(model.TopicBrakeCmd, cmd, a.name); err != nil {
			return err
		}
	}
	a.braking = wantBrake

	if a.sm.Current() == ADASNominal && laneFresh {
		steer := -(a.cfg.SteerOffsetGain*a.lane.Offset + a.cfg.SteerHeadingGain*a.lane.Heading)
		steer = clamp(steer, -a.cfg.SteerLimit, a.cfg.SteerLimit)
		if err := bus.Publish(model.TopicSteeringCmd, model.Scalar(steer), a.name); err != nil {
			return err
		}
	}
	return nil
}

// closestThreat scans the latest object list for in-lane closing objects
// and reports whether the smallest time-to-collision is under threshold.
// An object becomes a candidate the same tick its lateral offset enters
// the lane.
func (a *ADAS) closestThreat() (bool, float64) {
	minTTC := math.Inf(1)
	for _, obj := range a.objects {
		if math.Abs(obj.LateralOffset) > a.cfg.LaneHalfWidth {
			continue
		}
		if obj.ClosingSpeed <= 0 || obj.Distance <= 0 {
			continue
		}
		if ttc := obj.Distance / obj.ClosingSpeed; ttc < minTTC {
			minTTC = ttc
		}
	}
	return minTTC < a.cfg.TTCThreshold, minTTC
}

// State returns the current operating state.
func (a *ADAS) State() string { return a.sm.Current() }

// Confidence returns the smoothed perception confidence.
func (a *ADAS) Confidence() float64 { return a.confidence }
