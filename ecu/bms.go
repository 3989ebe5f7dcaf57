package ecu

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/signalsfoundry/vehicle-simulator/core"
	"github.com/signalsfoundry/vehicle-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-simulator/model"
)

// BMS charging states.
const (
	BMSDisconnected = "DISCONNECTED"
	BMSHandshake    = "HANDSHAKE"
	BMSCharging     = "CHARGING"
	BMSTerminating  = "TERMINATING"
	BMSFaulted      = "FAULTED"
)

const (
	evCableConnected    = "cable_connected"
	evHandshakeComplete = "handshake_complete"
	evTargetReached     = "target_reached"
	evChargeStopped     = "charge_stopped"
	evProtectionTrip    = "protection_trip"
)

// BMSConfig carries the pack protection envelope and charge targets.
type BMSConfig struct {
	InitialSoC float64
	TargetSoC  float64

	MinVoltage float64 // V, protection floor
	MaxVoltage float64 // V, protection ceiling
	MaxTemp    float64 // degC
	MaxCurrent float64 // A, charge request and protection ceiling

	// ChargeRatePerTick is the SoC gained per tick at full requested
	// current; the taper scales it down near the target.
	ChargeRatePerTick float64
}

// DefaultBMSConfig returns the envelope used by the standard scenarios:
// a 400 V-class pack charged to 90%.
func DefaultBMSConfig() BMSConfig {
	return BMSConfig{
		InitialSoC:        50,
		TargetSoC:         90,
		MinVoltage:        320,
		MaxVoltage:        420,
		MaxTemp:           60,
		MaxCurrent:        125,
		ChargeRatePerTick: 0.5,
	}
}

// BMS supervises the HV pack: it tracks state of charge, sequences the
// charge session against the charger, and trips the contactors open the
// same tick a protection bound is violated.
type BMS struct {
	base
	cfg BMSConfig
	sm  *fsm.FSM

	soc              float64
	contactorsClosed bool
	contactorDirty   bool
	faultReason      string

	// inputs buffered by OnSignal, consumed in Step
	voltage, current, temp reading
	chargerConnected       bool
}

// reading is the latest value seen on a sensor topic plus the tick it
// arrived, so Step can tell fresh samples from held ones.
type reading struct {
	value float64
	at    model.Tick
	seen  bool
}

func (r *reading) set(v float64, t model.Tick) {
	r.value = v
	r.at = t
	r.seen = true
}

func (r reading) freshAt(t model.Tick) bool { return r.seen && r.at == t }

// NewBMS builds the battery management controller.
func NewBMS(cfg BMSConfig, log logging.Logger, metrics core.MetricsObserver) *BMS {
	b := &BMS{
		base: newBase("BMS_ECU", log, metrics),
		cfg:  cfg,
		soc:  cfg.InitialSoC,
	}

	events := fsm.Events{
		{Name: evCableConnected, Src: []string{BMSDisconnected}, Dst: BMSHandshake},
		{Name: evHandshakeComplete, Src: []string{BMSHandshake}, Dst: BMSCharging},
		{Name: evTargetReached, Src: []string{BMSCharging}, Dst: BMSTerminating},
		{Name: evChargeStopped, Src: []string{BMSHandshake, BMSCharging, BMSTerminating}, Dst: BMSDisconnected},
		{Name: evProtectionTrip, Src: []string{BMSDisconnected, BMSHandshake, BMSCharging, BMSTerminating}, Dst: BMSFaulted},
	}
	callbacks := fsm.Callbacks{
		"enter_" + BMSCharging: func(ctx context.Context, e *fsm.Event) {
			b.setContactors(true)
		},
		"enter_" + BMSTerminating: func(ctx context.Context, e *fsm.Event) {
			b.setContactors(false)
		},
		"enter_" + BMSDisconnected: func(ctx context.Context, e *fsm.Event) {
			b.setContactors(false)
		},
		"enter_" + BMSFaulted: func(ctx context.Context, e *fsm.Event) {
			b.setContactors(false)
		},
		"enter_state": func(ctx context.Context, e *fsm.Event) {
			b.observeState(e.Dst)
		},
	}
	b.sm = fsm.NewFSM(BMSDisconnected, events, callbacks)
	return b
}

// Attach subscribes the BMS to its input topics.
func (b *BMS) Attach(bus *core.VirtualBus) error {
	for _, topic := range []string{
		model.TopicHVVoltage,
		model.TopicHVCurrent,
		model.TopicHVTemp,
		model.TopicChargerStatus,
	} {
		if err := bus.Subscribe(topic, b); err != nil {
			return err
		}
	}
	return nil
}

// OnSignal buffers sensor and charger inputs. Payloads of the wrong kind
// are ignored; the protection check runs on held values.
func (b *BMS) OnSignal(sig model.Signal) {
	switch sig.Topic {
	case model.TopicHVVoltage:
		if v, ok := sig.Payload.(model.Scalar); ok {
			b.voltage.set(float64(v), sig.DeliveredAt)
		}
	case model.TopicHVCurrent:
		if v, ok := sig.Payload.(model.Scalar); ok {
			b.current.set(float64(v), sig.DeliveredAt)
		}
	case model.TopicHVTemp:
		if v, ok := sig.Payload.(model.Scalar); ok {
			b.temp.set(float64(v), sig.DeliveredAt)
		}
	case model.TopicChargerStatus:
		if cs, ok := sig.Payload.(model.ChargerStatus); ok {
			b.chargerConnected = cs.State == "CONNECTED" || cs.State == "READY"
		}
	}
}

// Step runs the protection check first, then the charge session machine,
// then publishes SoC, contactor state, and the charge request.
func (b *BMS) Step(t model.Tick, bus *core.VirtualBus) error {
	ctx := context.Background()

	if reason, tripped := b.boundsViolation(); tripped && b.sm.Current() != BMSFaulted {
		b.faultReason = reason
		b.log.Warn(ctx, "protection trip, contactors opening",
			logging.String("reason", reason),
			logging.Int64("tick", int64(t)),
		)
		if err := b.sm.Event(ctx, evProtectionTrip); err != nil {
			return err
		}
	}

	switch b.sm.Current() {
	case BMSDisconnected:
		if b.chargerConnected && b.soc < b.cfg.TargetSoC {
			if err := b.sm.Event(ctx, evCableConnected); err != nil {
				return err
			}
		}
	case BMSHandshake:
		ev := evHandshakeComplete
		if !b.chargerConnected {
			ev = evChargeStopped
		}
		if err := b.sm.Event(ctx, ev); err != nil {
			return err
		}
	case BMSCharging:
		if !b.chargerConnected {
			if err := b.sm.Event(ctx, evChargeStopped); err != nil {
				return err
			}
			break
		}
		profile := b.chargeProfile()
		b.soc = clamp(b.soc+b.cfg.ChargeRatePerTick*(profile.TargetCurrent/b.cfg.MaxCurrent), 0, 100)
		if b.soc >= b.cfg.TargetSoC {
			if err := b.sm.Event(ctx, evTargetReached); err != nil {
				return err
			}
		}
	case BMSTerminating:
		if err := b.sm.Event(ctx, evChargeStopped); err != nil {
			return err
		}
	}

	if err := bus.Publish(model.TopicBatterySoC, model.Scalar(b.soc), b.name); err != nil {
		return err
	}
	if b.contactorDirty {
		b.contactorDirty = false
		if err := bus.Publish(model.TopicContactorState, model.Bool(b.contactorsClosed), b.name); err != nil {
			return err
		}
	}
	switch b.sm.Current() {
	case BMSHandshake, BMSCharging:
		if err := bus.Publish(model.TopicChargeRequest, b.chargeProfile(), b.name); err != nil {
			return err
		}
	case BMSTerminating:
		off := model.ChargeProfile{Enabled: false}
		if err := bus.Publish(model.TopicChargeRequest, off, b.name); err != nil {
			return err
		}
	}
	return nil
}

// boundsViolation checks the held sensor values against the protection
// envelope. A trip fires regardless of charge state.
func (b *BMS) boundsViolation() (string, bool) {
	if b.voltage.seen {
		if b.voltage.value > b.cfg.MaxVoltage {
			return "overvoltage", true
		}
		if b.voltage.value < b.cfg.MinVoltage {
			return "undervoltage", true
		}
	}
	if b.current.seen && b.current.value > b.cfg.MaxCurrent {
		return "overcurrent", true
	}
	if b.temp.seen && b.temp.value > b.cfg.MaxTemp {
		return "overtemperature", true
	}
	return "", false
}

// chargeProfile derives the request from the distance to target: full
// current far from target, tapering to 10% close to it.
func (b *BMS) chargeProfile() model.ChargeProfile {
	taper := clamp((b.cfg.TargetSoC-b.soc)/10, 0.1, 1)
	return model.ChargeProfile{
		TargetVoltage: b.cfg.MaxVoltage - 10,
		TargetCurrent: b.cfg.MaxCurrent * taper,
		Enabled:       b.sm.Current() == BMSCharging,
	}
}

func (b *BMS) setContactors(closed bool) {
	if b.contactorsClosed != closed {
		b.contactorsClosed = closed
		b.contactorDirty = true
	}
}

// State returns the current charge session state.
func (b *BMS) State() string { return b.sm.Current() }

// SoC returns the current state-of-charge estimate in percent.
func (b *BMS) SoC() float64 { return b.soc }

// SetSoC overrides the SoC estimate. Scenario setup uses this to start a
// run mid-charge.
func (b *BMS) SetSoC(v float64) { b.soc = clamp(v, 0, 100) }

// ContactorsClosed reports the commanded contactor state.
func (b *BMS) ContactorsClosed() bool { return b.contactorsClosed }

// FaultReason returns why the pack faulted, or "".
func (b *BMS) FaultReason() string { return b.faultReason }
