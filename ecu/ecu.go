// Package ecu implements the vehicle's controller logic: battery
// management, the diagnostic/update/firewall gateway, driver-assistance
// decision logic, the safety monitors, and the body controller. Each
// controller is a core.Controller registered statically with the engine;
// the set of controller kinds is closed.
//
// Controllers follow one contract: signals delivered by the bus are only
// buffered in OnSignal, and all state transitions and publishes happen in
// Step. That keeps the per-tick produce/inject/consume ordering intact.
package ecu

import (
	"github.com/signalsfoundry/vehicle-simulator/core"
	"github.com/signalsfoundry/vehicle-simulator/internal/logging"
)

// base carries the identity, logger, and metrics hook shared by every
// controller.
type base struct {
	name    string
	log     logging.Logger
	metrics core.MetricsObserver
}

func newBase(name string, log logging.Logger, metrics core.MetricsObserver) base {
	if log == nil {
		log = logging.Noop()
	}
	return base{
		name:    name,
		log:     log.With(logging.String("ecu", name)),
		metrics: metrics,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) observeState(state string) {
	if b.metrics != nil {
		b.metrics.StateTransition(b.name, state)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
