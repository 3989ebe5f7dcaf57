package core

import "github.com/signalsfoundry/vehicle-simulator/model"

// MetricsObserver is the narrow surface the kernel and controllers use to
// report activity. The Prometheus-backed implementation lives in
// internal/observability; tests pass nil or a recording fake.
type MetricsObserver interface {
	SignalDelivered(topic string)
	FaultInjected(kind string)
	IntrusionBlocked(topic string)
	StateTransition(controller, state string)
	TickAdvanced(t model.Tick)
}
