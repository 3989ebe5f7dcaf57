package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/vehicle-simulator/model"
)

// SimCollector bundles Prometheus metrics for one simulation process and
// satisfies the kernel's MetricsObserver interface. All methods tolerate
// a nil receiver so wiring metrics stays optional.
type SimCollector struct {
	gatherer prometheus.Gatherer

	SignalsDelivered *prometheus.CounterVec
	FaultsInjected   *prometheus.CounterVec
	Intrusions       *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	CurrentTick      prometheus.Gauge
	BatterySoC       prometheus.Gauge
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	delivered, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_signals_delivered_total",
		Help: "Total signals delivered on the virtual bus, labeled by topic.",
	}, []string{"topic"}), "sim_signals_delivered_total")
	if err != nil {
		return nil, err
	}

	faults, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_faults_injected_total",
		Help: "Total fault-injector actions applied to in-flight signals, labeled by kind.",
	}, []string{"kind"}), "sim_faults_injected_total")
	if err != nil {
		return nil, err
	}

	intrusions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_intrusions_blocked_total",
		Help: "Inbound signals blocked by the gateway allow-list, labeled by topic.",
	}, []string{"topic"}), "sim_intrusions_blocked_total")
	if err != nil {
		return nil, err
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_fsm_transitions_total",
		Help: "Controller state transitions, labeled by controller and destination state.",
	}, []string{"controller", "state"}), "sim_fsm_transitions_total")
	if err != nil {
		return nil, err
	}

	tick, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_current_tick",
		Help: "Most recently completed simulation tick.",
	}), "sim_current_tick")
	if err != nil {
		return nil, err
	}

	soc, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_battery_soc_percent",
		Help: "Battery state of charge as reported by the BMS.",
	}), "sim_battery_soc_percent")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:         gatherer,
		SignalsDelivered: delivered,
		FaultsInjected:   faults,
		Intrusions:       intrusions,
		Transitions:      transitions,
		CurrentTick:      tick,
		BatterySoC:       soc,
	}, nil
}

// SignalDelivered implements core.MetricsObserver.
func (c *SimCollector) SignalDelivered(topic string) {
	if c == nil || c.SignalsDelivered == nil {
		return
	}
	c.SignalsDelivered.WithLabelValues(topic).Inc()
}

// FaultInjected implements core.MetricsObserver.
func (c *SimCollector) FaultInjected(kind string) {
	if c == nil || c.FaultsInjected == nil {
		return
	}
	c.FaultsInjected.WithLabelValues(kind).Inc()
}

// IntrusionBlocked implements core.MetricsObserver.
func (c *SimCollector) IntrusionBlocked(topic string) {
	if c == nil || c.Intrusions == nil {
		return
	}
	c.Intrusions.WithLabelValues(topic).Inc()
}

// StateTransition implements core.MetricsObserver.
func (c *SimCollector) StateTransition(controller, state string) {
	if c == nil || c.Transitions == nil {
		return
	}
	c.Transitions.WithLabelValues(controller, state).Inc()
}

// TickAdvanced implements core.MetricsObserver.
func (c *SimCollector) TickAdvanced(t model.Tick) {
	if c == nil || c.CurrentTick == nil {
		return
	}
	c.CurrentTick.Set(float64(t))
}

// SetBatterySoC records the BMS state-of-charge estimate.
func (c *SimCollector) SetBatterySoC(pct float64) {
	if c == nil || c.BatterySoC == nil {
		return
	}
	c.BatterySoC.Set(pct)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
