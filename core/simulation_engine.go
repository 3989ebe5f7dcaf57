package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/vehicle-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-simulator/model"
	"github.com/signalsfoundry/vehicle-simulator/timectrl"
)

// Plant is an external adapter feeding sensed or derived signals onto the
// bus during the produce phase. Physics stays outside the kernel; plants
// are just signal producers and command consumers.
type Plant interface {
	Name() string
	Step(t model.Tick, bus *VirtualBus) error
}

// Controller is one ECU: it buffers the signals delivered to it, then
// transitions state and publishes during its Step. The set of controller
// kinds is closed and selected by static registration.
type Controller interface {
	Name() string
	Step(t model.Tick, bus *VirtualBus) error
}

// SimulationEngine owns one run: the clock, the bus, the fault layer, and
// the registered plants and controllers. Nothing here is global, so many
// engines can run independently in one process.
//
// Each tick executes three fixed phases: plants publish, the fault layer
// mutates in-flight signals (applied synchronously inside every publish),
// controllers read and act. This ordering is a hard contract; it is what
// resolves same-tick signal dependencies between controllers.
type SimulationEngine struct {
	RunID    string
	Clock    *timectrl.TickController
	Bus      *VirtualBus
	Injector *FaultInjector

	plants        []Plant
	ecus          []Controller
	tickListeners []func(model.Tick)

	log     logging.Logger
	metrics MetricsObserver
	tracer  trace.Tracer
}

// NewSimulationEngine wires the kernel together. The injector is attached
// to the bus so every publish passes through it.
func NewSimulationEngine(clock *timectrl.TickController, log logging.Logger) *SimulationEngine {
	if log == nil {
		log = logging.Noop()
	}
	bus := NewVirtualBus()
	fi := NewFaultInjector()
	bus.SetFaultInjector(fi)
	return &SimulationEngine{
		RunID:    uuid.NewString(),
		Clock:    clock,
		Bus:      bus,
		Injector: fi,
		log:      log.With(logging.String("component", "engine")),
		tracer:   otel.Tracer("vehicle-simulator/core"),
	}
}

// SetMetrics attaches a metrics observer to the engine, bus, and injector.
func (se *SimulationEngine) SetMetrics(m MetricsObserver) {
	se.metrics = m
	se.Bus.SetMetrics(m)
	se.Injector.SetMetrics(m)
}

// AddPlant registers a plant adapter. Registration order is execution
// order within the produce phase.
func (se *SimulationEngine) AddPlant(p Plant) { se.plants = append(se.plants, p) }

// AddController registers an ECU. Registration order is execution order
// within the consume phase.
func (se *SimulationEngine) AddController(c Controller) { se.ecus = append(se.ecus, c) }

// RegisterTickListener adds a callback invoked at the end of every step.
func (se *SimulationEngine) RegisterTickListener(fn func(model.Tick)) {
	se.tickListeners = append(se.tickListeners, fn)
}

// Step advances the clock one tick and runs the three phases. A tick is
// atomic: no component blocks or suspends mid-step. Each tick is one
// span, parented under the run span when stepped from Run.
func (se *SimulationEngine) Step(ctx context.Context) error {
	t, err := se.Clock.Advance()
	if err != nil {
		return err
	}
	_, span := se.tracer.Start(ctx, "engine.step",
		trace.WithAttributes(attribute.Int64("sim.tick", int64(t))),
	)
	defer span.End()

	if err := se.runTick(t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (se *SimulationEngine) runTick(t model.Tick) error {
	se.Injector.BeginTick(t)
	se.Bus.BeginTick(t)

	for _, p := range se.plants {
		if err := p.Step(t, se.Bus); err != nil {
			return fmt.Errorf("tick %d: plant %s: %w", t, p.Name(), err)
		}
	}
	for _, c := range se.ecus {
		if err := c.Step(t, se.Bus); err != nil {
			return fmt.Errorf("tick %d: ecu %s: %w", t, c.Name(), err)
		}
	}

	for _, fn := range se.tickListeners {
		fn(t)
	}
	if se.metrics != nil {
		se.metrics.TickAdvanced(t)
	}
	return nil
}

// Run seals the bus topology and steps until the clock's run bound. The
// whole run is one span with a child span per tick.
func (se *SimulationEngine) Run(ctx context.Context) error {
	se.Bus.Seal()
	ctx, span := se.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(
			attribute.String("sim.run_id", se.RunID),
			attribute.Int64("sim.tick_limit", int64(se.Clock.Limit())),
		),
	)
	defer span.End()

	se.log.Info(ctx, "run starting",
		logging.String("run_id", se.RunID),
		logging.Int("ticks", int(se.Clock.Limit())),
	)
	for !se.Clock.Done() {
		if err := se.Step(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "run aborted")
			se.log.Error(ctx, "run aborted",
				logging.String("run_id", se.RunID),
				logging.String("error", err.Error()),
			)
			return err
		}
	}
	se.log.Info(ctx, "run complete", logging.String("run_id", se.RunID))
	return nil
}
