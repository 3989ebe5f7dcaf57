package timectrl

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/vehicle-simulator/model"
)

// SimClock is a read-only view of simulation time. Components depend on
// this abstraction rather than the concrete controller, which keeps them
// testable with a fixed clock.
type SimClock interface {
	// Now returns the current tick. Tick 0 means the run has not started.
	Now() model.Tick
}

// TickController drives simulation time in fixed unit steps. It is the
// sole driver of step boundaries and is not safe for concurrent use:
// the whole simulation is single-threaded and cooperative.
type TickController struct {
	current   model.Tick
	limit     model.Tick
	listeners []func(model.Tick)
}

// NewTickController constructs a controller bounded to maxTicks steps.
// A non-positive bound is rejected, as is one close enough to the tick
// width to risk overflow within a run.
func NewTickController(maxTicks int64) (*TickController, error) {
	if maxTicks <= 0 {
		return nil, fmt.Errorf("timectrl: run length must be positive, got %d", maxTicks)
	}
	if maxTicks >= math.MaxInt64-1 {
		return nil, fmt.Errorf("timectrl: run length %d would overflow the tick counter", maxTicks)
	}
	return &TickController{limit: model.Tick(maxTicks)}, nil
}

// Now returns the current tick. Implements SimClock.
func (tc *TickController) Now() model.Tick { return tc.current }

// Limit returns the configured run bound.
func (tc *TickController) Limit() model.Tick { return tc.limit }

// AddListener registers a callback invoked after every advance, in
// registration order. Listeners must be registered before the run starts.
func (tc *TickController) AddListener(fn func(model.Tick)) {
	tc.listeners = append(tc.listeners, fn)
}

// Advance increments the tick by one and returns the new value. Advancing
// past the configured bound is an error: a run never silently outlives
// its scenario.
func (tc *TickController) Advance() (model.Tick, error) {
	if tc.current >= tc.limit {
		return tc.current, fmt.Errorf("timectrl: tick %d already at run bound", tc.current)
	}
	tc.current++
	for _, fn := range tc.listeners {
		fn(tc.current)
	}
	return tc.current, nil
}

// Done reports whether the run bound has been reached.
func (tc *TickController) Done() bool { return tc.current >= tc.limit }
