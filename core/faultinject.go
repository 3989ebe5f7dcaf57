package core

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/signalsfoundry/vehicle-simulator/model"
)

var (
	ErrRuleBadInput         = errors.New("invalid fault rule")
	ErrRuleConflict         = errors.New("conflicting fault rules for topic")
	ErrTransformUnknown     = errors.New("corrupt transform not registered")
	ErrTransformUnsupported = errors.New("corrupt transform does not apply to payload")
)

// FaultKind selects what the injector does to a matching publish.
type FaultKind int

const (
	FaultDrop FaultKind = iota
	FaultDelay
	FaultCorrupt
)

func (k FaultKind) String() string {
	switch k {
	case FaultDrop:
		return "DROP"
	case FaultDelay:
		return "DELAY"
	case FaultCorrupt:
		return "CORRUPT"
	default:
		return "UNKNOWN"
	}
}

// Window is an inclusive tick range. To == 0 means open-ended.
type Window struct {
	From model.Tick `yaml:"from" json:"from"`
	To   model.Tick `yaml:"to" json:"to"`
}

func (w Window) contains(t model.Tick) bool {
	if t < w.From {
		return false
	}
	return w.To == 0 || t <= w.To
}

func (w Window) overlaps(o Window) bool {
	if w.To != 0 && o.From > w.To {
		return false
	}
	if o.To != 0 && w.From > o.To {
		return false
	}
	return true
}

// Transform mutates a payload deterministically given the rule seed and
// the current tick. Transforms must be pure: same inputs, same output.
type Transform func(seed int64, t model.Tick, p model.Payload) (model.Payload, error)

// Rule describes one fault applied to one topic. Exactly one rule may be
// active per topic per tick; installing rules whose windows could overlap
// is rejected at configuration time rather than resolved by precedence.
type Rule struct {
	Topic      string
	Kind       FaultKind
	DelayTicks int
	Transform  string
	Seed       int64
	Window     Window

	// Predicate, when set, replaces Window. Predicated rules cannot be
	// proven disjoint, so they conflict with any other rule on the topic.
	Predicate func(model.Tick) bool
}

func (r Rule) activeAt(t model.Tick) bool {
	if r.Predicate != nil {
		return r.Predicate(t)
	}
	return r.Window.contains(t)
}

// sameAs reports rule identity for idempotent re-installation. Rules
// carrying predicates are never considered identical.
func (r Rule) sameAs(o Rule) bool {
	if r.Predicate != nil || o.Predicate != nil {
		return false
	}
	return r.Topic == o.Topic && r.Kind == o.Kind &&
		r.DelayTicks == o.DelayTicks && r.Transform == o.Transform &&
		r.Seed == o.Seed && r.Window == o.Window
}

// FaultInjector sits between publishes and bus delivery. Rule activation
// is evaluated once per tick; delayed signals live in an explicit pending
// queue keyed by their delivery tick.
type FaultInjector struct {
	rules      map[string][]Rule
	active     map[string]Rule
	pending    map[model.Tick][]model.Signal
	transforms map[string]Transform
	tick       model.Tick
	metrics    MetricsObserver
}

// NewFaultInjector creates an injector with the built-in transforms
// registered.
func NewFaultInjector() *FaultInjector {
	fi := &FaultInjector{
		rules:      make(map[string][]Rule),
		active:     make(map[string]Rule),
		pending:    make(map[model.Tick][]model.Signal),
		transforms: make(map[string]Transform),
	}
	fi.transforms[TransformScalarDrift] = scalarDrift
	fi.transforms[TransformScalarSpike] = scalarSpike
	fi.transforms[TransformByteScramble] = byteScramble
	fi.transforms[TransformBoolFlip] = boolFlip
	return fi
}

// SetMetrics attaches an optional metrics observer.
func (fi *FaultInjector) SetMetrics(m MetricsObserver) { fi.metrics = m }

// RegisterTransform adds a named corrupt transform. Overwriting a
// built-in is a configuration error.
func (fi *FaultInjector) RegisterTransform(name string, fn Transform) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: empty transform registration", ErrRuleBadInput)
	}
	if _, exists := fi.transforms[name]; exists {
		return fmt.Errorf("%w: transform %q already registered", ErrRuleBadInput, name)
	}
	fi.transforms[name] = fn
	return nil
}

// Install validates and adds a rule. Re-installing an identical rule is a
// no-op; a rule that could share a tick with an existing rule on the same
// topic is rejected.
func (fi *FaultInjector) Install(r Rule) error {
	if r.Topic == "" {
		return fmt.Errorf("%w: empty topic", ErrRuleBadInput)
	}
	switch r.Kind {
	case FaultDrop:
	case FaultDelay:
		if r.DelayTicks <= 0 {
			return fmt.Errorf("%w: DELAY needs a positive tick count, got %d", ErrRuleBadInput, r.DelayTicks)
		}
	case FaultCorrupt:
		if _, ok := fi.transforms[r.Transform]; !ok {
			return fmt.Errorf("%w: %q", ErrTransformUnknown, r.Transform)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrRuleBadInput, int(r.Kind))
	}
	if r.Predicate == nil && r.Window.To != 0 && r.Window.To < r.Window.From {
		return fmt.Errorf("%w: window [%d, %d] is inverted", ErrRuleBadInput, r.Window.From, r.Window.To)
	}

	for _, existing := range fi.rules[r.Topic] {
		if existing.sameAs(r) {
			return nil
		}
		if r.Predicate != nil || existing.Predicate != nil || existing.Window.overlaps(r.Window) {
			return fmt.Errorf("%w: %q", ErrRuleConflict, r.Topic)
		}
	}

	fi.rules[r.Topic] = append(fi.rules[r.Topic], r)
	return nil
}

// Clear removes every rule for the topic. Clearing a topic that has no
// rules is a no-op, not an error. Signals already queued by a DELAY rule
// still deliver at their computed tick.
func (fi *FaultInjector) Clear(topic string) {
	delete(fi.rules, topic)
	delete(fi.active, topic)
}

// BeginTick evaluates rule windows once for the tick. Rules never
// retroactively affect ticks that already delivered.
func (fi *FaultInjector) BeginTick(t model.Tick) {
	fi.tick = t
	fi.active = make(map[string]Rule, len(fi.rules))
	for topic, rules := range fi.rules {
		for _, r := range rules {
			if r.activeAt(t) {
				fi.active[topic] = r
				break
			}
		}
	}
}

// PendingCount reports how many delayed signals await delivery.
func (fi *FaultInjector) PendingCount() int {
	n := 0
	for _, sigs := range fi.pending {
		n += len(sigs)
	}
	return n
}

type verdict int

const (
	verdictDeliver verdict = iota
	verdictDrop
	verdictQueued
)

// process applies the tick's active rule, if any, to one outgoing signal.
func (fi *FaultInjector) process(sig model.Signal) (model.Signal, verdict) {
	r, ok := fi.active[sig.Topic]
	if !ok {
		return sig, verdictDeliver
	}

	switch r.Kind {
	case FaultDrop:
		fi.observe(r)
		return model.Signal{}, verdictDrop

	case FaultDelay:
		fi.observe(r)
		due := fi.tick + model.Tick(r.DelayTicks)
		fi.pending[due] = append(fi.pending[due], sig)
		return model.Signal{}, verdictQueued

	case FaultCorrupt:
		fn := fi.transforms[r.Transform]
		mutated, err := fn(r.Seed, fi.tick, sig.Payload)
		if err != nil {
			// A transform that cannot apply leaves the payload alone;
			// the run must not terminate over a misdirected rule.
			return sig, verdictDeliver
		}
		fi.observe(r)
		sig.Payload = mutated
		return sig, verdictDeliver
	}
	return sig, verdictDeliver
}

// takeDue removes and returns the signals scheduled for tick t, in the
// order they were queued.
func (fi *FaultInjector) takeDue(t model.Tick) []model.Signal {
	due := fi.pending[t]
	delete(fi.pending, t)
	return due
}

func (fi *FaultInjector) observe(r Rule) {
	if fi.metrics != nil {
		fi.metrics.FaultInjected(r.Kind.String())
	}
}

// Built-in corrupt transform names.
const (
	TransformScalarDrift  = "scalar-drift"
	TransformScalarSpike  = "scalar-spike"
	TransformByteScramble = "byte-scramble"
	TransformBoolFlip     = "bool-flip"
)

// scalarDrift offsets a scalar by the rule seed, interpreted directly as
// drift magnitude in payload units.
func scalarDrift(seed int64, _ model.Tick, p model.Payload) (model.Payload, error) {
	s, ok := p.(model.Scalar)
	if !ok {
		return p, ErrTransformUnsupported
	}
	return s + model.Scalar(seed), nil
}

// scalarSpike replaces a scalar with the seed value, modelling a stuck or
// saturated sensor.
func scalarSpike(seed int64, _ model.Tick, p model.Payload) (model.Payload, error) {
	if _, ok := p.(model.Scalar); !ok {
		return p, ErrTransformUnsupported
	}
	return model.Scalar(seed), nil
}

// byteScramble XORs the payload with a PRNG stream derived from the seed
// and tick, so corruption is reproducible across runs.
func byteScramble(seed int64, t model.Tick, p model.Payload) (model.Payload, error) {
	b, ok := p.(model.Bytes)
	if !ok {
		return p, ErrTransformUnsupported
	}
	rng := rand.New(rand.NewSource(seed ^ int64(t)))
	out := make(model.Bytes, len(b))
	for i, v := range b {
		out[i] = v ^ byte(rng.Intn(256))
	}
	return out, nil
}

func boolFlip(_ int64, _ model.Tick, p model.Payload) (model.Payload, error) {
	b, ok := p.(model.Bool)
	if !ok {
		return p, ErrTransformUnsupported
	}
	return !b, nil
}
