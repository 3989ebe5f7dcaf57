package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/vehicle-simulator/model"
)

var (
	ErrTopicExists      = errors.New("topic already registered")
	ErrTopicUnknown     = errors.New("topic not registered")
	ErrTopicBadInput    = errors.New("invalid topic registration")
	ErrDuplicatePublish = errors.New("topic already published this tick")
	ErrBusSealed        = errors.New("bus topology is sealed")
)

// Consumer receives signals for topics it subscribed to. Delivery happens
// synchronously during the publishing component's turn; consumers must
// only buffer what they see and act during their own Step.
type Consumer interface {
	Name() string
	OnSignal(sig model.Signal)
}

type topicInfo struct {
	producer string
	subs     []Consumer
}

// VirtualBus is the topic-addressed router carrying typed signals between
// producers and consumers once per tick. Topics and subscriptions are
// fixed at setup time and sealed before the first tick.
//
// The bus is deliberately not concurrency-safe: the whole simulation is
// single-threaded and step-driven, and each run owns its own bus, so a
// locking discipline would only hide ordering bugs.
type VirtualBus struct {
	topics map[string]*topicInfo
	sealed bool

	tick        model.Tick
	current     map[string]model.Signal
	publishedAt map[string]model.Tick
	droppedAt   map[string]model.Tick

	injector *FaultInjector
	recorder *Recorder
	metrics  MetricsObserver
}

// NewVirtualBus creates an empty bus.
func NewVirtualBus() *VirtualBus {
	return &VirtualBus{
		topics:      make(map[string]*topicInfo),
		current:     make(map[string]model.Signal),
		publishedAt: make(map[string]model.Tick),
		droppedAt:   make(map[string]model.Tick),
	}
}

// SetFaultInjector attaches the fault layer. Every publish is routed
// through it before delivery.
func (b *VirtualBus) SetFaultInjector(fi *FaultInjector) { b.injector = fi }

// SetRecorder attaches a trace recorder that observes every delivery.
func (b *VirtualBus) SetRecorder(r *Recorder) { b.recorder = r }

// SetMetrics attaches an optional metrics observer.
func (b *VirtualBus) SetMetrics(m MetricsObserver) { b.metrics = m }

// RegisterTopic declares a topic and its unique producer. Registering a
// topic twice is a configuration error.
func (b *VirtualBus) RegisterTopic(topic, producer string) error {
	if topic == "" || producer == "" {
		return fmt.Errorf("%w: topic %q producer %q", ErrTopicBadInput, topic, producer)
	}
	if b.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrBusSealed, topic)
	}
	if _, exists := b.topics[topic]; exists {
		return fmt.Errorf("%w: %q", ErrTopicExists, topic)
	}
	b.topics[topic] = &topicInfo{producer: producer}
	return nil
}

// Producer returns the registered producer for a topic, or "".
func (b *VirtualBus) Producer(topic string) string {
	if ti, ok := b.topics[topic]; ok {
		return ti.producer
	}
	return ""
}

// Subscribe appends c to the topic's consumer list. Order of subscription
// is delivery order, which keeps fault-injection runs repeatable.
func (b *VirtualBus) Subscribe(topic string, c Consumer) error {
	if c == nil {
		return fmt.Errorf("%w: nil consumer for %q", ErrTopicBadInput, topic)
	}
	if b.sealed {
		return fmt.Errorf("%w: cannot subscribe to %q", ErrBusSealed, topic)
	}
	ti, ok := b.topics[topic]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTopicUnknown, topic)
	}
	ti.subs = append(ti.subs, c)
	return nil
}

// Seal freezes the topic table and subscriptions. The engine seals the
// bus before the first tick; later mutation attempts fail fast.
func (b *VirtualBus) Seal() { b.sealed = true }

// BeginTick opens a new step: stale per-tick bookkeeping is reset and any
// delayed signals due this tick are redelivered, in the order they were
// originally queued.
func (b *VirtualBus) BeginTick(t model.Tick) {
	b.tick = t
	if b.injector != nil {
		for _, sig := range b.injector.takeDue(t) {
			b.deliver(sig)
		}
	}
}

// Publish routes one signal through the fault layer and on to every
// subscriber. A second publish to the same topic within one tick fails
// fast; that situation is a scenario design error, never a runtime
// condition to recover from.
func (b *VirtualBus) Publish(topic string, payload model.Payload, producer string) error {
	if _, ok := b.topics[topic]; !ok {
		return fmt.Errorf("%w: %q", ErrTopicUnknown, topic)
	}
	if at, ok := b.publishedAt[topic]; ok && at == b.tick {
		return fmt.Errorf("%w: %q at tick %d", ErrDuplicatePublish, topic, b.tick)
	}
	b.publishedAt[topic] = b.tick

	sig := model.Signal{
		Topic:      topic,
		Payload:    payload,
		Producer:   producer,
		ProducedAt: b.tick,
	}

	if b.injector != nil {
		out, verdict := b.injector.process(sig)
		switch verdict {
		case verdictDrop:
			b.droppedAt[topic] = b.tick
			return nil
		case verdictQueued:
			return nil
		default:
			sig = out
		}
	}

	b.deliver(sig)
	return nil
}

// Read returns the most recent delivered signal for the topic. A topic
// dropped this tick reads as absent even when an older value exists, so
// consumers never act on data the fault layer removed.
func (b *VirtualBus) Read(topic string) (model.Signal, bool) {
	if at, ok := b.droppedAt[topic]; ok && at == b.tick {
		return model.Signal{}, false
	}
	sig, ok := b.current[topic]
	return sig, ok
}

// Tick returns the tick the bus is currently delivering for.
func (b *VirtualBus) Tick() model.Tick { return b.tick }

func (b *VirtualBus) deliver(sig model.Signal) {
	sig.DeliveredAt = b.tick
	b.current[sig.Topic] = sig
	delete(b.droppedAt, sig.Topic)
	if b.recorder != nil {
		b.recorder.Record(sig)
	}
	if b.metrics != nil {
		b.metrics.SignalDelivered(sig.Topic)
	}
	if ti, ok := b.topics[sig.Topic]; ok {
		for _, c := range ti.subs {
			c.OnSignal(sig)
		}
	}
}
