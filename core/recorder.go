package core

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/vehicle-simulator/model"
)

// TraceRecord is the flattened form of one delivered signal as written to
// a trace stream.
type TraceRecord struct {
	Topic       string      `msgpack:"topic"`
	Producer    string      `msgpack:"producer"`
	ProducedAt  int64       `msgpack:"produced_at"`
	DeliveredAt int64       `msgpack:"delivered_at"`
	Kind        string      `msgpack:"kind"`
	Value       interface{} `msgpack:"value"`
}

// Recorder keeps a bounded in-memory ring of delivered signals and can
// additionally stream every delivery as msgpack records for post-run
// inspection. Recording failures are remembered, not raised: the trace is
// diagnostic output and must never abort a simulation step.
type Recorder struct {
	limit int
	ring  []model.Signal
	enc   *msgpack.Encoder
	err   error
}

// DefaultTraceDepth matches the message log depth of the bus this design
// descends from.
const DefaultTraceDepth = 1000

// NewRecorder creates a recorder retaining up to limit signals in memory.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultTraceDepth
	}
	return &Recorder{limit: limit}
}

// StreamTo additionally writes every delivered signal to w.
func (r *Recorder) StreamTo(w io.Writer) {
	r.enc = msgpack.NewEncoder(w)
}

// Record appends one delivered signal.
func (r *Recorder) Record(sig model.Signal) {
	r.ring = append(r.ring, sig)
	if len(r.ring) > r.limit {
		r.ring = r.ring[len(r.ring)-r.limit:]
	}
	if r.enc == nil {
		return
	}
	rec := TraceRecord{
		Topic:       sig.Topic,
		Producer:    sig.Producer,
		ProducedAt:  int64(sig.ProducedAt),
		DeliveredAt: int64(sig.DeliveredAt),
		Kind:        kindName(sig.Payload),
		Value:       sig.Payload,
	}
	if err := r.enc.Encode(rec); err != nil && r.err == nil {
		r.err = fmt.Errorf("recorder: encode %s: %w", sig.Topic, err)
	}
}

// Log returns a copy of the retained signals, oldest first.
func (r *Recorder) Log() []model.Signal {
	out := make([]model.Signal, len(r.ring))
	copy(out, r.ring)
	return out
}

// Err reports the first streaming failure, if any.
func (r *Recorder) Err() error { return r.err }

func kindName(p model.Payload) string {
	if p == nil {
		return "none"
	}
	switch p.Kind() {
	case model.KindScalar:
		return "scalar"
	case model.KindBool:
		return "bool"
	case model.KindBytes:
		return "bytes"
	default:
		return "record"
	}
}
