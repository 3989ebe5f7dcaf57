package model

// Tick is the simulation step counter. One unit is one fixed step; the
// value is monotonically increasing and immutable once advanced.
type Tick int64

// PayloadKind tags the concrete shape of a Payload.
type PayloadKind uint8

const (
	KindScalar PayloadKind = iota
	KindBool
	KindBytes
	KindRecord
)

// Payload is the tagged value carried by a Signal. The set of
// implementations is closed: a scalar, a boolean, an opaque byte
// sequence, or one of the structured records defined in this package.
// A topic's payload shape is fixed for the life of a run.
type Payload interface {
	Kind() PayloadKind
}

// Scalar is a plain numeric payload (sensor readings, commands).
type Scalar float64

func (Scalar) Kind() PayloadKind { return KindScalar }

// Bool is a two-state payload (contactor state, deployment flags).
type Bool bool

func (Bool) Kind() PayloadKind { return KindBool }

// Bytes is an opaque byte-sequence payload (firmware chunks).
type Bytes []byte

func (Bytes) Kind() PayloadKind { return KindBytes }

// Signal is one typed message on the virtual bus. ProducedAt is the tick
// the producer published it; DeliveredAt is the tick subscribers saw it,
// which differs from ProducedAt only for deliberately delayed signals.
type Signal struct {
	Topic       string
	Payload     Payload
	Producer    string
	ProducedAt  Tick
	DeliveredAt Tick
}
