package core

import (
	"bytes"
	"errors"
	"testing"

	"github.com/signalsfoundry/vehicle-simulator/model"
)

func TestScalarDriftIsDeterministic(t *testing.T) {
	a, err := scalarDrift(7, 3, model.Scalar(100))
	if err != nil {
		t.Fatal(err)
	}
	b, err := scalarDrift(7, 3, model.Scalar(100))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("same seed and tick must produce same output: %v vs %v", a, b)
	}
	if a.(model.Scalar) != 107 {
		t.Fatalf("expected 107, got %v", a)
	}
}

func TestScalarSpikeReplacesValue(t *testing.T) {
	out, err := scalarSpike(425, 1, model.Scalar(380))
	if err != nil {
		t.Fatal(err)
	}
	if out.(model.Scalar) != 425 {
		t.Fatalf("expected spike value 425, got %v", out)
	}
}

func TestByteScrambleIsReproducible(t *testing.T) {
	img := model.Bytes("firmware-image-v2")
	a, err := byteScramble(99, 4, img)
	if err != nil {
		t.Fatal(err)
	}
	b, err := byteScramble(99, 4, img)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.(model.Bytes), b.(model.Bytes)) {
		t.Fatal("scramble must be reproducible for same seed and tick")
	}
	if bytes.Equal(a.(model.Bytes), img) {
		t.Fatal("scramble should actually mutate the payload")
	}
	// The input must not be modified in place.
	if string(img) != "firmware-image-v2" {
		t.Fatal("transform mutated its input")
	}
}

func TestTransformTypeMismatchLeavesSignalIntact(t *testing.T) {
	bus := NewVirtualBus()
	fi := NewFaultInjector()
	bus.SetFaultInjector(fi)
	if err := bus.RegisterTopic("CONTACTOR_STATE", "BMS_ECU"); err != nil {
		t.Fatal(err)
	}
	c := &captureConsumer{name: "probe"}
	if err := bus.Subscribe("CONTACTOR_STATE", c); err != nil {
		t.Fatal(err)
	}

	// scalar-drift on a Bool topic cannot apply; delivery must proceed
	// with the original payload.
	err := fi.Install(Rule{
		Topic:     "CONTACTOR_STATE",
		Kind:      FaultCorrupt,
		Transform: TransformScalarDrift,
		Seed:      5,
		Window:    Window{From: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	fi.BeginTick(1)
	bus.BeginTick(1)
	if err := bus.Publish("CONTACTOR_STATE", model.Bool(true), "BMS_ECU"); err != nil {
		t.Fatal(err)
	}
	if len(c.seen) != 1 {
		t.Fatalf("expected delivery despite misdirected transform, got %d", len(c.seen))
	}
	if c.seen[0].Payload.(model.Bool) != true {
		t.Fatalf("payload should be untouched, got %v", c.seen[0].Payload)
	}
}

func TestCorruptRuleRequiresKnownTransform(t *testing.T) {
	fi := NewFaultInjector()
	err := fi.Install(Rule{Topic: "HV_TEMP", Kind: FaultCorrupt, Transform: "no-such-transform"})
	if !errors.Is(err, ErrTransformUnknown) {
		t.Fatalf("expected ErrTransformUnknown, got %v", err)
	}
}

func TestRegisterTransformRejectsOverwrite(t *testing.T) {
	fi := NewFaultInjector()
	err := fi.RegisterTransform(TransformBoolFlip, boolFlip)
	if err == nil {
		t.Fatal("expected rejection when overwriting a built-in transform")
	}
}
