package core

import (
	"errors"
	"strings"
	"testing"
)

const validScenarioYAML = `
name: charge-with-noise
ticks: 600
step_seconds: 0.1
seed: 42
faults:
  - topic: HV_VOLTAGE
    kind: CORRUPT
    transform: scalar-drift
    seed: 15
    from: 100
    to: 200
  - topic: CAMERA_LANE
    kind: DROP
    from: 300
    to: 350
stimuli:
  - tick: 5
    topic: CHARGER_STATUS
    charger:
      state: CONNECTED
      max_power: 50000
  - tick: 10
    topic: YAW_RATE
    scalar: 0.7
battery:
  initial_soc: 50
  target_soc: 90
`

func TestLoadScenarioParsesYAML(t *testing.T) {
	s, err := LoadScenario(strings.NewReader(validScenarioYAML))
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "charge-with-noise" {
		t.Fatalf("expected name charge-with-noise, got %q", s.Name)
	}
	if s.Ticks != 600 {
		t.Fatalf("expected 600 ticks, got %d", s.Ticks)
	}
	if len(s.Faults) != 2 || len(s.Stimuli) != 2 {
		t.Fatalf("expected 2 faults and 2 stimuli, got %d and %d", len(s.Faults), len(s.Stimuli))
	}
	if s.Battery.TargetSoC != 90 {
		t.Fatalf("expected target soc 90, got %v", s.Battery.TargetSoC)
	}
}

func TestLoadScenarioAcceptsJSON(t *testing.T) {
	s, err := LoadScenario(strings.NewReader(`{"name": "json-run", "ticks": 10}`))
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "json-run" || s.Ticks != 10 {
		t.Fatalf("unexpected scenario: %+v", s)
	}
}

func TestValidateRejectsNonPositiveTicks(t *testing.T) {
	if _, err := LoadScenario(strings.NewReader(`{"name": "bad", "ticks": 0}`)); err == nil {
		t.Fatal("expected rejection of zero-tick run")
	}
}

func TestValidateRejectsOverlappingFaults(t *testing.T) {
	const overlapping = `
name: bad-faults
ticks: 100
faults:
  - topic: HV_VOLTAGE
    kind: DROP
    from: 1
    to: 50
  - topic: HV_VOLTAGE
    kind: DELAY
    delay: 2
    from: 40
    to: 60
`
	_, err := LoadScenario(strings.NewReader(overlapping))
	if !errors.Is(err, ErrRuleConflict) {
		t.Fatalf("expected ErrRuleConflict, got %v", err)
	}
}

func TestValidateRejectsAmbiguousStimulus(t *testing.T) {
	const ambiguous = `
name: bad-stimulus
ticks: 100
stimuli:
  - tick: 1
    topic: YAW_RATE
    scalar: 0.5
    flag: true
`
	if _, err := LoadScenario(strings.NewReader(ambiguous)); err == nil {
		t.Fatal("expected rejection of stimulus with two value fields")
	}
}

func TestFaultRulesConvertKinds(t *testing.T) {
	s, err := LoadScenario(strings.NewReader(validScenarioYAML))
	if err != nil {
		t.Fatal(err)
	}
	rules, err := s.FaultRules()
	if err != nil {
		t.Fatal(err)
	}
	if rules[0].Kind != FaultCorrupt || rules[0].Transform != TransformScalarDrift {
		t.Fatalf("unexpected first rule: %+v", rules[0])
	}
	if rules[1].Kind != FaultDrop {
		t.Fatalf("unexpected second rule: %+v", rules[1])
	}
}

func TestRegisterTopologyRejectsStandardTopicOverride(t *testing.T) {
	s := &Scenario{
		Ticks:  10,
		Topics: []TopicConfig{{Name: "HV_VOLTAGE", Producer: "Impostor"}},
	}
	bus := NewVirtualBus()
	if err := s.RegisterTopology(bus); err == nil {
		t.Fatal("expected rejection of standard-topic redefinition")
	}
}

func TestRegisterTopologyAddsScenarioTopics(t *testing.T) {
	s := &Scenario{
		Ticks:  10,
		Topics: []TopicConfig{{Name: "CABIN_TEMP", Producer: "HVACPlant"}},
	}
	bus := NewVirtualBus()
	if err := s.RegisterTopology(bus); err != nil {
		t.Fatal(err)
	}
	if got := bus.Producer("CABIN_TEMP"); got != "HVACPlant" {
		t.Fatalf("expected HVACPlant, got %q", got)
	}
	if got := bus.Producer("UDS_REQUEST"); got != "DiagTester" {
		t.Fatalf("standard topology missing: %q", got)
	}
}
