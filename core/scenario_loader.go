package core

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/vehicle-simulator/model"
)

// Scenario is the full pre-run configuration of one simulation: run
// length, topic topology, fault rules, controller tuning, and scripted
// stimuli. Everything must be specified before the first tick; there is
// no mid-run reconfiguration outside tick boundaries.
type Scenario struct {
	Name        string  `yaml:"name" json:"name"`
	Ticks       int64   `yaml:"ticks" json:"ticks"`
	StepSeconds float64 `yaml:"step_seconds" json:"step_seconds"`
	Seed        int64   `yaml:"seed" json:"seed"`

	Topics  []TopicConfig       `yaml:"topics" json:"topics"`
	Faults  []FaultRuleConfig   `yaml:"faults" json:"faults"`
	Stimuli []StimulusConfig    `yaml:"stimuli" json:"stimuli"`
	Allow   map[string][]string `yaml:"allow_list" json:"allow_list"`

	Battery BatteryConfig `yaml:"battery" json:"battery"`
	ADAS    ADASConfig    `yaml:"adas" json:"adas"`
}

// TopicConfig declares one extra topic beyond the standard topology.
type TopicConfig struct {
	Name     string `yaml:"name" json:"name"`
	Producer string `yaml:"producer" json:"producer"`
}

// FaultRuleConfig is the file form of a fault rule.
type FaultRuleConfig struct {
	Topic     string `yaml:"topic" json:"topic"`
	Kind      string `yaml:"kind" json:"kind"` // DROP | DELAY | CORRUPT
	Delay     int    `yaml:"delay" json:"delay"`
	Transform string `yaml:"transform" json:"transform"`
	Seed      int64  `yaml:"seed" json:"seed"`
	From      int64  `yaml:"from" json:"from"`
	To        int64  `yaml:"to" json:"to"`
}

// StimulusConfig schedules one scripted signal. Exactly one of the value
// fields must be set; Lane, Objects, and Charger cover the structured
// topics a scenario file can exercise without a physics model.
type StimulusConfig struct {
	Tick  int64  `yaml:"tick" json:"tick"`
	Topic string `yaml:"topic" json:"topic"`

	Scalar  *float64         `yaml:"scalar" json:"scalar"`
	Flag    *bool            `yaml:"flag" json:"flag"`
	Lane    *LaneStimulus    `yaml:"lane" json:"lane"`
	Objects []ObjectStimulus `yaml:"objects" json:"objects"`
	Charger *ChargerStimulus `yaml:"charger" json:"charger"`
}

type LaneStimulus struct {
	Offset     float64 `yaml:"offset" json:"offset"`
	Heading    float64 `yaml:"heading" json:"heading"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
}

type ObjectStimulus struct {
	Distance float64 `yaml:"distance" json:"distance"`
	Closing  float64 `yaml:"closing" json:"closing"`
	Lateral  float64 `yaml:"lateral" json:"lateral"`
}

type ChargerStimulus struct {
	State    string  `yaml:"state" json:"state"`
	MaxPower float64 `yaml:"max_power" json:"max_power"`
}

// BatteryConfig tunes the battery management controller.
type BatteryConfig struct {
	InitialSoC float64 `yaml:"initial_soc" json:"initial_soc"`
	TargetSoC  float64 `yaml:"target_soc" json:"target_soc"`
	MinVoltage float64 `yaml:"min_voltage" json:"min_voltage"`
	MaxVoltage float64 `yaml:"max_voltage" json:"max_voltage"`
	MaxTemp    float64 `yaml:"max_temp" json:"max_temp"`
	MaxCurrent float64 `yaml:"max_current" json:"max_current"`
}

// ADASConfig tunes the driver-assistance controller.
type ADASConfig struct {
	TTCThreshold    float64 `yaml:"ttc_threshold" json:"ttc_threshold"`
	ConfidenceFloor float64 `yaml:"confidence_floor" json:"confidence_floor"`
	LaneHalfWidth   float64 `yaml:"lane_half_width" json:"lane_half_width"`
}

// LoadScenario decodes a scenario from YAML (JSON parses as a YAML
// subset) and validates it. Malformed configuration fails here, before
// anything runs.
func LoadScenario(r io.Reader) (*Scenario, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: read: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks structural rules that must hold before a run starts.
// Fault-rule conflicts are re-checked by the injector at install time;
// validating here keeps the failure close to the file that caused it.
func (s *Scenario) Validate() error {
	if s.Ticks <= 0 {
		return fmt.Errorf("scenario %q: ticks must be positive, got %d", s.Name, s.Ticks)
	}
	for _, tc := range s.Topics {
		if tc.Name == "" || tc.Producer == "" {
			return fmt.Errorf("scenario %q: topic entry needs name and producer", s.Name)
		}
	}
	seen := map[string][]Window{}
	for i, fc := range s.Faults {
		if _, err := fc.toRule(); err != nil {
			return fmt.Errorf("scenario %q: fault %d: %w", s.Name, i, err)
		}
		w := Window{From: model.Tick(fc.From), To: model.Tick(fc.To)}
		for _, prev := range seen[fc.Topic] {
			if prev.overlaps(w) {
				return fmt.Errorf("scenario %q: fault %d: %w", s.Name, i, ErrRuleConflict)
			}
		}
		seen[fc.Topic] = append(seen[fc.Topic], w)
	}
	for i, st := range s.Stimuli {
		if st.Topic == "" || st.Tick <= 0 {
			return fmt.Errorf("scenario %q: stimulus %d needs a topic and a positive tick", s.Name, i)
		}
		if _, err := st.payload(); err != nil {
			return fmt.Errorf("scenario %q: stimulus %d: %w", s.Name, i, err)
		}
	}
	return nil
}

// FaultRules converts the configured faults into injector rules.
func (s *Scenario) FaultRules() ([]Rule, error) {
	rules := make([]Rule, 0, len(s.Faults))
	for i, fc := range s.Faults {
		r, err := fc.toRule()
		if err != nil {
			return nil, fmt.Errorf("fault %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (fc FaultRuleConfig) toRule() (Rule, error) {
	r := Rule{
		Topic:      fc.Topic,
		DelayTicks: fc.Delay,
		Transform:  fc.Transform,
		Seed:       fc.Seed,
		Window:     Window{From: model.Tick(fc.From), To: model.Tick(fc.To)},
	}
	switch strings.ToUpper(strings.TrimSpace(fc.Kind)) {
	case "DROP":
		r.Kind = FaultDrop
	case "DELAY":
		r.Kind = FaultDelay
	case "CORRUPT":
		r.Kind = FaultCorrupt
	default:
		return Rule{}, fmt.Errorf("%w: kind %q", ErrRuleBadInput, fc.Kind)
	}
	return r, nil
}

// Stimulus is one scheduled scripted publish.
type Stimulus struct {
	Tick    model.Tick
	Topic   string
	Payload model.Payload
}

// ScriptStimuli converts the configured stimuli into schedulable form.
func (s *Scenario) ScriptStimuli() ([]Stimulus, error) {
	out := make([]Stimulus, 0, len(s.Stimuli))
	for i, st := range s.Stimuli {
		p, err := st.payload()
		if err != nil {
			return nil, fmt.Errorf("stimulus %d: %w", i, err)
		}
		out = append(out, Stimulus{Tick: model.Tick(st.Tick), Topic: st.Topic, Payload: p})
	}
	return out, nil
}

func (st StimulusConfig) payload() (model.Payload, error) {
	set := 0
	var p model.Payload
	if st.Scalar != nil {
		set++
		p = model.Scalar(*st.Scalar)
	}
	if st.Flag != nil {
		set++
		p = model.Bool(*st.Flag)
	}
	if st.Lane != nil {
		set++
		p = model.LaneSample{Offset: st.Lane.Offset, Heading: st.Lane.Heading, Confidence: st.Lane.Confidence}
	}
	if st.Objects != nil {
		set++
		objs := make([]model.RadarObject, 0, len(st.Objects))
		for _, o := range st.Objects {
			objs = append(objs, model.RadarObject{Distance: o.Distance, ClosingSpeed: o.Closing, LateralOffset: o.Lateral})
		}
		p = model.ObjectList{Objects: objs}
	}
	if st.Charger != nil {
		set++
		p = model.ChargerStatus{State: st.Charger.State, MaxPower: st.Charger.MaxPower}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: stimulus for %q must set exactly one value field", ErrTopicBadInput, st.Topic)
	}
	return p, nil
}

// StandardTopology is the topic/producer table of the reference vehicle.
// Scenarios extend it via the topics section; a scenario may not redefine
// a standard topic's producer.
func StandardTopology() map[string]string {
	return map[string]string{
		model.TopicHVVoltage:      "BatteryPlant",
		model.TopicHVCurrent:      "BatteryPlant",
		model.TopicHVTemp:         "BatteryPlant",
		model.TopicChargerStatus:  "ChargerPlant",
		model.TopicBatterySoC:     "BMS_ECU",
		model.TopicContactorState: "BMS_ECU",
		model.TopicChargeRequest:  "BMS_ECU",
		model.TopicRadarObjects:   "RadarPlant",
		model.TopicCameraLane:     "CameraPlant",
		model.TopicYawRate:        "DynamicsPlant",
		model.TopicAccelX:         "DynamicsPlant",
		model.TopicWheelSpeed:     "DynamicsPlant",
		model.TopicBrakeCmd:       "ADAS_ECU",
		model.TopicSteeringCmd:    "ADAS_ECU",
		model.TopicBrakeMoment:    "ESC_ECU",
		model.TopicESCStatus:      "ESC_ECU",
		model.TopicDeployAirbag:   "ACU_ECU",
		model.TopicDeploySeatbelt: "ACU_ECU",
		model.TopicPostCrashAlert: "ACU_ECU",
		model.TopicOdometer:       "BCM_ECU",
		model.TopicTripReset:      "TestHarness",
		model.TopicDiagRequest:    "DiagTester",
		model.TopicDiagResponse:   "Gateway",
		model.TopicUpdateImage:    "UpdateServer",
		model.TopicUpdateStatus:   "Gateway",
		model.TopicSecurityAlert:  "Gateway",
	}
}

// RegisterTopology installs the standard table plus scenario additions
// on the bus.
func (s *Scenario) RegisterTopology(bus *VirtualBus) error {
	std := StandardTopology()
	for topic, producer := range std {
		if err := bus.RegisterTopic(topic, producer); err != nil {
			return err
		}
	}
	for _, tc := range s.Topics {
		if _, exists := std[tc.Name]; exists {
			return fmt.Errorf("%w: %q is a standard topic", ErrTopicExists, tc.Name)
		}
		if err := bus.RegisterTopic(tc.Name, tc.Producer); err != nil {
			return err
		}
	}
	return nil
}
