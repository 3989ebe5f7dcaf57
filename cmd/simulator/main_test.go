package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/vehicle-simulator/core"
	"github.com/signalsfoundry/vehicle-simulator/ecu"
	"github.com/signalsfoundry/vehicle-simulator/internal/store"
)

const integrationScenario = `
name: mixed-drive
ticks: 100
step_seconds: 0.1
battery:
  initial_soc: 50
  target_soc: 90
stimuli:
  - tick: 2
    topic: CHARGER_STATUS
    charger:
      state: CONNECTED
      max_power: 50000
  - tick: 10
    topic: WHEEL_SPEED
    scalar: 20
  - tick: 50
    topic: YAW_RATE
    scalar: 0.8
  - tick: 80
    topic: ACCEL_X
    scalar: -60
`

func loadTestScenario(t *testing.T, text string) *core.Scenario {
	t.Helper()
	s, err := core.LoadScenario(strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestBuildVehicleRunsMixedScenario(t *testing.T) {
	scenario := loadTestScenario(t, integrationScenario)
	sim, err := buildVehicle(scenario, store.NewMemory(), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.engine.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The charger stimulus started a charge session.
	if sim.bms.SoC() <= 50 {
		t.Fatalf("expected charging progress, soc still %v", sim.bms.SoC())
	}
	if sim.bms.State() != ecu.BMSCharging {
		t.Fatalf("expected CHARGING at run end, got %s", sim.bms.State())
	}

	// The yaw spike engaged stability control; no later sample released it.
	if !sim.esc.Active() {
		t.Fatal("expected esc active after yaw spike")
	}

	// The crash pulse deployed the restraints.
	if sim.acu.State() != ecu.RestraintDeployed {
		t.Fatalf("expected DEPLOYED, got %s", sim.acu.State())
	}
	if sim.acu.DeployTick() != 80 {
		t.Fatalf("expected deployment at tick 80, got %d", sim.acu.DeployTick())
	}

	// Wheel speed arrived at tick 10 and is held after, so the odometer
	// counted distance.
	if sim.body.TotalKm() <= 0 {
		t.Fatal("expected odometer progress")
	}

	// The trace ring saw traffic.
	if len(sim.recorder.Log()) == 0 {
		t.Fatal("expected recorded signals")
	}
}

func TestRunWritesTraceFile(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(scenarioPath, []byte(integrationScenario), 0o644); err != nil {
		t.Fatal(err)
	}
	tracePath := filepath.Join(dir, "trace.msgpack")

	opts := options{
		scenarioPath: scenarioPath,
		tracePath:    tracePath,
		nvmDSN:       "file:" + filepath.Join(dir, "nvm.db"),
	}
	if err := run(context.Background(), opts, nil); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(tracePath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Fatal("trace file is empty")
	}
}

func TestRunRejectsMissingScenario(t *testing.T) {
	err := run(context.Background(), options{scenarioPath: "/does/not/exist.yaml"}, nil)
	if err == nil {
		t.Fatal("expected error for missing scenario file")
	}
}
