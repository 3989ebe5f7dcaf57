package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/signalsfoundry/vehicle-simulator/core"
	"github.com/signalsfoundry/vehicle-simulator/ecu"
	"github.com/signalsfoundry/vehicle-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-simulator/internal/observability"
	"github.com/signalsfoundry/vehicle-simulator/internal/store"
	"github.com/signalsfoundry/vehicle-simulator/model"
	"github.com/signalsfoundry/vehicle-simulator/timectrl"
)

type options struct {
	scenarioPath string
	metricsAddr  string
	tracePath    string
	nvmDSN       string
	pubkeyPath   string
}

func main() {
	var opts options
	flag.StringVar(&opts.scenarioPath, "scenario", "configs/scenario.yaml", "path to the scenario file (YAML or JSON)")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "listen address for /metrics; empty disables the endpoint")
	flag.StringVar(&opts.tracePath, "trace", "", "write the delivered-signal trace (msgpack) to this file")
	flag.StringVar(&opts.nvmDSN, "nvm", "", "SQLite DSN for non-volatile vehicle state; empty uses in-memory storage")
	flag.StringVar(&opts.pubkeyPath, "update-pubkey", "", "hex-encoded Ed25519 public key file for firmware verification")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "tracing init failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	if err := run(ctx, opts, log); err != nil {
		log.Error(ctx, "simulation failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	f, err := os.Open(opts.scenarioPath)
	if err != nil {
		return fmt.Errorf("open scenario: %w", err)
	}
	scenario, err := core.LoadScenario(f)
	f.Close()
	if err != nil {
		return err
	}

	nvm, err := openStore(ctx, opts.nvmDSN)
	if err != nil {
		return fmt.Errorf("open nvm store: %w", err)
	}
	defer nvm.Close()

	trusted, err := loadUpdateKey(opts.pubkeyPath)
	if err != nil {
		return err
	}

	var metrics *observability.SimCollector
	if opts.metricsAddr != "" {
		if metrics, err = observability.NewSimCollector(nil); err != nil {
			return err
		}
		go serveMetrics(ctx, opts.metricsAddr, metrics, log)
	}

	sim, err := buildVehicle(scenario, nvm, trusted, log, metrics)
	if err != nil {
		return err
	}

	if opts.tracePath != "" {
		out, err := os.Create(opts.tracePath)
		if err != nil {
			return fmt.Errorf("create trace file: %w", err)
		}
		defer out.Close()
		sim.recorder.StreamTo(out)
	}

	if err := sim.engine.Run(ctx); err != nil {
		return err
	}
	if err := sim.body.Flush(ctx); err != nil {
		return fmt.Errorf("persist odometer: %w", err)
	}
	if err := sim.recorder.Err(); err != nil {
		log.Warn(ctx, "trace stream incomplete", logging.String("error", err.Error()))
	}

	log.Info(ctx, "scenario finished",
		logging.String("scenario", scenario.Name),
		logging.String("bms_state", sim.bms.State()),
		logging.Float("soc", sim.bms.SoC()),
		logging.String("adas_state", sim.adas.State()),
		logging.String("firmware", sim.gateway.ActiveFirmware()),
		logging.Int("intrusions_blocked", sim.gateway.BlockedCount()),
		logging.Float("odometer_km", sim.body.TotalKm()),
	)
	return nil
}

// vehicleSim is one fully wired run: the kernel plus the reference
// vehicle's controllers.
type vehicleSim struct {
	engine   *core.SimulationEngine
	recorder *core.Recorder

	bms     *ecu.BMS
	gateway *ecu.Gateway
	adas    *ecu.ADAS
	esc     *ecu.StabilityMonitor
	acu     *ecu.RestraintMonitor
	body    *ecu.BodyController
}

// buildVehicle assembles the engine, topology, fault rules, scripted
// stimuli, and the standard controller set for one scenario.
func buildVehicle(scenario *core.Scenario, nvm store.Store, trusted ed25519.PublicKey, log logging.Logger, metrics *observability.SimCollector) (*vehicleSim, error) {
	clock, err := timectrl.NewTickController(scenario.Ticks)
	if err != nil {
		return nil, err
	}
	eng := core.NewSimulationEngine(clock, log)
	if metrics != nil {
		eng.SetMetrics(metrics)
	}

	if err := scenario.RegisterTopology(eng.Bus); err != nil {
		return nil, err
	}
	rules, err := scenario.FaultRules()
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if err := eng.Injector.Install(r); err != nil {
			return nil, err
		}
	}

	stimuli, err := scenario.ScriptStimuli()
	if err != nil {
		return nil, err
	}
	eng.AddPlant(core.NewScriptPlant("TestHarness", stimuli))

	recorder := core.NewRecorder(core.DefaultTraceDepth)
	eng.Bus.SetRecorder(recorder)

	sim := &vehicleSim{engine: eng, recorder: recorder}

	sim.bms = ecu.NewBMS(batteryConfig(scenario), log, metrics)
	gwCfg := ecu.DefaultGatewayConfig(trusted)
	for topic, producers := range scenario.Allow {
		gwCfg.Allow[topic] = producers
	}
	sim.gateway = ecu.NewGateway(gwCfg, log, metrics)
	sim.adas = ecu.NewADAS(adasConfig(scenario), log, metrics)
	sim.esc = ecu.NewStabilityMonitor(log, metrics)
	sim.acu = ecu.NewRestraintMonitor(log, metrics)
	stepSeconds := scenario.StepSeconds
	if stepSeconds <= 0 {
		stepSeconds = 0.1
	}
	bodyCfg := ecu.DefaultBodyConfig()
	bodyCfg.StepSeconds = stepSeconds
	if sim.body, err = ecu.NewBodyController(bodyCfg, nvm, log, metrics); err != nil {
		return nil, err
	}

	type attachable interface {
		Attach(*core.VirtualBus) error
	}
	wired := []struct {
		a attachable
		c core.Controller
	}{
		{sim.bms, sim.bms},
		{sim.gateway, sim.gateway},
		{sim.adas, sim.adas},
		{sim.esc, sim.esc},
		{sim.acu, sim.acu},
		{sim.body, sim.body},
	}
	for _, w := range wired {
		if err := w.a.Attach(eng.Bus); err != nil {
			return nil, err
		}
		eng.AddController(w.c)
	}

	if metrics != nil {
		eng.RegisterTickListener(func(model.Tick) {
			metrics.SetBatterySoC(sim.bms.SoC())
		})
	}
	return sim, nil
}

func batteryConfig(s *core.Scenario) ecu.BMSConfig {
	cfg := ecu.DefaultBMSConfig()
	if s.Battery.InitialSoC > 0 {
		cfg.InitialSoC = s.Battery.InitialSoC
	}
	if s.Battery.TargetSoC > 0 {
		cfg.TargetSoC = s.Battery.TargetSoC
	}
	if s.Battery.MinVoltage > 0 {
		cfg.MinVoltage = s.Battery.MinVoltage
	}
	if s.Battery.MaxVoltage > 0 {
		cfg.MaxVoltage = s.Battery.MaxVoltage
	}
	if s.Battery.MaxTemp > 0 {
		cfg.MaxTemp = s.Battery.MaxTemp
	}
	if s.Battery.MaxCurrent > 0 {
		cfg.MaxCurrent = s.Battery.MaxCurrent
	}
	return cfg
}

func adasConfig(s *core.Scenario) ecu.ADASConfig {
	cfg := ecu.DefaultADASConfig()
	if s.ADAS.TTCThreshold > 0 {
		cfg.TTCThreshold = s.ADAS.TTCThreshold
	}
	if s.ADAS.ConfidenceFloor > 0 {
		cfg.ConfidenceFloor = s.ADAS.ConfidenceFloor
	}
	if s.ADAS.LaneHalfWidth > 0 {
		cfg.LaneHalfWidth = s.ADAS.LaneHalfWidth
	}
	return cfg
}

func openStore(ctx context.Context, dsn string) (store.Store, error) {
	if dsn == "" {
		return store.NewMemory(), nil
	}
	s, err := store.NewSQLite(dsn)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// loadUpdateKey reads a hex-encoded Ed25519 public key. Without one, the
// gateway rejects every update image, which is the safe default.
func loadUpdateKey(path string) (ed25519.PublicKey, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read update key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode update key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("update key must be %d bytes, got %d", ed25519.PublicKeySize, len(key))
	}
	return ed25519.PublicKey(key), nil
}

func serveMetrics(ctx context.Context, addr string, metrics *observability.SimCollector, log logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Info(ctx, "metrics endpoint listening", logging.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn(ctx, "metrics endpoint stopped", logging.String("error", err.Error()))
	}
}
