package ecu

import (
	"context"
	"strconv"

	"github.com/signalsfoundry/vehicle-simulator/core"
	"github.com/signalsfoundry/vehicle-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-simulator/internal/store"
	"github.com/signalsfoundry/vehicle-simulator/model"
)

const (
	keyOdometerTotalM = "odometer_total_m"
	keyOdometerTripM  = "odometer_trip_m"
)

// BodyConfig sets the integration step and how often the mileage counters
// are written back to non-volatile storage.
type BodyConfig struct {
	StepSeconds       float64
	PersistEveryTicks int
}

// DefaultBodyConfig returns a 100 ms step with persistence every 10 ticks.
func DefaultBodyConfig() BodyConfig {
	return BodyConfig{StepSeconds: 0.1, PersistEveryTicks: 10}
}

// BodyController keeps the odometer and trip counters: wheel speed is
// integrated each tick, broadcast on the bus, and periodically persisted
// so mileage survives a simulated reboot. A cold start with no stored
// record begins at zero.
type BodyController struct {
	base
	cfg BodyConfig
	nvm store.Store

	totalM float64
	tripM  float64

	speed     reading
	resetTrip bool
}

// NewBodyController loads the persisted counters and builds the
// controller. Absent keys are a cold start, not an error.
func NewBodyController(cfg BodyConfig, nvm store.Store, log logging.Logger, metrics core.MetricsObserver) (*BodyController, error) {
	if cfg.StepSeconds <= 0 {
		cfg.StepSeconds = 0.1
	}
	if cfg.PersistEveryTicks <= 0 {
		cfg.PersistEveryTicks = 10
	}
	b := &BodyController{
		base: newBase("BCM_ECU", log, metrics),
		cfg:  cfg,
		nvm:  nvm,
	}

	ctx := context.Background()
	var err error
	if b.totalM, err = loadCounter(ctx, nvm, keyOdometerTotalM); err != nil {
		return nil, err
	}
	if b.tripM, err = loadCounter(ctx, nvm, keyOdometerTripM); err != nil {
		return nil, err
	}
	b.log.Info(ctx, "odometer restored",
		logging.Float("total_km", b.totalM/1000),
		logging.Float("trip_km", b.tripM/1000),
	)
	return b, nil
}

func loadCounter(ctx context.Context, nvm store.Store, key string) (float64, error) {
	raw, ok, err := nvm.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// A corrupted record reads as a cold start.
		return 0, nil
	}
	return v, nil
}

// Attach subscribes the controller to wheel speed and trip reset.
func (b *BodyController) Attach(bus *core.VirtualBus) error {
	if err := bus.Subscribe(model.TopicWheelSpeed, b); err != nil {
		return err
	}
	return bus.Subscribe(model.TopicTripReset, b)
}

func (b *BodyController) OnSignal(sig model.Signal) {
	switch sig.Topic {
	case model.TopicWheelSpeed:
		if v, ok := sig.Payload.(model.Scalar); ok {
			b.speed.set(float64(v), sig.DeliveredAt)
		}
	case model.TopicTripReset:
		if v, ok := sig.Payload.(model.Bool); ok && bool(v) {
			b.resetTrip = true
		}
	}
}

// Step integrates distance, applies a pending trip reset, broadcasts the
// sample, and persists on the configured cadence.
func (b *BodyController) Step(t model.Tick, bus *core.VirtualBus) error {
	if b.resetTrip {
		b.resetTrip = false
		b.tripM = 0
	}
	if b.speed.seen && b.speed.value > 0 {
		d := b.speed.value * b.cfg.StepSeconds
		b.totalM += d
		b.tripM += d
	}

	sample := model.OdometerSample{TotalKm: b.totalM / 1000, TripKm: b.tripM / 1000}
	if err := bus.Publish(model.TopicOdometer, sample, b.name); err != nil {
		return err
	}

	if int(t)%b.cfg.PersistEveryTicks == 0 {
		if err := b.Flush(context.Background()); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes the counters to non-volatile storage immediately.
func (b *BodyController) Flush(ctx context.Context) error {
	if err := b.nvm.Put(ctx, keyOdometerTotalM, strconv.FormatFloat(b.totalM, 'f', -1, 64)); err != nil {
		return err
	}
	return b.nvm.Put(ctx, keyOdometerTripM, strconv.FormatFloat(b.tripM, 'f', -1, 64))
}

// TotalKm returns the lifetime odometer reading in kilometres.
func (b *BodyController) TotalKm() float64 { return b.totalM / 1000 }

// TripKm returns the trip counter in kilometres.
func (b *BodyController) TripKm() float64 { return b.tripM / 1000 }
