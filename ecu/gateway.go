package ecu

import (
	"context"
	"crypto/ed25519"

	"github.com/signalsfoundry/vehicle-simulator/core"
	"github.com/signalsfoundry/vehicle-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-simulator/model"
)

// GatewayConfig fixes the gateway's trust anchors at build time: the
// topic/producer allow-list, the update-signing public key, and the
// identifiers served over diagnostics.
type GatewayConfig struct {
	// Allow maps topic -> producers permitted to publish it. Inbound
	// signals outside the list are blocked before any handler sees them.
	Allow map[string][]string

	// TrustedKey verifies firmware image signatures.
	TrustedKey ed25519.PublicKey

	VIN           string
	MaxKeyRetries int
	BootVersion   string
}

// DefaultGatewayConfig derives the allow-list from the standard topology,
// so the baseline scenario has zero spoofed-producer tolerance.
func DefaultGatewayConfig(key ed25519.PublicKey) GatewayConfig {
	allow := make(map[string][]string)
	for topic, producer := range core.StandardTopology() {
		allow[topic] = []string{producer}
	}
	return GatewayConfig{
		Allow:         allow,
		TrustedKey:    key,
		VIN:           "1FA-VIRTUAL-CAR-001",
		MaxKeyRetries: 3,
		BootVersion:   "1.0.0",
	}
}

// Gateway is the central domain controller: it firewalls inbound traffic
// against the allow-list, answers diagnostic requests, and drives secure
// firmware updates over the A/B partition pair.
type Gateway struct {
	base
	cfg   GatewayConfig
	allow map[string]map[string]bool

	diag *diagServer
	ota  *updateManager

	pendingDiag   []model.DiagRequest
	pendingAlerts []model.SecurityEvent
	blocked       int

	lastSoC reading
	lastOdo reading
}

// NewGateway builds the gateway and its diagnostic and update engines.
func NewGateway(cfg GatewayConfig, log logging.Logger, metrics core.MetricsObserver) *Gateway {
	if cfg.MaxKeyRetries <= 0 {
		cfg.MaxKeyRetries = 3
	}
	g := &Gateway{
		base:  newBase("Gateway", log, metrics),
		cfg:   cfg,
		allow: make(map[string]map[string]bool, len(cfg.Allow)),
	}
	for topic, producers := range cfg.Allow {
		set := make(map[string]bool, len(producers))
		for _, p := range producers {
			set[p] = true
		}
		g.allow[topic] = set
	}
	g.diag = newDiagServer(g)
	g.ota = newUpdateManager(g, cfg.TrustedKey, cfg.BootVersion)
	return g
}

// Attach subscribes the gateway to its service topics plus every vehicle
// topic it supervises, so the firewall sees all inbound traffic.
func (g *Gateway) Attach(bus *core.VirtualBus) error {
	topics := map[string]bool{
		model.TopicDiagRequest: true,
		model.TopicUpdateImage: true,
		model.TopicBatterySoC:  true,
		model.TopicOdometer:    true,
	}
	for topic := range g.allow {
		topics[topic] = true
	}
	for topic := range topics {
		// Topics the gateway itself produces are not inputs.
		if bus.Producer(topic) == g.name {
			continue
		}
		if err := bus.Subscribe(topic, g); err != nil {
			return err
		}
	}
	return nil
}

// OnSignal runs the firewall check, then dispatches allowed traffic to
// the diagnostic queue, the update engine, or the identifier caches.
func (g *Gateway) OnSignal(sig model.Signal) {
	if !g.allowed(sig) {
		g.blocked++
		g.pendingAlerts = append(g.pendingAlerts, model.SecurityEvent{
			Reason:   "producer not on allow-list",
			Topic:    sig.Topic,
			Producer: sig.Producer,
		})
		if g.metrics != nil {
			g.metrics.IntrusionBlocked(sig.Topic)
		}
		g.log.Warn(context.Background(), "blocked spoofed signal",
			logging.String("topic", sig.Topic),
			logging.String("producer", sig.Producer),
			logging.Int64("tick", int64(sig.DeliveredAt)),
		)
		return
	}

	switch sig.Topic {
	case model.TopicDiagRequest:
		if req, ok := sig.Payload.(model.DiagRequest); ok {
			g.pendingDiag = append(g.pendingDiag, req)
		}
	case model.TopicUpdateImage:
		if img, ok := sig.Payload.(model.UpdateImage); ok {
			g.ota.submit(img)
		}
	case model.TopicBatterySoC:
		if v, ok := sig.Payload.(model.Scalar); ok {
			g.lastSoC.set(float64(v), sig.DeliveredAt)
		}
	case model.TopicOdometer:
		if odo, ok := sig.Payload.(model.OdometerSample); ok {
			g.lastOdo.set(odo.TotalKm, sig.DeliveredAt)
		}
	}
}

func (g *Gateway) allowed(sig model.Signal) bool {
	producers, supervised := g.allow[sig.Topic]
	if !supervised {
		return true
	}
	return producers[sig.Producer]
}

// Step answers at most one diagnostic request, advances the update
// engine one state, and flushes one queued security alert. One of each
// per tick keeps the one-publish-per-topic-per-tick contract.
func (g *Gateway) Step(t model.Tick, bus *core.VirtualBus) error {
	if len(g.pendingDiag) > 0 {
		req := g.pendingDiag[0]
		g.pendingDiag = g.pendingDiag[1:]
		resp := g.diag.handle(req, t)
		if err := bus.Publish(model.TopicDiagResponse, resp, g.name); err != nil {
			return err
		}
	}

	if status, changed := g.ota.step(t); changed {
		if err := bus.Publish(model.TopicUpdateStatus, status, g.name); err != nil {
			return err
		}
	}

	if len(g.pendingAlerts) > 0 {
		alert := g.pendingAlerts[0]
		g.pendingAlerts = g.pendingAlerts[1:]
		if err := bus.Publish(model.TopicSecurityAlert, alert, g.name); err != nil {
			return err
		}
	}
	return nil
}

// BlockedCount reports how many inbound signals the firewall rejected.
func (g *Gateway) BlockedCount() int { return g.blocked }

// UpdateState returns the update engine's current state.
func (g *Gateway) UpdateState() string { return g.ota.state() }

// ActiveFirmware returns the firmware version currently served.
func (g *Gateway) ActiveFirmware() string { return g.ota.activeVersion() }

// DiagSession returns the active diagnostic session name.
func (g *Gateway) DiagSession() string { return g.diag.session }

// SecurityUnlocked reports whether security access has been granted in
// the current session.
func (g *Gateway) SecurityUnlocked() bool { return g.diag.security == secUnlocked }
