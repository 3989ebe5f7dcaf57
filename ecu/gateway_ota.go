package ecu

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/looplab/fsm"

	"github.com/signalsfoundry/vehicle-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-simulator/model"
)

// Firmware update states.
const (
	OTAIdle             = "IDLE"
	OTADownloading      = "DOWNLOADING"
	OTAVerifying        = "VERIFYING"
	OTAFlashingInactive = "FLASHING_INACTIVE"
	OTAActivating       = "ACTIVATING"
	OTARolledBack       = "ROLLED_BACK"
)

const (
	evOTAReceive      = "receive"
	evOTADownloaded   = "downloaded"
	evOTAVerified     = "verified"
	evOTAVerifyFailed = "verify_failed"
	evOTAFlashed      = "flashed"
	evOTAFlashFailed  = "flash_failed"
	evOTAActivated    = "activated"
)

// corruptChunkMarker in an image simulates a mid-flash write failure.
var corruptChunkMarker = []byte("corrupt_chunk")

// partition is one firmware slot of the A/B pair.
type partition struct {
	Version  string
	Image    []byte
	Verified bool
}

// updateManager drives secure firmware updates over an A/B partition
// pair. Exactly one partition is active at any instant; the active slot
// only changes in the atomic swap at the end of a fully verified flash,
// so a failure at any earlier stage leaves the running firmware intact.
type updateManager struct {
	gw      *Gateway
	trusted ed25519.PublicKey
	sm      *fsm.FSM

	parts  [2]partition
	active int

	pending    *model.UpdateImage
	lastResult model.UpdateResult
}

func newUpdateManager(gw *Gateway, trusted ed25519.PublicKey, bootVersion string) *updateManager {
	m := &updateManager{
		gw:      gw,
		trusted: trusted,
	}
	m.parts[0] = partition{Version: bootVersion, Image: []byte(bootVersion), Verified: true}

	events := fsm.Events{
		{Name: evOTAReceive, Src: []string{OTAIdle, OTARolledBack}, Dst: OTADownloading},
		{Name: evOTADownloaded, Src: []string{OTADownloading}, Dst: OTAVerifying},
		{Name: evOTAVerified, Src: []string{OTAVerifying}, Dst: OTAFlashingInactive},
		{Name: evOTAVerifyFailed, Src: []string{OTAVerifying}, Dst: OTAIdle},
		{Name: evOTAFlashed, Src: []string{OTAFlashingInactive}, Dst: OTAActivating},
		{Name: evOTAFlashFailed, Src: []string{OTAFlashingInactive}, Dst: OTARolledBack},
		{Name: evOTAActivated, Src: []string{OTAActivating}, Dst: OTAIdle},
	}
	callbacks := fsm.Callbacks{
		"enter_state": func(ctx context.Context, e *fsm.Event) {
			if gw != nil {
				gw.observeState("OTA_" + e.Dst)
			}
		},
	}
	m.sm = fsm.NewFSM(OTAIdle, events, callbacks)
	return m
}

// submit queues one update image. A second image while an update is in
// flight is ignored; the tester sees that in the status stream.
func (m *updateManager) submit(img model.UpdateImage) {
	if m.pending != nil || (m.state() != OTAIdle && m.state() != OTARolledBack) {
		m.gw.log.Warn(context.Background(), "update image ignored, transfer in flight",
			logging.String("version", img.Version))
		return
	}
	m.pending = &img
}

// step advances the update at most one state per tick and reports the
// status to broadcast, if it changed.
func (m *updateManager) step(t model.Tick) (model.UpdateStatus, bool) {
	ctx := context.Background()
	before := m.state()

	switch before {
	case OTAIdle, OTARolledBack:
		if m.pending != nil {
			m.event(ctx, evOTAReceive)
		}
	case OTADownloading:
		m.event(ctx, evOTADownloaded)
	case OTAVerifying:
		if m.verify() {
			m.event(ctx, evOTAVerified)
		} else {
			m.lastResult = model.UpdateSignatureRejected
			m.gw.log.Warn(ctx, "update signature rejected",
				logging.String("version", m.pending.Version),
				logging.Int64("tick", int64(t)),
			)
			m.pending = nil
			m.event(ctx, evOTAVerifyFailed)
		}
	case OTAFlashingInactive:
		if m.flashInactive() {
			m.event(ctx, evOTAFlashed)
		} else {
			m.lastResult = model.UpdateRolledBack
			m.gw.log.Warn(ctx, "flash failed, rolling back",
				logging.String("version", m.pending.Version),
				logging.String("served", m.activeVersion()),
				logging.Int64("tick", int64(t)),
			)
			m.pending = nil
			m.event(ctx, evOTAFlashFailed)
		}
	case OTAActivating:
		m.activate()
		m.lastResult = model.UpdateInstalled
		m.gw.log.Info(ctx, "update activated",
			logging.String("version", m.activeVersion()),
			logging.Int64("tick", int64(t)),
		)
		m.event(ctx, evOTAActivated)
	}

	after := m.state()
	if after == before {
		return model.UpdateStatus{}, false
	}
	status := model.UpdateStatus{State: after, Version: m.activeVersion()}
	if after == OTAIdle || after == OTARolledBack {
		status.Result = m.lastResult
	}
	return status, true
}

func (m *updateManager) verify() bool {
	if m.pending == nil || len(m.trusted) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(m.trusted, m.pending.Image, m.pending.Signature)
}

// flashInactive writes the image into the inactive slot. The corrupt
// chunk marker simulates a write failure partway through; the slot is
// wiped so a half-written image can never be activated.
func (m *updateManager) flashInactive() bool {
	inactive := 1 - m.active
	if bytes.Contains(m.pending.Image, corruptChunkMarker) {
		m.parts[inactive] = partition{}
		return false
	}
	m.parts[inactive] = partition{
		Version:  m.pending.Version,
		Image:    append([]byte(nil), m.pending.Image...),
		Verified: true,
	}
	return true
}

// activate swaps the active slot. This is the only place active changes.
func (m *updateManager) activate() {
	m.active = 1 - m.active
	m.pending = nil
}

func (m *updateManager) event(ctx context.Context, name string) {
	if err := m.sm.Event(ctx, name); err != nil {
		m.gw.log.Error(ctx, "update transition rejected",
			logging.String("event", name),
			logging.String("state", m.state()),
			logging.String("error", err.Error()),
		)
	}
}

func (m *updateManager) state() string { return m.sm.Current() }

func (m *updateManager) activeVersion() string { return m.parts[m.active].Version }

// partitionsConsistent verifies the A/B invariant: the active slot holds
// a verified image.
func (m *updateManager) partitionsConsistent() bool {
	return m.parts[m.active].Verified && m.parts[m.active].Version != ""
}
