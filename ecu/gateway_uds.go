package ecu

import (
	"fmt"

	"github.com/signalsfoundry/vehicle-simulator/model"
)

// Diagnostic session and security-access states.
const (
	sessionDefault     = "DEFAULT"
	sessionProgramming = "PROGRAMMING"

	secLocked     = "LOCKED"
	secSeedIssued = "SEED_ISSUED"
	secUnlocked   = "UNLOCKED"
)

// diagServer answers UDS-shaped requests on behalf of the gateway. It is
// a request/response engine, not an fsm.FSM: the session and security
// axes move independently and every transition is driven by one request.
type diagServer struct {
	gw *Gateway

	session  string
	security string
	seed     int
	retries  int
	lockout  bool

	routineRunning bool
	targetSoC      float64
	targetSoCSet   bool
}

func newDiagServer(gw *Gateway) *diagServer {
	return &diagServer{
		gw:       gw,
		session:  sessionDefault,
		security: secLocked,
	}
}

func (d *diagServer) handle(req model.DiagRequest, t model.Tick) model.DiagResponse {
	switch req.Service {
	case model.SvcSessionControl:
		return d.sessionControl(req)
	case model.SvcSecurityAccess:
		return d.securityAccess(req, t)
	case model.SvcReadByID:
		return d.readByID(req)
	case model.SvcWriteByID:
		return d.writeByID(req)
	case model.SvcRoutineControl:
		return d.routineControl(req)
	default:
		return negative(req, model.NRCServiceNotSupported)
	}
}

// sessionControl switches sessions. Any switch relocks security access
// and clears a key-retry lockout; the unlock never outlives its session.
func (d *diagServer) sessionControl(req model.DiagRequest) model.DiagResponse {
	var next string
	switch req.SubFn {
	case model.SubDefaultSession:
		next = sessionDefault
	case model.SubProgrammingSession:
		next = sessionProgramming
	default:
		return negative(req, model.NRCSubFunctionNotSupported)
	}
	d.session = next
	d.security = secLocked
	d.seed = 0
	d.retries = 0
	d.lockout = false
	if d.gw != nil {
		d.gw.observeState("DIAG_" + next)
	}
	return positive(req, next)
}

// securityAccess implements the seed/key exchange. The seed derives
// deterministically from the request tick so runs replay exactly; the
// expected key is seed+1. A wrong key relocks and voids the issued seed,
// so every attempt costs a fresh seed request.
func (d *diagServer) securityAccess(req model.DiagRequest, t model.Tick) model.DiagResponse {
	if d.lockout {
		return negative(req, model.NRCExceededAttempts)
	}
	switch req.SubFn {
	case model.SubRequestSeed:
		if d.security == secUnlocked {
			// Already unlocked: zero seed per convention.
			resp := positive(req, "")
			resp.Value = 0
			return resp
		}
		d.seed = int(t*2654435761) & 0xFFFF
		if d.seed == 0 {
			d.seed = 1
		}
		d.security = secSeedIssued
		resp := positive(req, "")
		resp.Value = float64(d.seed)
		return resp
	case model.SubSendKey:
		if d.security != secSeedIssued {
			return negative(req, model.NRCSecurityAccessDenied)
		}
		if int(req.Value) != d.seed+1 {
			d.retries++
			d.security = secLocked
			d.seed = 0
			if d.retries >= d.gw.cfg.MaxKeyRetries {
				d.lockout = true
				return negative(req, model.NRCExceededAttempts)
			}
			return negative(req, model.NRCInvalidKey)
		}
		d.security = secUnlocked
		d.retries = 0
		if d.gw != nil {
			d.gw.observeState("DIAG_UNLOCKED")
		}
		return positive(req, "")
	default:
		return negative(req, model.NRCSubFunctionNotSupported)
	}
}

func (d *diagServer) readByID(req model.DiagRequest) model.DiagResponse {
	resp := positive(req, "")
	switch req.DataID {
	case model.DIDVin:
		resp.Text = d.gw.cfg.VIN
	case model.DIDActiveFirmware:
		resp.Text = d.gw.ota.activeVersion()
	case model.DIDOdometer:
		resp.Value = d.gw.lastOdo.value
	case model.DIDBatterySoC:
		resp.Value = d.gw.lastSoC.value
	case model.DIDWriteTargetSoC:
		if !d.targetSoCSet {
			return negative(req, model.NRCRequestOutOfRange)
		}
		resp.Value = d.targetSoC
	default:
		return negative(req, model.NRCRequestOutOfRange)
	}
	return resp
}

// writeByID accepts writes only after a completed seed/key exchange.
func (d *diagServer) writeByID(req model.DiagRequest) model.DiagResponse {
	if d.security != secUnlocked {
		return negative(req, model.NRCSecurityAccessDenied)
	}
	switch req.DataID {
	case model.DIDWriteTargetSoC:
		if req.Value < 0 || req.Value > 100 {
			return negative(req, model.NRCRequestOutOfRange)
		}
		d.targetSoC = req.Value
		d.targetSoCSet = true
		return positive(req, "")
	default:
		return negative(req, model.NRCRequestOutOfRange)
	}
}

// routineControl starts and stops routines; it is gated the same way as
// writes.
func (d *diagServer) routineControl(req model.DiagRequest) model.DiagResponse {
	if d.security != secUnlocked {
		return negative(req, model.NRCSecurityAccessDenied)
	}
	if req.DataID != model.RoutineSelfTest {
		return negative(req, model.NRCRequestOutOfRange)
	}
	switch req.SubFn {
	case model.SubStartRoutine:
		d.routineRunning = true
		return positive(req, "SELF_TEST_STARTED")
	case model.SubStopRoutine:
		d.routineRunning = false
		return positive(req, "SELF_TEST_STOPPED")
	default:
		return negative(req, model.NRCSubFunctionNotSupported)
	}
}

func positive(req model.DiagRequest, text string) model.DiagResponse {
	return model.DiagResponse{
		Service: req.Service + model.PositiveResponseOffset,
		SubFn:   req.SubFn,
		DataID:  req.DataID,
		Text:    text,
	}
}

func negative(req model.DiagRequest, nrc int) model.DiagResponse {
	return model.DiagResponse{
		Service:  model.NegativeResponseID,
		Rejected: req.Service,
		NRC:      nrc,
		Text:     fmt.Sprintf("NRC_0x%02X", nrc),
	}
}
