package model

// UDS-shaped diagnostic service identifiers handled by the gateway.
const (
	SvcSessionControl  = 0x10
	SvcReadByID        = 0x22
	SvcSecurityAccess  = 0x27
	SvcWriteByID       = 0x2E
	SvcRoutineControl  = 0x31
	NegativeResponseID = 0x7F

	// Positive responses echo the request service id + 0x40.
	PositiveResponseOffset = 0x40
)

// Session-control sub-functions.
const (
	SubDefaultSession     = 0x01
	SubProgrammingSession = 0x02
)

// Security-access sub-functions.
const (
	SubRequestSeed = 0x01
	SubSendKey     = 0x02
)

// Routine-control sub-functions.
const (
	SubStartRoutine = 0x01
	SubStopRoutine  = 0x02
)

// Negative response codes.
const (
	NRCServiceNotSupported     = 0x11
	NRCSubFunctionNotSupported = 0x12
	NRCRequestOutOfRange       = 0x31
	NRCSecurityAccessDenied    = 0x33
	NRCInvalidKey              = 0x35
	NRCExceededAttempts        = 0x36
)

// Data identifiers served by read-by-identifier.
const (
	DIDVin            = 0xF190
	DIDActiveFirmware = 0xF189
	DIDOdometer       = 0xF1A0
	DIDBatterySoC     = 0xF1B0
	RoutineSelfTest   = 0x0100
	DIDWriteTargetSoC = 0xF1C0
)

// DiagRequest is a diagnostic service request: service id plus either a
// sub-function or a data identifier, with an optional payload.
type DiagRequest struct {
	Service int
	SubFn   int
	DataID  int
	Value   float64
}

func (DiagRequest) Kind() PayloadKind { return KindRecord }

// DiagResponse is the positive or negative answer to a DiagRequest. A
// negative response carries Service == NegativeResponseID, the rejected
// service id in Rejected, and the negative response code in NRC.
type DiagResponse struct {
	Service  int
	SubFn    int
	DataID   int
	Rejected int
	NRC      int
	Text     string
	Value    float64
}

func (DiagResponse) Kind() PayloadKind { return KindRecord }

// Positive reports whether the response is a positive one.
func (r DiagResponse) Positive() bool { return r.Service != NegativeResponseID }
