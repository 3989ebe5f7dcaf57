package model

// Bus topic names. Topics are pre-registered at scenario setup; producers
// and subscribers never change mid-run.
const (
	// Battery / charging
	TopicHVVoltage      = "HV_VOLTAGE"
	TopicHVCurrent      = "HV_CURRENT"
	TopicHVTemp         = "HV_TEMP"
	TopicBatterySoC     = "BMS_SOC"
	TopicContactorState = "CONTACTOR_STATE"
	TopicChargeRequest  = "CHARGE_REQUEST"
	TopicChargerStatus  = "CHARGER_STATUS"

	// Perception / motion
	TopicRadarObjects = "RADAR_OBJECTS"
	TopicCameraLane   = "CAMERA_LANE"
	TopicYawRate      = "YAW_RATE"
	TopicAccelX       = "ACCEL_X"
	TopicWheelSpeed   = "WHEEL_SPEED"

	// Actuation commands
	TopicBrakeCmd    = "BRAKE_CMD"
	TopicSteeringCmd = "STEERING_CMD"
	TopicBrakeMoment = "BRAKE_MOMENT"

	// Gateway surfaces
	TopicDiagRequest   = "UDS_REQUEST"
	TopicDiagResponse  = "UDS_RESPONSE"
	TopicUpdateImage   = "OTA_UPDATE"
	TopicUpdateStatus  = "OTA_STATUS"
	TopicSecurityAlert = "SECURITY_ALERT"

	// Safety / body
	TopicESCStatus      = "ESC_STATUS"
	TopicDeployAirbag   = "DEPLOY_AIRBAG"
	TopicDeploySeatbelt = "DEPLOY_SEATBELT"
	TopicPostCrashAlert = "POST_CRASH_ALERT"
	TopicOdometer       = "ODOMETER_DATA"
	TopicTripReset      = "RESET_TRIP"
)

// ChargeProfile is the BMS charge request published each tick while
// charging is active.
type ChargeProfile struct {
	TargetVoltage float64
	TargetCurrent float64
	Enabled       bool
}

func (ChargeProfile) Kind() PayloadKind { return KindRecord }

// ChargerStatus announces charger-side cable and capability state.
type ChargerStatus struct {
	State    string
	MaxPower float64
}

func (ChargerStatus) Kind() PayloadKind { return KindRecord }

// RadarObject is one tracked object relative to the ego vehicle.
// ClosingSpeed is positive while the gap is shrinking.
type RadarObject struct {
	Distance      float64
	ClosingSpeed  float64
	LateralOffset float64
}

// ObjectList is the radar object-list sample for one tick.
type ObjectList struct {
	Objects []RadarObject
}

func (ObjectList) Kind() PayloadKind { return KindRecord }

// LaneSample is one camera lane-position measurement. Confidence is the
// per-sample perception confidence in [0, 1].
type LaneSample struct {
	Offset     float64
	Heading    float64
	Confidence float64
}

func (LaneSample) Kind() PayloadKind { return KindRecord }

// SecurityEvent is published by the gateway when inbound traffic falls
// outside the allow-list.
type SecurityEvent struct {
	Reason   string
	Topic    string
	Producer string
}

func (SecurityEvent) Kind() PayloadKind { return KindRecord }

// CrashAlert is the one-shot post-crash notification broadcast when the
// restraints deploy.
type CrashAlert struct {
	Trigger string
	PeakG   float64
}

func (CrashAlert) Kind() PayloadKind { return KindRecord }

// OdometerSample is the body controller's periodic mileage broadcast.
type OdometerSample struct {
	TotalKm float64
	TripKm  float64
}

func (OdometerSample) Kind() PayloadKind { return KindRecord }
