package teslacan

// Message names, arbitration IDs and checksum prefix lengths of the DAS
// actuation frames.
const (
	SteeringControlMsg    = "DAS_steeringControl"
	SteeringControlAddr   = 0x488
	steeringChecksumBytes = 3

	ControlMsg           = "DAS_control"
	ControlAddr          = 0x2B9
	controlChecksumBytes = 7
)

// MsToKph converts m/s to km/h.
const MsToKph = 3.6

// Accel states carried in DAS_accState.
const (
	AccStateCancelGenericSilent = 13
	AccStateOn                  = 4
)

// Params holds the fixed control constants used while shaping values.
// Treat as immutable once passed to New.
type Params struct {
	Bus                 uint8   // party bus number frames are addressed to
	CruiseSpeedMax      float64 // kph, DAS_setSpeed while accelerating
	JerkLimitMin        float64 // m/s^3
	JerkLimitMax        float64 // m/s^3
	AccelClampMin       float64 // m/s^2, passthrough only
	AccelClampMax       float64 // m/s^2, passthrough only
	PassthroughMinSpeed float64 // kph; below it the stock max accel is kept
}

// DefaultParams returns the constants used on the vehicle.
func DefaultParams() Params {
	return Params{
		Bus:                 0,
		CruiseSpeedMax:      145,
		JerkLimitMin:        -8,
		JerkLimitMax:        8,
		AccelClampMin:       -3.48,
		AccelClampMax:       2.0,
		PassthroughMinSpeed: 20,
	}
}
