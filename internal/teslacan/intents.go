package teslacan

import (
	"fmt"

	"github.com/kstaniek/go-tesla-das/internal/dbc"
)

// SteeringIntent requests a steering angle. Angle is in degrees, positive to
// the left; the frame carries the negated value.
type SteeringIntent struct {
	Angle   float64
	Enabled bool
	Counter uint8
}

// LongitudinalIntent requests an acceleration target in m/s^2.
type LongitudinalIntent struct {
	AccState int
	Accel    float64
	Counter  uint8
	Active   bool
}

// PassthroughIntent bounds the stock longitudinal request instead of
// replacing it. Speed is the vehicle speed in m/s.
type PassthroughIntent struct {
	LongitudinalIntent
	Stock StockControl
	Speed float64
}

// StockControl is the part of a received DAS_control frame that passthrough
// encoding reuses.
type StockControl struct {
	SetSpeed float64
	AccelMin float64
	AccelMax float64
	JerkMin  float64
	JerkMax  float64
}

// StockControlFromValues extracts StockControl from decoded DAS_control values.
func StockControlFromValues(v dbc.Values) (StockControl, error) {
	var sc StockControl
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"DAS_setSpeed", &sc.SetSpeed},
		{"DAS_accelMin", &sc.AccelMin},
		{"DAS_accelMax", &sc.AccelMax},
		{"DAS_jerkMin", &sc.JerkMin},
		{"DAS_jerkMax", &sc.JerkMax},
	} {
		x, ok := v[f.name]
		if !ok {
			return StockControl{}, fmt.Errorf("stock control: missing %s: %w", f.name, dbc.ErrUnknownSignal)
		}
		*f.dst = x
	}
	return sc, nil
}
