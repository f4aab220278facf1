package teslacan

import (
	"fmt"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/dbc"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
)

// Packer serializes named signal values into a frame. *dbc.Packer implements it.
type Packer interface {
	Pack(name string, bus uint8, values dbc.Values) (can.Frame, error)
}

var _ Packer = (*dbc.Packer)(nil)

// Encoder builds DAS actuation frames. It keeps no state between calls and
// is safe for concurrent use as long as the Packer is.
type Encoder struct {
	packer Packer
	params Params
}

type Option func(*Encoder)

// WithParams overrides DefaultParams.
func WithParams(p Params) Option { return func(e *Encoder) { e.params = p } }

func New(p Packer, opts ...Option) *Encoder {
	e := &Encoder{packer: p, params: DefaultParams()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Params returns the constants the encoder shapes values with.
func (e *Encoder) Params() Params { return e.params }

// SteeringControl encodes DAS_steeringControl.
func (e *Encoder) SteeringControl(in SteeringIntent) (can.Frame, error) {
	ctrlType := 0.0
	if in.Enabled {
		ctrlType = 1
	}
	values := dbc.Values{
		"DAS_steeringAngleRequest":   -in.Angle,
		"DAS_steeringHapticRequest":  0,
		"DAS_steeringControlType":    ctrlType,
		"DAS_steeringControlCounter": float64(in.Counter),
	}
	return e.packChecksummed(SteeringControlMsg, SteeringControlAddr, steeringChecksumBytes, "DAS_steeringControlChecksum", values)
}

// LongitudinalCommand encodes DAS_control for a fully overridden request.
// An inactive request zeroes set speed and both accel bounds.
func (e *Encoder) LongitudinalCommand(in LongitudinalIntent) (can.Frame, error) {
	setSpeed := e.params.CruiseSpeedMax
	if in.Accel < 0 || !in.Active {
		setSpeed = 0
	}
	accelMin, accelMax := in.Accel, max(in.Accel, 0)
	if !in.Active {
		accelMin, accelMax = 0, 0
	}
	values := dbc.Values{
		"DAS_setSpeed":        setSpeed,
		"DAS_accState":        float64(in.AccState),
		"DAS_aebEvent":        0,
		"DAS_jerkMin":         e.params.JerkLimitMin,
		"DAS_jerkMax":         e.params.JerkLimitMax,
		"DAS_accelMin":        accelMin,
		"DAS_accelMax":        accelMax,
		"DAS_controlCounter":  float64(in.Counter),
		"DAS_controlChecksum": 0,
	}
	return e.packChecksummed(ControlMsg, ControlAddr, controlChecksumBytes, "DAS_controlChecksum", values)
}

// StockLongitudinal encodes DAS_control from the stock request, letting the
// override acceleration through only above PassthroughMinSpeed and inside
// the stock envelope.
func (e *Encoder) StockLongitudinal(in PassthroughIntent) (can.Frame, error) {
	p := e.params
	maxAccel := in.Stock.AccelMax
	if in.Speed*MsToKph > p.PassthroughMinSpeed && in.Accel >= in.Stock.AccelMin && in.Accel <= in.Stock.AccelMax {
		maxAccel = in.Accel
	}
	var setSpeed, accelMin, accelMax float64
	if in.Active {
		setSpeed = in.Stock.SetSpeed
		accelMin = clip(in.Stock.AccelMin, p.AccelClampMin, p.AccelClampMax)
		accelMax = clip(maxAccel, p.AccelClampMin, p.AccelClampMax)
	}
	values := dbc.Values{
		"DAS_setSpeed":        setSpeed,
		"DAS_accState":        float64(in.AccState),
		"DAS_aebEvent":        0,
		"DAS_jerkMin":         in.Stock.JerkMin,
		"DAS_jerkMax":         in.Stock.JerkMax,
		"DAS_accelMin":        accelMin,
		"DAS_accelMax":        accelMax,
		"DAS_controlCounter":  float64(in.Counter),
		"DAS_controlChecksum": 0,
	}
	return e.packChecksummed(ControlMsg, ControlAddr, controlChecksumBytes, "DAS_controlChecksum", values)
}

// packChecksummed packs values once, checksums the first n payload bytes and
// packs again with the checksum signal set. The checksum signal must lie
// outside the first n bytes.
func (e *Encoder) packChecksummed(name string, addr uint32, n int, checksumSignal string, values dbc.Values) (can.Frame, error) {
	fr, err := e.packer.Pack(name, e.params.Bus, values)
	if err != nil {
		metrics.IncError(metrics.ErrEncode)
		return can.Frame{}, fmt.Errorf("encode %s: %w", name, err)
	}
	if int(fr.Len) < n {
		metrics.IncError(metrics.ErrEncode)
		return can.Frame{}, fmt.Errorf("encode %s: %w: %d bytes, checksum needs %d", name, dbc.ErrShortFrame, fr.Len, n)
	}
	values[checksumSignal] = float64(Checksum(addr, fr.Data[:n]))
	fr, err = e.packer.Pack(name, e.params.Bus, values)
	if err != nil {
		metrics.IncError(metrics.ErrEncode)
		return can.Frame{}, fmt.Errorf("encode %s: %w", name, err)
	}
	metrics.IncEncoded(name)
	return fr, nil
}

func clip(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
