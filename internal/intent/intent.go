// Package intent turns JSON-lines control requests into transmitted DAS frames.
//
//	{"kind":"steering","angle":-3.5,"enabled":true}
//	{"kind":"longitudinal","acc_state":4,"accel":0.8,"active":true}
//	{"kind":"passthrough","acc_state":4,"accel":0.5,"active":true,"speed":25}
//
// A missing counter is filled from a per-message rolling counter. A
// passthrough request without a "stock" object uses the most recent stock
// DAS_control frame seen on the bus.
package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
	"github.com/kstaniek/go-tesla-das/internal/teslacan"
	"github.com/kstaniek/go-tesla-das/internal/transport"
)

// Intent kinds.
const (
	KindSteering     = "steering"
	KindLongitudinal = "longitudinal"
	KindPassthrough  = "passthrough"
)

var (
	ErrBadMessage  = errors.New("intent: malformed message")
	ErrUnknownKind = errors.New("intent: unknown kind")
)

// Message is one decoded intent line.
type Message struct {
	Kind     string  `json:"kind"`
	Angle    float64 `json:"angle,omitempty"`
	Enabled  bool    `json:"enabled,omitempty"`
	AccState int     `json:"acc_state,omitempty"`
	Accel    float64 `json:"accel,omitempty"`
	Active   bool    `json:"active,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Counter  *uint8  `json:"counter,omitempty"`
	Stock    *Stock  `json:"stock,omitempty"`
}

// Stock carries an explicit stock request for passthrough.
type Stock struct {
	SetSpeed float64 `json:"set_speed"`
	AccelMin float64 `json:"accel_min"`
	AccelMax float64 `json:"accel_max"`
	JerkMin  float64 `json:"jerk_min"`
	JerkMax  float64 `json:"jerk_max"`
}

func (s Stock) control() teslacan.StockControl {
	return teslacan.StockControl{
		SetSpeed: s.SetSpeed,
		AccelMin: s.AccelMin,
		AccelMax: s.AccelMax,
		JerkMin:  s.JerkMin,
		JerkMax:  s.JerkMax,
	}
}

// Decode parses one line. Unknown fields are rejected so typos do not
// silently become zero values.
func Decode(line []byte) (Message, error) {
	var m Message
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if dec.More() {
		return Message{}, fmt.Errorf("%w: trailing data", ErrBadMessage)
	}
	switch m.Kind {
	case KindSteering, KindLongitudinal, KindPassthrough:
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	return m, nil
}

// StockSource supplies the latest stock request. *teslacan.StockTracker implements it.
type StockSource interface {
	Latest(maxAge time.Duration) (teslacan.StockControl, error)
}

var _ StockSource = (*teslacan.StockTracker)(nil)

// Processor encodes intents and hands the frames to a sink.
type Processor struct {
	enc         *teslacan.Encoder
	sink        transport.FrameSink
	stock       StockSource
	maxStockAge time.Duration
	steer       *teslacan.Counter
	control     *teslacan.Counter
}

type Option func(*Processor)

// WithStock lets passthrough requests without an explicit stock object use
// src, provided its data is younger than maxAge.
func WithStock(src StockSource, maxAge time.Duration) Option {
	return func(p *Processor) { p.stock, p.maxStockAge = src, maxAge }
}

func NewProcessor(enc *teslacan.Encoder, sink transport.FrameSink, opts ...Option) *Processor {
	p := &Processor{
		enc:     enc,
		sink:    sink,
		steer:   teslacan.NewCounter(teslacan.SteeringCounterModulus),
		control: teslacan.NewCounter(teslacan.ControlCounterModulus),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Encode builds the frame for m without sending it. A rolling counter is
// consumed only when the frame encodes.
func (p *Processor) Encode(m Message) (can.Frame, error) {
	switch m.Kind {
	case KindSteering:
		return p.withCounter(m.Counter, p.steer, func(n uint8) (can.Frame, error) {
			return p.enc.SteeringControl(teslacan.SteeringIntent{Angle: m.Angle, Enabled: m.Enabled, Counter: n})
		})
	case KindLongitudinal:
		return p.withCounter(m.Counter, p.control, func(n uint8) (can.Frame, error) {
			return p.enc.LongitudinalCommand(longitudinal(m, n))
		})
	case KindPassthrough:
		var sc teslacan.StockControl
		switch {
		case m.Stock != nil:
			sc = m.Stock.control()
		case p.stock != nil:
			var err error
			if sc, err = p.stock.Latest(p.maxStockAge); err != nil {
				metrics.IncError(metrics.ErrStockUnavailable)
				return can.Frame{}, err
			}
		default:
			metrics.IncError(metrics.ErrStockUnavailable)
			return can.Frame{}, teslacan.ErrNoStockControl
		}
		return p.withCounter(m.Counter, p.control, func(n uint8) (can.Frame, error) {
			return p.enc.StockLongitudinal(teslacan.PassthroughIntent{
				LongitudinalIntent: longitudinal(m, n),
				Stock:              sc,
				Speed:              m.Speed,
			})
		})
	}
	return can.Frame{}, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
}

func longitudinal(m Message, counter uint8) teslacan.LongitudinalIntent {
	return teslacan.LongitudinalIntent{
		AccState: m.AccState,
		Accel:    m.Accel,
		Counter:  counter,
		Active:   m.Active,
	}
}

// withCounter encodes with the explicit counter if the request has one,
// otherwise with the next value of c. Explicit counters leave c untouched.
func (p *Processor) withCounter(explicit *uint8, c *teslacan.Counter, encode func(uint8) (can.Frame, error)) (can.Frame, error) {
	if explicit != nil {
		return encode(*explicit)
	}
	var fr can.Frame
	err := c.Use(func(n uint8) error {
		var err error
		fr, err = encode(n)
		return err
	})
	return fr, err
}

// Handle decodes, encodes and sends one line and returns the sent frame.
func (p *Processor) Handle(line []byte) (can.Frame, error) {
	m, err := Decode(line)
	if err != nil {
		metrics.IncError(metrics.ErrIntent)
		return can.Frame{}, err
	}
	metrics.IncIntent(m.Kind)
	fr, err := p.Encode(m)
	if err != nil {
		return can.Frame{}, err
	}
	if err := p.sink.SendFrame(fr); err != nil {
		return fr, fmt.Errorf("send %s: %w", m.Kind, err)
	}
	return fr, nil
}
