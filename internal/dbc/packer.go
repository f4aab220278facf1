package dbc

import (
	"errors"
	"fmt"
	"math"

	"github.com/kstaniek/go-tesla-das/internal/can"
)

// ErrShortFrame is returned by Unpack when a frame carries fewer bytes than its layout.
var ErrShortFrame = errors.New("dbc: short frame")

// Values maps signal names to physical values.
type Values map[string]float64

// Packer serializes named signal values into frames using a Database.
// Stateless apart from the database; safe for concurrent use.
type Packer struct {
	db *Database
}

// NewPacker returns a Packer over db.
func NewPacker(db *Database) *Packer { return &Packer{db: db} }

// Database returns the layouts the packer uses.
func (p *Packer) Database() *Database { return p.db }

// Pack encodes values into the named message addressed to bus. Signals absent
// from values keep raw zero bits. Unknown names fail with ErrUnknownMessage or
// ErrUnknownSignal; values outside the declared range or bit width fail with
// ErrValueOutOfRange.
func (p *Packer) Pack(name string, bus uint8, values Values) (can.Frame, error) {
	var fr can.Frame
	m, err := p.db.Message(name)
	if err != nil {
		return fr, err
	}
	fr.CANID = m.Address
	if m.Address > can.CAN_SFF_MASK {
		fr.CANID |= can.CAN_EFF_FLAG
	}
	fr.Bus = bus
	fr.Len = uint8(m.Size)

	matched := 0
	for i := range m.Signals {
		s := &m.Signals[i]
		v, ok := values[s.Name]
		if !ok {
			continue
		}
		matched++
		raw, err := s.toRaw(v)
		if err != nil {
			return can.Frame{}, fmt.Errorf("%s.%s: %w", m.Name, s.Name, err)
		}
		s.put(fr.Data[:m.Size], raw)
	}
	if matched != len(values) {
		for k := range values {
			if _, ok := m.byName[k]; !ok {
				return can.Frame{}, fmt.Errorf("%w: %s.%s", ErrUnknownSignal, m.Name, k)
			}
		}
	}
	return fr, nil
}

// Unpack decodes every signal of the frame's message into physical values.
func (p *Packer) Unpack(fr can.Frame) (string, Values, error) {
	m, err := p.db.MessageByAddress(fr.ID())
	if err != nil {
		return "", nil, err
	}
	if int(fr.Len) < m.Size {
		return m.Name, nil, fmt.Errorf("%w: %s has %d bytes, want %d", ErrShortFrame, m.Name, fr.Len, m.Size)
	}
	out := make(Values, len(m.Signals))
	for i := range m.Signals {
		s := &m.Signals[i]
		out[s.Name] = s.toPhys(s.get(fr.Data[:m.Size]))
	}
	return m.Name, out, nil
}

func (s *Signal) toRaw(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v", ErrValueOutOfRange, v)
	}
	if s.Max > s.Min {
		eps := 1e-9 * math.Max(1, math.Max(math.Abs(s.Min), math.Abs(s.Max)))
		if v < s.Min-eps || v > s.Max+eps {
			return 0, fmt.Errorf("%w: %g not in [%g|%g]", ErrValueOutOfRange, v, s.Min, s.Max)
		}
	}
	raw := math.Round((v - s.Offset) / s.Factor)
	lo, hi := s.rawBounds()
	if raw < lo || raw > hi {
		return 0, fmt.Errorf("%w: raw %g exceeds %d bits", ErrValueOutOfRange, raw, s.Size)
	}
	return int64(raw), nil
}

func (s *Signal) rawBounds() (float64, float64) {
	if s.Signed {
		half := math.Ldexp(1, s.Size-1)
		return -half, half - 1
	}
	return 0, math.Ldexp(1, s.Size) - 1
}

func (s *Signal) toPhys(raw uint64) float64 {
	v := int64(raw)
	if s.Signed && s.Size < 64 && raw&(1<<(s.Size-1)) != 0 {
		v -= 1 << s.Size
	}
	return float64(v)*s.Factor + s.Offset
}

func (s *Signal) mask() uint64 {
	if s.Size >= 64 {
		return math.MaxUint64
	}
	return 1<<s.Size - 1
}

// put writes the low Size bits of raw, walking from the byte holding the LSB
// towards the byte holding the MSB.
func (s *Signal) put(data []byte, raw int64) {
	v := uint64(raw) & s.mask()
	bits := s.Size
	i := s.lsb / 8
	for i >= 0 && i < len(data) && bits > 0 {
		shift := 0
		if i == s.lsb/8 {
			shift = s.lsb % 8
		}
		n := min(bits, 8-shift)
		m := byte((1<<n - 1) << shift)
		data[i] = data[i]&^m | byte(v<<shift)&m
		bits -= n
		v >>= n
		if s.LittleEndian {
			i++
		} else {
			i--
		}
	}
}

// get reads Size bits, walking from the MSB byte towards the LSB byte.
func (s *Signal) get(data []byte) uint64 {
	var out uint64
	bits := s.Size
	i := s.msb / 8
	for i >= 0 && i < len(data) && bits > 0 {
		lo := i * 8
		if i == s.lsb/8 {
			lo = s.lsb
		}
		hi := (i+1)*8 - 1
		if i == s.msb/8 {
			hi = s.msb
		}
		n := hi - lo + 1
		d := uint64(data[i]>>(lo-i*8)) & (1<<n - 1)
		out |= d << (bits - n)
		bits -= n
		if s.LittleEndian {
			i--
		} else {
			i++
		}
	}
	return out
}
