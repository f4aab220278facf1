package dbc

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kstaniek/go-tesla-das/internal/can"
)

// Lookup failures. Callers classify with errors.Is.
var (
	ErrUnknownMessage  = errors.New("dbc: unknown message")
	ErrUnknownSignal   = errors.New("dbc: unknown signal")
	ErrValueOutOfRange = errors.New("dbc: value out of range")
	ErrInvalidLayout   = errors.New("dbc: invalid layout")
)

//go:embed tesla.yaml
var teslaYAML []byte

// Signal describes one field of a message. StartBit follows DBC numbering:
// the LSB for little endian (Intel) signals, the MSB for big endian (Motorola).
type Signal struct {
	Name         string  `yaml:"name"`
	StartBit     int     `yaml:"start"`
	Size         int     `yaml:"size"`
	LittleEndian bool    `yaml:"little_endian"`
	Signed       bool    `yaml:"signed"`
	Factor       float64 `yaml:"factor"`
	Offset       float64 `yaml:"offset"`
	Min          float64 `yaml:"min"`
	Max          float64 `yaml:"max"`
	Unit         string  `yaml:"unit,omitempty"`

	lsb, msb int
}

// Message is a named frame layout.
type Message struct {
	Name    string   `yaml:"name"`
	Address uint32   `yaml:"address"`
	Size    int      `yaml:"size"`
	Signals []Signal `yaml:"signals"`

	byName map[string]*Signal
}

// Signal returns the named signal of m.
func (m *Message) Signal(name string) (*Signal, bool) {
	s, ok := m.byName[name]
	return s, ok
}

// Database is an immutable set of message layouts. Safe for concurrent reads.
type Database struct {
	byName map[string]*Message
	byAddr map[uint32]*Message
}

type file struct {
	Messages []Message `yaml:"messages"`
}

// Parse builds a Database from its YAML form and validates every layout.
func Parse(data []byte) (*Database, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("dbc parse: %w", err)
	}
	db := &Database{
		byName: make(map[string]*Message, len(f.Messages)),
		byAddr: make(map[uint32]*Message, len(f.Messages)),
	}
	for i := range f.Messages {
		m := &f.Messages[i]
		if err := m.index(); err != nil {
			return nil, err
		}
		if _, dup := db.byName[m.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate message %s", ErrInvalidLayout, m.Name)
		}
		if _, dup := db.byAddr[m.Address]; dup {
			return nil, fmt.Errorf("%w: duplicate address 0x%X", ErrInvalidLayout, m.Address)
		}
		db.byName[m.Name] = m
		db.byAddr[m.Address] = m
	}
	return db, nil
}

// LoadFile reads and parses a YAML signal database.
func LoadFile(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dbc load %s: %w", path, err)
	}
	return Parse(data)
}

// Tesla returns the embedded database with the DAS actuation messages.
func Tesla() (*Database, error) { return Parse(teslaYAML) }

// Message looks up a layout by name.
func (db *Database) Message(name string) (*Message, error) {
	m, ok := db.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, name)
	}
	return m, nil
}

// MessageByAddress looks up a layout by arbitration ID.
func (db *Database) MessageByAddress(addr uint32) (*Message, error) {
	m, ok := db.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%X", ErrUnknownMessage, addr)
	}
	return m, nil
}

func (m *Message) index() error {
	if m.Name == "" {
		return fmt.Errorf("%w: message without name (0x%X)", ErrInvalidLayout, m.Address)
	}
	if m.Size <= 0 || m.Size > can.MaxDataLen {
		return fmt.Errorf("%w: %s size %d", ErrInvalidLayout, m.Name, m.Size)
	}
	m.byName = make(map[string]*Signal, len(m.Signals))
	for i := range m.Signals {
		s := &m.Signals[i]
		if s.Size <= 0 || s.Size > 64 {
			return fmt.Errorf("%w: %s.%s size %d", ErrInvalidLayout, m.Name, s.Name, s.Size)
		}
		if s.Factor == 0 {
			s.Factor = 1
		}
		if s.LittleEndian {
			s.lsb = s.StartBit
			s.msb = s.StartBit + s.Size - 1
		} else {
			s.lsb = flipBit(flipBit(s.StartBit) + s.Size - 1)
			s.msb = s.StartBit
		}
		if s.lsb < 0 || s.msb < 0 || s.lsb/8 >= m.Size || s.msb/8 >= m.Size {
			return fmt.Errorf("%w: %s.%s does not fit in %d bytes", ErrInvalidLayout, m.Name, s.Name, m.Size)
		}
		m.byName[s.Name] = s
	}
	return nil
}

// flipBit converts between DBC sawtooth bit numbering and linear numbering
// within a byte.
func flipBit(n int) int { return 8*(n/8) + 7 - n%8 }
