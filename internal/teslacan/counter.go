package teslacan

import "sync"

// Rolling counter widths of the DAS frames.
const (
	SteeringCounterModulus = 16
	ControlCounterModulus  = 8
)

// Counter hands out rolling message counters 0..modulus-1. Safe for concurrent use.
type Counter struct {
	mu  sync.Mutex
	mod uint8
	n   uint8
}

func NewCounter(modulus uint8) *Counter {
	if modulus == 0 {
		modulus = 1
	}
	return &Counter{mod: modulus}
}

// Next returns the current value and advances.
func (c *Counter) Next() uint8 {
	var v uint8
	_ = c.Use(func(n uint8) error { v = n; return nil })
	return v
}

// Use calls fn with the current value and advances only if fn succeeds, so a
// frame that failed to encode does not leave a gap in the sequence. Calls are
// serialized.
func (c *Counter) Use(fn func(uint8) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := fn(c.n); err != nil {
		return err
	}
	c.n = (c.n + 1) % c.mod
	return nil
}
