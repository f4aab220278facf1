package teslacan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/dbc"
	"github.com/kstaniek/go-tesla-das/internal/logging"
)

// ErrNoStockControl is returned when no fresh stock DAS_control frame was seen.
var ErrNoStockControl = errors.New("no stock DAS_control")

// Unpacker decodes a received frame into signal values. *dbc.Packer implements it.
type Unpacker interface {
	Unpack(can.Frame) (string, dbc.Values, error)
}

// StockTracker keeps the most recent stock DAS_control request seen on the bus.
type StockTracker struct {
	dec Unpacker
	bus int // -1 accepts any bus
	now func() time.Time

	mu   sync.RWMutex
	last StockControl
	seen time.Time
}

// NewStockTracker tracks DAS_control frames received on bus (negative = any).
func NewStockTracker(dec Unpacker, bus int) *StockTracker {
	return &StockTracker{dec: dec, bus: bus, now: time.Now}
}

// Observe records fr if it is a DAS_control frame from the tracked bus.
// Frames of other messages are ignored.
func (t *StockTracker) Observe(fr can.Frame) error {
	if fr.ID() != ControlAddr || (t.bus >= 0 && int(fr.Bus) != t.bus) {
		return nil
	}
	_, vals, err := t.dec.Unpack(fr)
	if err != nil {
		return fmt.Errorf("stock control: %w", err)
	}
	sc, err := StockControlFromValues(vals)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.last, t.seen = sc, t.now()
	t.mu.Unlock()
	return nil
}

// Latest returns the last stock request if it is younger than maxAge
// (maxAge <= 0 disables the age check).
func (t *StockTracker) Latest(maxAge time.Duration) (StockControl, error) {
	t.mu.RLock()
	sc, seen := t.last, t.seen
	t.mu.RUnlock()
	if seen.IsZero() {
		return StockControl{}, ErrNoStockControl
	}
	if age := t.now().Sub(seen); maxAge > 0 && age > maxAge {
		return StockControl{}, fmt.Errorf("%w: last seen %s ago", ErrNoStockControl, age)
	}
	return sc, nil
}

// Run observes frames until ctx is done or frames is closed.
func (t *StockTracker) Run(ctx context.Context, frames <-chan can.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case fr, ok := <-frames:
			if !ok {
				return
			}
			if err := t.Observe(fr); err != nil {
				logging.L().Debug("stock_control_decode_error", "error", err)
			}
		}
	}
}
