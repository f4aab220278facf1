package teslacan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/dbc"
)

func stockFrame(t *testing.T, p *dbc.Packer, bus uint8) can.Frame {
	t.Helper()
	fr, err := p.Pack(ControlMsg, bus, dbc.Values{
		"DAS_setSpeed": 88,
		"DAS_accState": AccStateOn,
		"DAS_jerkMin":  -4.6,
		"DAS_jerkMax":  3.4,
		"DAS_accelMin": -1.2,
		"DAS_accelMax": 0.8,
	})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return fr
}

func TestStockTracker_Observe(t *testing.T) {
	db, err := dbc.Tesla()
	if err != nil {
		t.Fatalf("dbc.Tesla: %v", err)
	}
	p := dbc.NewPacker(db)
	tr := NewStockTracker(p, 0)
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }

	if _, err := tr.Latest(0); !errors.Is(err, ErrNoStockControl) {
		t.Fatalf("expected ErrNoStockControl before any frame, got %v", err)
	}
	// other message and other bus are ignored
	if err := tr.Observe(can.Frame{CANID: SteeringControlAddr, Len: 4}); err != nil {
		t.Fatalf("Observe other msg: %v", err)
	}
	if err := tr.Observe(stockFrame(t, p, 1)); err != nil {
		t.Fatalf("Observe other bus: %v", err)
	}
	if _, err := tr.Latest(0); !errors.Is(err, ErrNoStockControl) {
		t.Fatalf("frames from other bus must be ignored")
	}

	if err := tr.Observe(stockFrame(t, p, 0)); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	sc, err := tr.Latest(time.Second)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !near(sc.SetSpeed, 88, 0.05) || !near(sc.AccelMin, -1.2, 0.02) || !near(sc.AccelMax, 0.8, 0.02) ||
		!near(sc.JerkMin, -4.6, 0.01) || !near(sc.JerkMax, 3.4, 0.02) {
		t.Fatalf("unexpected stock control: %+v", sc)
	}

	now = now.Add(2 * time.Second)
	if _, err := tr.Latest(time.Second); !errors.Is(err, ErrNoStockControl) {
		t.Fatalf("expected stale error, got %v", err)
	}
	if _, err := tr.Latest(0); err != nil {
		t.Fatalf("age check disabled: %v", err)
	}
}

func TestStockTracker_ShortFrame(t *testing.T) {
	db, _ := dbc.Tesla()
	tr := NewStockTracker(dbc.NewPacker(db), -1)
	if err := tr.Observe(can.Frame{CANID: ControlAddr, Len: 2}); !errors.Is(err, dbc.ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}

func TestStockTracker_Run(t *testing.T) {
	db, _ := dbc.Tesla()
	p := dbc.NewPacker(db)
	tr := NewStockTracker(p, -1)
	ch := make(chan can.Frame, 2)
	ch <- can.Frame{CANID: ControlAddr, Len: 1} // decode error is logged, not fatal
	ch <- stockFrame(t, p, 3)
	close(ch)
	tr.Run(context.Background(), ch)
	if _, err := tr.Latest(0); err != nil {
		t.Fatalf("Latest after Run: %v", err)
	}
}

func TestStockControlFromValues_Missing(t *testing.T) {
	if _, err := StockControlFromValues(dbc.Values{"DAS_setSpeed": 1}); !errors.Is(err, dbc.ErrUnknownSignal) {
		t.Fatalf("expected ErrUnknownSignal, got %v", err)
	}
}

func near(a, b, tol float64) bool {
	d := a - b
	return d <= tol && d >= -tol
}
