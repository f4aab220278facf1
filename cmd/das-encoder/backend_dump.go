package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
	"github.com/kstaniek/go-tesla-das/internal/transport"
)

// dumpOut is where the dump backend writes; tests replace it.
var dumpOut io.Writer = os.Stdout

// dumpSink prints frames candump style, e.g. "can0  488   [4]  40 8E 01 61".
// Nothing is received, so the stock tracker never sees a frame.
type dumpSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (d *dumpSink) SendFrame(fr can.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := io.WriteString(d.w, formatFrame(fr)+"\n")
	return err
}

func formatFrame(fr can.Frame) string {
	var sb strings.Builder
	id := fmt.Sprintf("%03X", fr.ID())
	if fr.CANID&can.CAN_EFF_FLAG != 0 {
		id = fmt.Sprintf("%08X", fr.ID())
	}
	fmt.Fprintf(&sb, "can%d  %s   [%d] ", fr.Bus, id, fr.Len)
	for _, b := range fr.Payload() {
		fmt.Fprintf(&sb, " %02X", b)
	}
	return sb.String()
}

func initDumpBackend(cfg *appConfig, l *slog.Logger) (*backend, error) {
	l.Info("dump_backend", "bus", cfg.bus)
	d := &dumpSink{w: dumpOut}
	sink := transport.SinkFunc(func(fr can.Frame) error {
		if err := d.SendFrame(fr); err != nil {
			return err
		}
		metrics.IncTx(metrics.BackendDump)
		return nil
	})
	return &backend{name: backendDump, sink: sink}, nil
}

// txSink is where encoded frames go: the backend, plus stdout with --echo.
func txSink(cfg *appConfig, be *backend) transport.FrameSink {
	if !cfg.echo || be.name == backendDump {
		return be.sink
	}
	return transport.Multi{be.sink, &dumpSink{w: dumpOut}}
}
