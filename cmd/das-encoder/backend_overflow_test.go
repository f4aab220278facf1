package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/hub"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
	"github.com/kstaniek/go-tesla-das/internal/serial"
)

// blockingPort simulates a wedged adapter to force TX queue overflow.
type blockingPort struct {
	block     chan struct{}
	closeOnce sync.Once
}

func (p *blockingPort) Read(b []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return 0, io.EOF
}
func (p *blockingPort) Write(b []byte) (int, error) { <-p.block; return len(b), nil }
func (p *blockingPort) Close() error                { p.closeOnce.Do(func() { close(p.block) }); return nil }

func TestSerialBackendTxOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bp := &blockingPort{block: make(chan struct{})}
	openSerialPort = func(name string, baud int, to time.Duration) (serial.Port, error) { return bp, nil }
	defer func() { openSerialPort = serial.Open }()
	beforeErrs := metrics.Snap().Errors

	cfg := &appConfig{backend: backendSerial, serialDev: "fake", baud: 115200, serialReadTO: 10 * time.Millisecond}
	var wg sync.WaitGroup
	be, err := initSerialBackend(ctx, cfg, hub.New(1, hub.PolicyDrop), testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSerialBackend: %v", err)
	}
	defer be.Close()

	var overflowErr error
	for i := 0; i < txQueueSize+2; i++ {
		if err := be.sink.SendFrame(can.Frame{CANID: uint32(i)}); err != nil && overflowErr == nil {
			overflowErr = err
		}
	}
	if !errors.Is(overflowErr, serial.ErrTxOverflow) {
		t.Fatalf("expected ErrTxOverflow, got %v", overflowErr)
	}
	if metrics.Snap().Errors == beforeErrs {
		t.Fatalf("expected error metric increment on overflow")
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer dcancel()
	if err := be.Drain(dctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("drain with wedged port: %v", err)
	}
}
