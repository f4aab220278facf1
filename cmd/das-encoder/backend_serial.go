package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kstaniek/go-tesla-das/internal/hub"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
	"github.com/kstaniek/go-tesla-das/internal/serial"
)

var openSerialPort = serial.Open

// serialReadOutcome says what the RX loop does after a failed Read.
type serialReadOutcome int

const (
	serialRetry   serialReadOutcome = iota // timeout, read again at once
	serialBackoff                          // transient, sleep then read again
	serialStop                             // device gone
)

func classifySerialErr(err error) serialReadOutcome {
	var perr *os.PathError
	switch {
	case errors.As(err, &perr):
		return serialStop
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return serialRetry
	default:
		return serialBackoff
	}
}

// initSerialBackend opens the UART adapter, starts its TX writer and feeds
// decoded RX frames to the hub.
func initSerialBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (*backend, error) {
	sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.serialDev, err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud, "bus", cfg.bus)
	codec := serial.Codec{Bus: uint8(cfg.bus)}
	w := serial.NewTXWriter(ctx, sp, codec, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		serialRX(ctx, sp, codec, h, l)
	}()
	return &backend{
		name:  backendSerial,
		sink:  w,
		drain: w.Drain,
		close: func() { _ = sp.Close(); w.Close() },
	}, nil
}

func serialRX(ctx context.Context, sp serial.Port, codec serial.Codec, h *hub.Hub, l *slog.Logger) {
	defer l.Info("serial_rx_end")
	buf := make([]byte, serialReadBufSize)
	var acc bytes.Buffer
	backoff := rxBackoffMin
	for ctx.Err() == nil {
		n, err := sp.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			_ = codec.DecodeStream(&acc, h.Broadcast)
			backoff = rxBackoffMin
		}
		if err == nil || ctx.Err() != nil {
			continue
		}
		switch classifySerialErr(err) {
		case serialStop:
			l.Error("serial_device_lost", "error", err)
			return
		case serialRetry:
		case serialBackoff:
			metrics.IncError(metrics.ErrSerialRead)
			l.Warn("serial_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff = nextBackoff(backoff)
		}
	}
}
