package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/hub"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
	"github.com/kstaniek/go-tesla-das/internal/transport"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// backend is a started CAN backend: encoded frames go to sink, received
// frames are broadcast to the hub by the backend's RX goroutine.
type backend struct {
	name  string
	sink  transport.FrameSink
	drain func(context.Context) error
	close func()
}

func (b *backend) Drain(ctx context.Context) error {
	if b.drain == nil {
		return nil
	}
	return b.drain(ctx)
}

func (b *backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// initBackend selects the backend and starts its RX loop. It returns an
// error instead of exiting so the caller can shut down cleanly.
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (*backend, error) {
	switch cfg.backend {
	case backendSerial:
		return initSerialBackend(ctx, cfg, h, l, wg)
	case backendSocketCAN:
		return initSocketCANBackend(ctx, cfg, h, l, wg)
	case backendCannelloni:
		return initCannelloniBackend(ctx, cfg, h, l, wg)
	case backendDump:
		return initDumpBackend(cfg, l)
	default:
		return nil, fmt.Errorf("unknown backend %q (use socketcan|serial|cannelloni|dump)", cfg.backend)
	}
}

// rxLoop describes how runDeviceRX reports one device.
type rxLoop struct {
	name     string // log prefix, e.g. "socketcan"
	rxLabel  string // metrics backend label
	errLabel string // metrics error label for read errors
	// fatal reports read errors that end the loop (remote closed).
	fatal func(error) bool
}

// runDeviceRX reads frames from dev into the hub until ctx is done or a
// fatal error. Transient read errors back off exponentially.
func runDeviceRX(ctx context.Context, dev transport.Device, rx rxLoop, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info(rx.name + "_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				if rx.fatal != nil && rx.fatal(err) {
					l.Warn(rx.name+"_rx_closed", "error", err)
					return
				}
				metrics.IncError(rx.errLabel)
				l.Warn(rx.name+"_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff = nextBackoff(backoff)
				continue
			}
			metrics.IncRx(rx.rxLabel)
			h.Broadcast(fr)
			backoff = rxBackoffMin
		}
	}()
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > rxBackoffMax {
		d = rxBackoffMax
	}
	return d
}
