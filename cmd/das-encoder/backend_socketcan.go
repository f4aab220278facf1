package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-tesla-das/internal/hub"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
	"github.com/kstaniek/go-tesla-das/internal/socketcan"
	"github.com/kstaniek/go-tesla-das/internal/teslacan"
	"github.com/kstaniek/go-tesla-das/internal/transport"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string, bus uint8, filter []uint32) (transport.Device, error) {
	d, err := socketcan.Open(iface, bus, filter)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// stockFilter limits socket reception to what the stock tracker consumes.
var stockFilter = []uint32{teslacan.ControlAddr}

// initSocketCANBackend opens the interface and launches its RX loop.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (*backend, error) {
	dev, err := openSocketCANDevice(cfg.canIf, uint8(cfg.bus), stockFilter)
	if err != nil {
		return nil, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf, "bus", cfg.bus)
	tw := socketcan.NewTXWriter(ctx, dev, txQueueSize)
	runDeviceRX(ctx, dev, rxLoop{
		name:     backendSocketCAN,
		rxLabel:  metrics.BackendSocketCAN,
		errLabel: metrics.ErrSocketCANRead,
	}, h, l, wg)
	return &backend{
		name:  backendSocketCAN,
		sink:  tw,
		drain: tw.Drain,
		close: func() { _ = dev.Close(); tw.Close() },
	}, nil
}
