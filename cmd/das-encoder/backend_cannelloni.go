package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/kstaniek/go-tesla-das/internal/cnl"
	"github.com/kstaniek/go-tesla-das/internal/hub"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
)

// dialCannelloni is a hook for tests.
var dialCannelloni = cnl.Dial

// initCannelloniBackend connects to a can-server, either cfg.remote or the
// first one found via mDNS, and launches the RX loop.
func initCannelloniBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (*backend, error) {
	addr := cfg.remote
	if addr == "" {
		found, err := discoverCANServer(ctx, cfg.discoverTO)
		if err != nil {
			return nil, err
		}
		l.Info("can_server_discovered", "addr", found)
		addr = found
	}
	c, err := dialCannelloni(ctx, addr, uint8(cfg.bus), cfg.handshakeTO)
	if err != nil {
		return nil, fmt.Errorf("cannelloni: %w", err)
	}
	l.Info("cannelloni_connected", "remote", c.RemoteAddr(), "bus", cfg.bus)
	tw := cnl.NewTXWriter(ctx, c, txQueueSize)
	runDeviceRX(ctx, c, rxLoop{
		name:     backendCannelloni,
		rxLabel:  metrics.BackendCannelloni,
		errLabel: metrics.ErrCannelloniRead,
		fatal:    remoteGone,
	}, h, l, wg)
	return &backend{
		name:  backendCannelloni,
		sink:  tw,
		drain: tw.Drain,
		close: func() { _ = c.Close(); tw.Close() },
	}, nil
}

// remoteGone reports errors after which the connection cannot recover.
func remoteGone(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
