package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType      = "_das-encoder._tcp"
	canServerServiceType = "_can-server._tcp"
)

var errNoCANServer = errors.New("no can-server found via mDNS")

// startMDNS advertises the intent listener and returns a cleanup function.
// It is a no-op when disabled.
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("das-encoder-%s", host)
	}
	meta := []string{
		"backend=" + cfg.backend,
		"bus=" + strconv.Itoa(cfg.bus),
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}

// discoverCANServer browses for a can-server and returns the first address.
func discoverCANServer(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("mdns resolver: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Browse(ctx, canServerServiceType, "local.", entries); err != nil {
		return "", fmt.Errorf("mdns browse: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w within %s", errNoCANServer, timeout)
		case e, ok := <-entries:
			if !ok {
				return "", errNoCANServer
			}
			if addr, ok := entryAddr(e); ok {
				return addr, nil
			}
		}
	}
}

// entryAddr picks host:port from a browse result, preferring IPv4.
func entryAddr(e *zeroconf.ServiceEntry) (string, bool) {
	if e == nil || e.Port == 0 {
		return "", false
	}
	var ip net.IP
	switch {
	case len(e.AddrIPv4) > 0:
		ip = e.AddrIPv4[0]
	case len(e.AddrIPv6) > 0:
		ip = e.AddrIPv6[0]
	default:
		return "", false
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)), true
}

// listenPort extracts the port from a bound address (host:port or :port).
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
