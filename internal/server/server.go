// Package server accepts TCP connections from controllers that stream
// JSON-lines intents. Each line is answered with one JSON reply line.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/logging"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
)

// HandleFunc processes one intent line and returns the frame it produced.
// *intent.Processor's Handle method matches.
type HandleFunc func(line []byte) (can.Frame, error)

// Server owns the TCP listener and the connected intent clients.
type Server struct {
	mu     sync.RWMutex
	addr   string
	handle HandleFunc

	readDeadline time.Duration
	maxClients   int
	maxLineLen   int
	rateLimit    rate.Limit // per connection; 0 disables
	rateBurst    int

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	listener  net.Listener

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger

	nextConnID        atomic.Uint64
	totalAccepted     atomic.Uint64
	totalRejected     atomic.Uint64
	totalDisconnected atomic.Uint64
	totalLines        atomic.Uint64
	totalFailed       atomic.Uint64
}

const (
	defaultReadDeadline = 60 * time.Second
	defaultMaxLineLen   = 4096
)

type ServerOption func(*Server)

func NewServer(handle HandleFunc, opts ...ServerOption) *Server {
	s := &Server{
		handle:       handle,
		readDeadline: defaultReadDeadline,
		maxLineLen:   defaultMaxLineLen,
		readyCh:      make(chan struct{}),
		conns:        make(map[net.Conn]struct{}),
		logger:       logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }

// WithReadDeadline closes connections idle for longer than d.
func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithMaxLineLen(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxLineLen = n
		}
	}
}

// WithRateLimit caps each connection at perSec lines per second with the
// given burst. Lines over the limit are answered with an error and dropped.
func WithRateLimit(perSec float64, burst int) ServerOption {
	return func(s *Server) {
		if perSec > 0 {
			s.rateLimit = rate.Limit(perSec)
			s.rateBurst = max(burst, 1)
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
}

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Count returns the number of connected clients.
func (s *Server) Count() int { s.connsMu.Lock(); defer s.connsMu.Unlock(); return len(s.conns) }

// Serve listens and accepts clients until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("intent_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts one connection and starts its goroutine. It returns an
// error only when the listener is unusable.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	id := s.nextConnID.Add(1)
	logger := s.logger.With("conn_id", id, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	s.connsMu.Lock()
	if s.maxClients > 0 && len(s.conns) >= s.maxClients {
		s.connsMu.Unlock()
		s.totalRejected.Add(1)
		logger.Warn("client_reject_max", "max_clients", s.maxClients, "error", reject(ErrMaxClients))
		_ = conn.Close()
		return nil
	}
	s.conns[conn] = struct{}{}
	n := len(s.conns)
	s.connsMu.Unlock()
	metrics.SetIntentClients(n)
	logger.Info("client_connected", "clients", n)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.drop(conn, logger)
		s.serveConn(ctx, conn, logger)
	}()
	return nil
}

func (s *Server) drop(conn net.Conn, logger *slog.Logger) {
	_ = conn.Close()
	s.connsMu.Lock()
	_, ok := s.conns[conn]
	delete(s.conns, conn)
	n := len(s.conns)
	s.connsMu.Unlock()
	if ok {
		s.totalDisconnected.Add(1)
		metrics.SetIntentClients(n)
		logger.Info("client_disconnected", "clients", n)
	}
}

// Shutdown closes the listener and every client and waits for their goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.connsMu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.connsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"rejected", s.totalRejected.Load(),
			"disconnected", s.totalDisconnected.Load(),
			"lines", s.totalLines.Load(),
			"failed", s.totalFailed.Load(),
		)
		return nil
	}
}
