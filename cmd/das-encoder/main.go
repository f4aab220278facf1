package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kstaniek/go-tesla-das/internal/dbc"
	"github.com/kstaniek/go-tesla-das/internal/hub"
	"github.com/kstaniek/go-tesla-das/internal/intent"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
	"github.com/kstaniek/go-tesla-das/internal/server"
	"github.com/kstaniek/go-tesla-das/internal/teslacan"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("das-encoder %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l, logCloser := setupLogger(cfg.logFormat, cfg.logLevel, cfg.logFile)
	defer logCloser.Close()
	if err := run(cfg, l); err != nil {
		l.Error("fatal", "error", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *appConfig, l *slog.Logger) error {
	packer, enc, err := buildEncoder(cfg)
	if err != nil {
		return err
	}
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	be, err := initBackend(ctx, cfg, h, l, &wg)
	if err != nil {
		return fmt.Errorf("backend init: %w", err)
	}

	tracker := teslacan.NewStockTracker(packer, cfg.stockBus)
	stockSub := h.Subscribe("stock")
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer h.Unsubscribe(stockSub)
		tracker.Run(ctx, stockSub.C)
	}()
	wg.Add(1)
	go func() { defer wg.Done(); stockWatch(ctx, stockSub, l) }()
	proc := intent.NewProcessor(enc, txSink(cfg, be), intent.WithStock(tracker, cfg.stockMaxAge))

	var srv *server.Server
	if cfg.listenAddr != "" {
		srv = startIntentServer(ctx, cancel, cfg, proc, l)
	}

	metrics.SetReadinessFunc(func() bool {
		if ctx.Err() != nil {
			return false
		}
		if srv == nil {
			return true
		}
		select {
		case <-srv.Ready():
			return srv.LastError() == nil
		default:
			return false
		}
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	inputDone := make(chan error, 1)
	if cfg.input != "" {
		r, closeInput, err := openInput(cfg.input)
		if err != nil {
			cancel()
			be.Close()
			wg.Wait()
			return err
		}
		go func() {
			defer closeInput()
			l.Info("intent_input", "source", cfg.input)
			inputDone <- proc.Run(ctx, r)
		}()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
		l.Info("shutdown_requested")
	case err := <-inputDone:
		runErr = err
		if err != nil {
			l.Error("intent_input_error", "error", err)
		} else {
			l.Info("intent_input_end")
		}
		if srv != nil && runErr == nil {
			// The TCP listener keeps the process alive.
			select {
			case s := <-sigCh:
				l.Info("shutdown_signal", "signal", s.String())
			case <-ctx.Done():
			}
		}
	}

	dctx, dcancel := context.WithTimeout(context.Background(), drainTimeout)
	if err := be.Drain(dctx); err != nil {
		l.Warn("tx_drain_incomplete", "error", err)
	}
	dcancel()
	cancel()
	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := srv.Shutdown(sctx); err != nil {
			l.Warn("intent_server_shutdown", "error", err)
		}
		scancel()
	}
	be.Close()
	wg.Wait()
	logSnapshot(l, metrics.Snap())
	return runErr
}

// buildEncoder loads the signal database and builds the packer and encoder.
func buildEncoder(cfg *appConfig) (*dbc.Packer, *teslacan.Encoder, error) {
	var (
		db  *dbc.Database
		err error
	)
	if cfg.dbcPath == "" {
		db, err = dbc.Tesla()
	} else {
		db, err = dbc.LoadFile(cfg.dbcPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("signal database: %w", err)
	}
	for _, name := range []string{teslacan.SteeringControlMsg, teslacan.ControlMsg} {
		if _, err := db.Message(name); err != nil {
			return nil, nil, fmt.Errorf("signal database: %w", err)
		}
	}
	packer := dbc.NewPacker(db)
	params := teslacan.DefaultParams()
	params.Bus = uint8(cfg.bus)
	return packer, teslacan.New(packer, teslacan.WithParams(params)), nil
}

// openInput opens the intent source; "-" is stdin.
func openInput(name string) (io.Reader, func(), error) {
	if name == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// startIntentServer serves intents over TCP and advertises the listener via
// mDNS once bound. A listener failure cancels ctx.
func startIntentServer(ctx context.Context, cancel context.CancelFunc, cfg *appConfig, proc *intent.Processor, l *slog.Logger) *server.Server {
	srv := server.NewServer(
		proc.Handle,
		server.WithListenAddr(cfg.listenAddr),
		server.WithLogger(l),
		server.WithMaxClients(cfg.maxClients),
		server.WithReadDeadline(cfg.clientReadTO),
		server.WithMaxLineLen(intent.MaxLineLen),
		server.WithRateLimit(cfg.rateLimit, cfg.rateBurst),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.Error("intent_server_error", "error", err)
			cancel()
		}
	}()
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		port := listenPort(srv.Addr())
		cleanupMDNS, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
		<-ctx.Done()
		cleanupMDNS()
	}()
	return srv
}

// stockWatch logs when the stock subscriber is kicked by the hub.
func stockWatch(ctx context.Context, sub *hub.Subscriber, l *slog.Logger) {
	select {
	case <-sub.Done():
		if ctx.Err() == nil {
			l.Warn("stock_subscriber_closed", "policy", "kick")
		}
	case <-ctx.Done():
	}
}
