package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kstaniek/go-tesla-das/internal/hub"
	"github.com/kstaniek/go-tesla-das/internal/logging"
)

type appConfig struct {
	backend      string
	canIf        string
	serialDev    string
	baud         int
	serialReadTO time.Duration
	remote       string
	handshakeTO  time.Duration
	discoverTO   time.Duration
	bus          int
	stockBus     int
	stockMaxAge  time.Duration
	echo         bool

	dbcPath      string
	input        string
	listenAddr   string
	maxClients   int
	clientReadTO time.Duration
	rateLimit    float64
	rateBurst    int
	mdnsEnable   bool
	mdnsName     string

	logFormat       string
	logLevel        string
	logFile         string
	metricsAddr     string
	logMetricsEvery time.Duration
	hubBuffer       int
	hubPolicy       string
}

const envPrefix = "DAS_ENCODER_"

// registerFlags binds every configurable field of cfg to fs.
func registerFlags(fs *flag.FlagSet, cfg *appConfig) {
	fs.StringVar(&cfg.backend, "backend", "socketcan", "CAN backend: socketcan|serial|cannelloni|dump")
	fs.StringVar(&cfg.canIf, "can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyUSB0", "Serial device path")
	fs.IntVar(&cfg.baud, "baud", 115200, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	fs.StringVar(&cfg.remote, "remote", "", "can-server address host:port (cannelloni backend); empty browses mDNS")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", 3*time.Second, "can-server hello timeout")
	fs.DurationVar(&cfg.discoverTO, "discover-timeout", 5*time.Second, "mDNS browse timeout when --remote is empty")
	fs.IntVar(&cfg.bus, "bus", 0, "Bus number stamped on encoded frames (0..255)")
	fs.IntVar(&cfg.stockBus, "stock-bus", -1, "Bus to track stock DAS_control on (-1 = any)")
	fs.DurationVar(&cfg.stockMaxAge, "stock-max-age", 500*time.Millisecond, "Maximum age of tracked stock DAS_control (0 = no limit)")
	fs.BoolVar(&cfg.echo, "echo", false, "Also print every frame handed to the backend to stdout, candump style")

	fs.StringVar(&cfg.dbcPath, "dbc", "", "Signal database YAML (empty = embedded Tesla database)")
	fs.StringVar(&cfg.input, "input", "-", "Intent input file; '-' is stdin, empty disables")
	fs.StringVar(&cfg.listenAddr, "listen", "", "TCP intent listen address (e.g., :20100); empty disables")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous intent clients (0 = unlimited)")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", 60*time.Second, "Per-connection read deadline")
	fs.Float64Var(&cfg.rateLimit, "rate-limit", 0, "Per-connection intent lines per second (0 = unlimited)")
	fs.IntVar(&cfg.rateBurst, "rate-burst", 10, "Per-connection intent burst")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the intent listener via mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default das-encoder-<hostname>)")

	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.logFile, "log-file", "", "Also write logs to this file, rotated by size")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", 512, "Per-subscriber buffer of received frames")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	fs := flag.CommandLine
	registerFlags(fs, cfg)
	showVersion := fs.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Flags given on the command line win over the environment.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if err := applyEnvOverrides(fs, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// envName maps a flag name to its environment variable, e.g. can-if to
// DAS_ENCODER_CAN_IF.
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides sets every flag of fs that was not given explicitly from
// its DAS_ENCODER_* variable. Empty values are ignored except for the
// address and path flags in emptyAllowed, where empty disables the feature. The
// first parse error is returned; later variables are still applied.
func applyEnvOverrides(fs *flag.FlagSet, set map[string]struct{}) error {
	var firstErr error
	fs.VisitAll(func(f *flag.Flag) {
		if f.Name == "version" {
			return
		}
		if _, ok := set[f.Name]; ok {
			return
		}
		v, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}
		v = strings.TrimSpace(v)
		if v == "" && !emptyAllowed(f.Name) {
			return
		}
		if err := f.Value.Set(normalizeBool(f, v)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", envName(f.Name), err)
		}
	})
	return firstErr
}

func emptyAllowed(name string) bool {
	switch name {
	case "metrics-addr", "listen", "input", "dbc", "remote", "log-file":
		return true
	}
	return false
}

// normalizeBool accepts yes/no/on/off for boolean flags.
func normalizeBool(f *flag.Flag, v string) string {
	if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); !ok || !bf.IsBoolFlag() {
		return v
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return "true"
	case "no", "off":
		return "false"
	}
	return v
}

// validate checks values and ranges. It does not open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	if _, err := logging.ParseLevel(c.logLevel); err != nil || c.logLevel == "" {
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case backendSocketCAN, backendSerial, backendCannelloni, backendDump:
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if _, ok := hub.ParsePolicy(c.hubPolicy); !ok {
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.discoverTO <= 0 {
		return fmt.Errorf("discover-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.bus < 0 || c.bus > 255 {
		return fmt.Errorf("bus must be 0..255 (got %d)", c.bus)
	}
	if c.stockBus < -1 || c.stockBus > 255 {
		return fmt.Errorf("stock-bus must be -1..255 (got %d)", c.stockBus)
	}
	if c.stockMaxAge < 0 {
		return fmt.Errorf("stock-max-age must be >= 0")
	}
	if c.rateLimit < 0 {
		return fmt.Errorf("rate-limit must be >= 0")
	}
	if c.rateLimit > 0 && c.rateBurst < 1 {
		return fmt.Errorf("rate-burst must be >= 1 when rate-limit is set")
	}
	if c.input == "" && c.listenAddr == "" {
		return errors.New("nothing to read intents from: set --input or --listen")
	}
	if c.mdnsEnable && c.listenAddr == "" {
		return errors.New("mdns-enable requires --listen")
	}
	return nil
}
