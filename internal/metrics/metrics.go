package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-tesla-das/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	EncodedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "das_encoded_frames_total",
		Help: "Total DAS frames encoded, by message name.",
	}, []string{"message"})
	IntentsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "das_intents_total",
		Help: "Total control intents read from the input, by kind.",
	}, []string{"kind"})
	TxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "can_tx_frames_total",
		Help: "Total CAN frames written, by backend.",
	}, []string{"backend"})
	RxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "Total CAN frames received, by backend.",
	}, []string{"backend"})
	IntentClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "das_intent_clients",
		Help: "Current number of connected intent clients.",
	})
	IntentRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "das_intent_rejected_total",
		Help: "Intent lines or connections refused before encoding, by reason.",
	}, []string{"reason"})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total received frames dropped by the hub due to slow subscribers.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total subscribers closed by the kick backpressure policy.",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of hub subscribers.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (bad length, checksum, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Backend label values
const (
	BackendSerial     = "serial"
	BackendSocketCAN  = "socketcan"
	BackendCannelloni = "cannelloni"
	BackendDump       = "dump"
)

// Error label values (bounded cardinality)
const (
	ErrEncode           = "encode"
	ErrIntent           = "intent"
	ErrHandshake        = "handshake"
	ErrSerialWrite      = "serial_write"
	ErrSerialOverflow   = "serial_tx_overflow"
	ErrSerialRead       = "serial_read"
	ErrSocketCANWrite   = "socketcan_write"
	ErrSocketCANOver    = "socketcan_tx_overflow"
	ErrSocketCANRead    = "socketcan_read"
	ErrCannelloniWrite  = "cannelloni_write"
	ErrCannelloniOver   = "cannelloni_tx_overflow"
	ErrCannelloniRead   = "cannelloni_read"
	ErrStockUnavailable = "stock_unavailable"
	ErrListen           = "listen"
	ErrConnRead         = "conn_read"
	ErrConnWrite        = "conn_write"
)

// Reject reasons
const (
	RejectRate       = "rate"
	RejectMaxClients = "max_clients"
	RejectTooLong    = "too_long"
)

// StartHTTP serves /metrics and /ready on addr in a background goroutine.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrors so the periodic log line does not need to scrape Prometheus.
var (
	localEncoded    uint64
	localIntents    uint64
	localRejected   uint64
	localClients    uint64
	localTx         uint64
	localRx         uint64
	localHubDrop    uint64
	localHubKick    uint64
	localHubClients uint64
	localErrors     uint64
	localMalformed  uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Encoded    uint64
	Intents    uint64
	Rejected   uint64
	Clients    uint64 // intent clients
	Tx         uint64 // all backends
	Rx         uint64 // all backends
	HubDrops   uint64
	HubKicks   uint64
	HubClients uint64
	Errors     uint64 // sum across error labels
	Malformed  uint64
}

func Snap() Snapshot {
	return Snapshot{
		Encoded:    atomic.LoadUint64(&localEncoded),
		Intents:    atomic.LoadUint64(&localIntents),
		Rejected:   atomic.LoadUint64(&localRejected),
		Clients:    atomic.LoadUint64(&localClients),
		Tx:         atomic.LoadUint64(&localTx),
		Rx:         atomic.LoadUint64(&localRx),
		HubDrops:   atomic.LoadUint64(&localHubDrop),
		HubKicks:   atomic.LoadUint64(&localHubKick),
		HubClients: atomic.LoadUint64(&localHubClients),
		Errors:     atomic.LoadUint64(&localErrors),
		Malformed:  atomic.LoadUint64(&localMalformed),
	}
}

// IncEncoded counts one successfully encoded frame of message.
func IncEncoded(message string) {
	EncodedFrames.WithLabelValues(message).Inc()
	atomic.AddUint64(&localEncoded, 1)
}

func IncIntent(kind string) {
	IntentsReceived.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localIntents, 1)
}

func IncRejected(reason string) {
	IntentRejected.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localRejected, 1)
}

func SetIntentClients(n int) {
	IntentClients.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
}

// IncTx counts one frame written by backend.
func IncTx(backend string) {
	TxFrames.WithLabelValues(backend).Inc()
	atomic.AddUint64(&localTx, 1)
}

// IncRx counts one frame received by backend.
func IncRx(backend string) {
	RxFrames.WithLabelValues(backend).Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (call once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrEncode, ErrIntent, ErrHandshake,
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
		ErrCannelloniWrite, ErrCannelloniOver, ErrCannelloniRead,
		ErrStockUnavailable, ErrListen, ErrConnRead, ErrConnWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not wired yet: report ready so scrapes don't flap
		return true
	}
	return fn()
}
