package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-tesla-das/internal/metrics"
)

// startMetricsLogger logs the counters every interval together with the
// encode and transmit rates over that interval. interval <= 0 disables it.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		prev := metrics.Snap()
		for {
			select {
			case <-t.C:
				cur := metrics.Snap()
				logSnapshot(l, cur,
					slog.Float64("encoded_hz", perSecond(cur.Encoded-prev.Encoded, interval)),
					slog.Float64("can_tx_hz", perSecond(cur.Tx-prev.Tx, interval)),
				)
				prev = cur
			case <-ctx.Done():
				return
			}
		}
	}()
}

func perSecond(n uint64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.Uint64("intents", snap.Intents),
		slog.Uint64("encoded", snap.Encoded),
		slog.Uint64("rejected", snap.Rejected),
		slog.Uint64("intent_clients", snap.Clients),
		slog.Uint64("can_tx", snap.Tx),
		slog.Uint64("can_rx", snap.Rx),
		slog.Uint64("hub_drops", snap.HubDrops),
		slog.Uint64("hub_kicks", snap.HubKicks),
		slog.Uint64("malformed", snap.Malformed),
		slog.Uint64("errors", snap.Errors),
	}
	l.LogAttrs(context.Background(), slog.LevelInfo, "metrics_snapshot", append(attrs, extra...)...)
}
