package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-tesla-das/internal/metrics"
)

func TestPerSecond(t *testing.T) {
	if got := perSecond(50, 500*time.Millisecond); got != 100 {
		t.Fatalf("perSecond(50, 500ms) = %v", got)
	}
	if got := perSecond(50, 0); got != 0 {
		t.Fatalf("perSecond with zero interval = %v", got)
	}
}

func TestLogSnapshotExtra(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	logSnapshot(l, metrics.Snapshot{Encoded: 7, Tx: 5}, slog.Float64("can_tx_hz", 2.5))
	out := buf.String()
	for _, want := range []string{"msg=metrics_snapshot", "encoded=7", "can_tx=5", "can_tx_hz=2.5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestMetricsLoggerDisabled(t *testing.T) {
	var wg sync.WaitGroup
	startMetricsLogger(context.Background(), 0, testLogger(), &wg)
	wg.Wait()
}
