package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/kstaniek/go-tesla-das/internal/can"
)

// Package-wide logger; text on stderr at info until the binary calls Set.
var logger atomic.Pointer[slog.Logger]

func init() {
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Store(l)
}

// L returns the current global logger.
func L() *slog.Logger { return logger.Load() }

// Set replaces the global logger.
func Set(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// New builds a "json" or "text" logger at level. A nil w means stderr.
func New(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Frame groups a frame as id/len/data attributes, formatted the way candump
// prints them so log lines can be grepped against a bus capture.
func Frame(key string, fr can.Frame) slog.Attr {
	idFmt := "%03X"
	if fr.CANID&can.CAN_EFF_FLAG != 0 {
		idFmt = "%08X"
	}
	return slog.Group(key,
		slog.String("id", fmt.Sprintf(idFmt, fr.ID())),
		slog.Int("len", int(fr.Len)),
		slog.String("data", fmt.Sprintf("% X", fr.Payload())),
	)
}
