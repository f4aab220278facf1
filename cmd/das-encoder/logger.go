package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kstaniek/go-tesla-das/internal/logging"
)

// Rotation limits for --log-file.
const (
	logFileMaxSizeMB  = 20
	logFileMaxBackups = 5
	logFileMaxAgeDays = 14
)

// setupLogger installs the global logger. With a log file, records go to
// stderr and to a size-rotated file; the returned closer flushes the file.
func setupLogger(format, level, file string) (*slog.Logger, io.Closer) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
			MaxAge:     logFileMaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}
	l := logging.New(format, lvl, w).With("app", "das-encoder")
	logging.Set(l)
	return l, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
