package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/kstaniek/go-tesla-das/internal/metrics"
)

// Reply is written back for every non-empty intent line.
type Reply struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id,omitempty"`   // arbitration ID of the sent frame, hex
	Data  string `json:"data,omitempty"` // payload, hex
	Error string `json:"error,omitempty"`
}

// serveConn runs the read-handle-reply loop for one client.
func (s *Server) serveConn(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	var lim *rate.Limiter
	if s.rateLimit > 0 {
		lim = rate.NewLimiter(s.rateLimit, s.rateBurst)
	}
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, min(512, s.maxLineLen)), s.maxLineLen)
	w := bufio.NewWriter(conn)
	enc := json.NewEncoder(w)

	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
		if !sc.Scan() {
			s.scanDone(sc.Err(), conn, enc, w, logger)
			return
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		s.totalLines.Add(1)
		var rep Reply
		if lim != nil && !lim.Allow() {
			rep.Error = reject(ErrRateLimited).Error()
		} else if fr, err := s.handle(line); err != nil {
			rep.Error = err.Error()
		} else {
			rep = Reply{OK: true, ID: fmt.Sprintf("%03X", fr.ID()), Data: fmt.Sprintf("%X", fr.Payload())}
		}
		if !rep.OK {
			s.totalFailed.Add(1)
			logger.Debug("intent_rejected", "error", rep.Error)
		}
		if err := s.reply(conn, enc, w, rep); err != nil {
			logger.Warn("reply_write_error", "error", err)
			return
		}
	}
}

func (s *Server) reply(conn net.Conn, enc *json.Encoder, w *bufio.Writer, rep Reply) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.readDeadline))
	err := enc.Encode(rep)
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
		metrics.IncError(mapErrToMetric(wrap))
		return wrap
	}
	return nil
}

// scanDone classifies why the scanner stopped and logs it.
func (s *Server) scanDone(err error, conn net.Conn, enc *json.Encoder, w *bufio.Writer, logger *slog.Logger) {
	var ne net.Error
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
	case errors.As(err, &ne) && ne.Timeout():
		logger.Info("client_idle_timeout", "after", s.readDeadline)
	case errors.Is(err, bufio.ErrTooLong):
		rerr := fmt.Errorf("%w: limit %d bytes", reject(ErrLineTooLong), s.maxLineLen)
		_ = s.reply(conn, enc, w, Reply{Error: rerr.Error()})
		// drain briefly so the close is a FIN and the reply is not lost to a reset
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, _ = io.CopyN(io.Discard, conn, 1<<16)
	default:
		wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		logger.Warn("client_read_error", "error", err)
	}
}
