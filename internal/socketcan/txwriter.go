package socketcan

import (
	"context"
	"errors"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/logging"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
	"github.com/kstaniek/go-tesla-das/internal/transport"
)

var ErrTxOverflow = errors.New("socketcan tx overflow")

// TXWriter funnels all device writes through a single goroutine.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a TXWriter with a queue of buf frames.
func NewTXWriter(parent context.Context, dev transport.Device, buf int) *TXWriter {
	hooks := transport.Hooks{
		OnError: func(fr can.Frame, err error) {
			metrics.IncError(metrics.ErrSocketCANWrite)
			logging.L().Error("socketcan_write_error", logging.Frame("frame", fr), "error", err)
		},
		OnSent: func(can.Frame) { metrics.IncTx(metrics.BackendSocketCAN) },
		OnDrop: func(can.Frame) error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, dev.WriteFrame, hooks)}
}

// SendFrame queues fr; it returns ErrTxOverflow if the queue is full.
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Drain waits for queued frames to be written.
func (w *TXWriter) Drain(ctx context.Context) error { return w.base.Drain(ctx) }

func (w *TXWriter) Close() { w.base.Close() }
