package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-tesla-das/internal/can"
)

// ErrAsyncTxClosed is returned by SendFrame after Close.
var ErrAsyncTxClosed = errors.New("async tx closed")

// AsyncTx funnels frame writes for one backend through a single goroutine.
// Enqueue never blocks: when the buffer is full SendFrame calls Hooks.OnDrop
// and returns its error, so a wedged device cannot stall the encode loop.
//
//	tx := NewAsyncTx(ctx, 64, dev.WriteFrame, hooks)
//	defer tx.Close()
//	err := tx.SendFrame(fr)
//
// Frames still queued when Close runs are discarded.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	hooks  Hooks
	closed atomic.Bool

	pending atomic.Int64 // queued or in flight
	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// Hooks let each backend attach its own metrics and logging.
type Hooks struct {
	// OnError runs when send fails; the frame is not retried.
	OnError func(can.Frame, error)
	// OnSent runs after a successful send.
	OnSent func(can.Frame)
	// OnDrop runs when the queue is full. Its result is returned from
	// SendFrame; nil makes overflow silent.
	OnDrop func(can.Frame) error
}

// Stats counts what happened to frames handed to SendFrame.
type Stats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
	Queued  int
}

// NewAsyncTx starts the worker. buf < 1 is treated as 1.
func NewAsyncTx(parent context.Context, buf int, send func(can.Frame) error, hooks Hooks) *AsyncTx {
	if buf < 1 {
		buf = 1
	}
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			// Close may race with a ready frame; prefer shutting down.
			if a.ctx.Err() != nil {
				return
			}
			err := a.send(fr)
			a.pending.Add(-1)
			if err != nil {
				a.failed.Add(1)
				if a.hooks.OnError != nil {
					a.hooks.OnError(fr, err)
				}
				continue
			}
			a.sent.Add(1)
			if a.hooks.OnSent != nil {
				a.hooks.OnSent(fr)
			}
		}
	}
}

// SendFrame queues fr or reports overflow through OnDrop.
func (a *AsyncTx) SendFrame(fr can.Frame) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.pending.Add(1)
	select {
	case a.ch <- fr:
		return nil
	default:
		a.pending.Add(-1)
		a.dropped.Add(1)
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop(fr)
		}
		return nil
	}
}

// Stats returns current counters.
func (a *AsyncTx) Stats() Stats {
	return Stats{
		Sent:    a.sent.Load(),
		Failed:  a.failed.Load(),
		Dropped: a.dropped.Load(),
		Queued:  len(a.ch),
	}
}

// Drain waits until every accepted frame has been handed to send, or ctx is done.
func (a *AsyncTx) Drain(ctx context.Context) error {
	t := time.NewTicker(2 * time.Millisecond)
	defer t.Stop()
	for a.pending.Load() > 0 && !a.closed.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Close stops the worker and waits for it. Safe to call more than once.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
