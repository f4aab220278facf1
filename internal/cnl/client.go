package cnl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
	"github.com/kstaniek/go-tesla-das/internal/transport"
)

// ErrTxOverflow is returned when the client TX queue is full.
var ErrTxOverflow = errors.New("cannelloni tx overflow")

// Client is a connection to a remote can-server. The remote does not carry
// bus numbers, so received frames are stamped with the client's bus.
type Client struct {
	conn  net.Conn
	rd    *bufio.Reader
	bus   uint8
	codec Codec

	wmu sync.Mutex
}

var _ transport.Device = (*Client)(nil)

// Dial connects to addr and performs the hello exchange.
func Dial(ctx context.Context, addr string, bus uint8, handshakeTimeout time.Duration) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := Handshake(ctx, conn, handshakeTimeout); err != nil {
		metrics.IncError(metrics.ErrHandshake)
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", addr, err)
	}
	return NewClient(conn, bus), nil
}

// NewClient wraps an already handshaken connection.
func NewClient(conn net.Conn, bus uint8) *Client {
	return &Client{conn: conn, rd: bufio.NewReader(conn), bus: bus}
}

// ReadFrame blocks for the next frame from the server. Not safe for
// concurrent readers.
func (c *Client) ReadFrame(fr *can.Frame) error {
	f, err := c.codec.Decode(c.rd)
	if err != nil {
		return err
	}
	f.Bus = c.bus
	*fr = f
	return nil
}

// WriteFrame sends one frame. Safe for concurrent use.
func (c *Client) WriteFrame(fr can.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.codec.EncodeTo(c.conn, []can.Frame{fr})
	return err
}

func (c *Client) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *Client) Close() error { return c.conn.Close() }

// TXWriter queues writes to a Client through one goroutine.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a TXWriter with a queue of buf frames.
func NewTXWriter(parent context.Context, c *Client, buf int) *TXWriter {
	hooks := transport.Hooks{
		OnError: func(can.Frame, error) { metrics.IncError(metrics.ErrCannelloniWrite) },
		OnSent:  func(can.Frame) { metrics.IncTx(metrics.BackendCannelloni) },
		OnDrop: func(can.Frame) error {
			metrics.IncError(metrics.ErrCannelloniOver)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, c.WriteFrame, hooks)}
}

// SendFrame queues fr; it returns ErrTxOverflow if the queue is full.
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Drain waits for queued frames to be written.
func (w *TXWriter) Drain(ctx context.Context) error { return w.base.Drain(ctx) }

func (w *TXWriter) Close() { w.base.Close() }
