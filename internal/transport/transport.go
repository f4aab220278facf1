// Package transport holds the frame sink abstractions shared by the CAN
// backends and the asynchronous transmit queue they write through.
package transport

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-tesla-das/internal/can"
)

// FrameSink is a CAN frame transmission target.
type FrameSink interface {
	SendFrame(can.Frame) error
}

// Device is a frame-at-a-time CAN link: a SocketCAN socket or a remote
// can-server connection. Fakes implement it in tests.
type Device interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// SinkFunc adapts a plain function to FrameSink.
type SinkFunc func(can.Frame) error

func (f SinkFunc) SendFrame(fr can.Frame) error { return f(fr) }

// ErrNoSink is returned by Multi when it has no targets.
var ErrNoSink = errors.New("transport: no sink")

// Multi sends each frame to every sink in order and returns the first error.
// All sinks are attempted even if an earlier one fails.
type Multi []FrameSink

func (m Multi) SendFrame(fr can.Frame) error {
	if len(m) == 0 {
		return ErrNoSink
	}
	var first error
	for i, s := range m {
		if err := s.SendFrame(fr); err != nil && first == nil {
			first = fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return first
}
