// Package cnl speaks the cannelloni-over-TCP framing used by can-server:
// a CANNELLONIv1 hello exchange followed by a stream of frames, each
// 4-byte big-endian can_id, 1 length byte, payload.
package cnl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
)

// Wire sizes.
const (
	headerLen   = 4 + 1
	maxFrameLen = headerLen + can.MaxDataLen
	lenMask     = 0x7F // top bit of the length byte is reserved
)

var (
	// ErrInvalidLength is returned when a frame length is outside 0..8.
	ErrInvalidLength = errors.New("cannelloni: invalid length")
	// ErrTruncatedFrame is returned when the stream ends mid-frame.
	ErrTruncatedFrame = errors.New("cannelloni: truncated frame")
)

// Codec encodes and decodes frames. Stateless and safe for concurrent use.
type Codec struct{}

// AppendFrame appends the wire form of f to dst.
func AppendFrame(dst []byte, f can.Frame) []byte {
	dst = binary.BigEndian.AppendUint32(dst, f.CANID)
	n := f.Len & lenMask
	if n > can.MaxDataLen {
		n = can.MaxDataLen
	}
	dst = append(dst, n)
	return append(dst, f.Data[:n]...)
}

// Encode packs frames back to back into one buffer.
func (Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(frames)*maxFrameLen)
	for _, f := range frames {
		buf = AppendFrame(buf, f)
	}
	return buf
}

// EncodeTo writes frames to w, one Write per frame so a frame is never split
// across writers sharing w under a lock.
func (Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var scratch [maxFrameLen]byte
	total := 0
	for _, f := range frames {
		n, err := w.Write(AppendFrame(scratch[:0], f))
		total += n
		if err != nil {
			return total, fmt.Errorf("cannelloni encode: %w", err)
		}
	}
	return total, nil
}

// Decode reads one frame. A clean end of stream before the first byte
// returns io.EOF; an end inside a frame returns ErrTruncatedFrame.
func (Codec) Decode(r io.Reader) (can.Frame, error) {
	var f can.Frame
	var hdr [headerLen]byte
	if n, err := io.ReadFull(r, hdr[:]); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return f, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return f, fmt.Errorf("cannelloni decode header: %w", ErrTruncatedFrame)
		}
		return f, err
	}
	f.CANID = binary.BigEndian.Uint32(hdr[:4])
	ln := int(hdr[4] & lenMask)
	if ln > can.MaxDataLen {
		metrics.IncMalformed()
		return f, fmt.Errorf("cannelloni decode: %w (%d)", ErrInvalidLength, ln)
	}
	f.Len = uint8(ln)
	if ln == 0 {
		return f, nil
	}
	if _, err := io.ReadFull(r, f.Data[:ln]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			metrics.IncMalformed()
			return f, fmt.Errorf("cannelloni decode payload: %w", ErrTruncatedFrame)
		}
		return f, fmt.Errorf("cannelloni decode payload: %w", err)
	}
	return f, nil
}

// DecodeN decodes up to max frames (max <= 0: until an error) and passes each
// to onFrame. It returns the count and the terminal error, io.EOF at a clean end.
func (c Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	n := 0
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
