// Package serial drives Ampio-style UART CAN adapters. Frames travel in a
// checksummed envelope:
//
//	2D D4 LEN DATA... SUM
//
// where LEN counts DATA plus the checksum byte and SUM = 0x2D + LEN + sum(DATA).
// TX DATA is INS(1) FLAGS(1) ID(4, big-endian) PAYLOAD(0..8); RX DATA is
// ID(4) PAYLOAD(0..8).
package serial

import (
	"bytes"
	"encoding/binary"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
)

const (
	pre0 = 0x2D
	pre1 = 0xD4

	insSendExt = 2    // send with 29-bit ID field
	flagsDLC   = 0x80 // classic frame, low bits carry DLC

	// RX LEN bounds: ID(4) + payload(1..8) + SUM(1).
	minRxLen = 4 + 1 + 1
	maxRxLen = 4 + can.MaxDataLen + 1
)

var preamble = []byte{pre0, pre1}

// Codec converts frames to and from the UART envelope. Bus is stamped on
// every decoded frame.
type Codec struct {
	Bus uint8
}

// envelope appends the framed form of data to dst.
func envelope(dst, data []byte) []byte {
	ln := byte(len(data) + 1)
	sum := pre0 + ln
	dst = append(dst, pre0, pre1, ln)
	for _, b := range data {
		sum += b
	}
	dst = append(dst, data...)
	return append(dst, sum)
}

// Encode returns the TX envelope for f.
func (Codec) Encode(f can.Frame) []byte {
	p := f.Payload()
	var data [6 + can.MaxDataLen]byte
	data[0] = insSendExt
	data[1] = flagsDLC | byte(len(p))
	binary.BigEndian.PutUint32(data[2:6], f.ID())
	n := copy(data[6:], p)
	return envelope(make([]byte, 0, 6+n+4), data[:6+n])
}

// CompactBuffer drops the consumed prefix of b once it dominates the
// backing array. It reports whether it copied.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if len(data)*4 < b.Cap() {
		clone := make([]byte, len(data))
		copy(clone, data)
		*b = *bytes.NewBuffer(clone) // release the large backing array
		return true
	}
	return false
}

// DecodeStream consumes every complete envelope buffered in in and emits the
// frames to out. Partial envelopes stay buffered for the next call. Garbage,
// bad lengths and checksum mismatches are skipped a byte at a time and
// counted as malformed. The adapter does not report the ID format, so IDs
// above 0x7FF are flagged extended and the rest standard.
func (c Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		if len(data) < 3 {
			return nil
		}
		i := bytes.Index(data, preamble)
		if i < 0 {
			// the last byte may be the first half of a preamble
			last := data[len(data)-1]
			in.Reset()
			if last == pre0 {
				_ = in.WriteByte(last)
			}
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}
		ln := int(data[2])
		if ln < minRxLen || ln > maxRxLen {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}
		total := 3 + ln
		if len(data) < total {
			return nil
		}
		sum := byte(pre0) + data[2]
		for _, b := range data[3 : total-1] {
			sum += b
		}
		if sum != data[total-1] {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		var f can.Frame
		id := binary.BigEndian.Uint32(data[3:7]) & can.CAN_EFF_MASK
		if id > can.CAN_SFF_MASK {
			id |= can.CAN_EFF_FLAG
		}
		f.CANID = id
		f.Bus = c.Bus
		f.Len = uint8(copy(f.Data[:], data[7:total-1]))
		in.Next(total)
		metrics.IncRx(metrics.BackendSerial)
		out(f)
	}
}
