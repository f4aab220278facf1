package cnl

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
)

func mkFrame(id uint32, data ...byte) can.Frame {
	var f can.Frame
	f.CANID = id
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f
}

func TestAppendFrame_Layout(t *testing.T) {
	got := AppendFrame(nil, mkFrame(0x488, 0x80, 0x00, 0x4A, 0x5C))
	want := []byte{0x00, 0x00, 0x04, 0x88, 0x04, 0x80, 0x00, 0x4A, 0x5C}
	if !bytes.Equal(got, want) {
		t.Fatalf("wire % X want % X", got, want)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	c := Codec{}
	in := []can.Frame{
		mkFrame(0x488, 0x80, 0x00, 0x4A, 0x5C),
		mkFrame(0x2B9, 1, 2, 3, 4, 5, 6, 7, 8),
		mkFrame(0x12345 | can.CAN_EFF_FLAG),
	}
	var out []can.Frame
	n, err := c.DecodeN(bytes.NewReader(c.Encode(in)), 0, func(f can.Frame) { out = append(out, f) })
	if !errors.Is(err, io.EOF) {
		t.Fatalf("DecodeN terminal err=%v, want EOF", err)
	}
	if n != len(in) || len(out) != len(in) {
		t.Fatalf("decoded %d collected %d want %d", n, len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("frame %d: got %+v want %+v", i, out[i], in[i])
		}
	}
}

func TestCodec_DecodeNMax(t *testing.T) {
	c := Codec{}
	wire := c.Encode([]can.Frame{mkFrame(1, 1), mkFrame(2, 2), mkFrame(3, 3)})
	n, err := c.DecodeN(bytes.NewReader(wire), 2, func(can.Frame) {})
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestCodec_EncodeToMatchesEncode(t *testing.T) {
	c := Codec{}
	frames := []can.Frame{mkFrame(0x10, 1, 2, 3, 4, 5, 6, 7, 8), mkFrame(0x11, 9, 9, 9)}
	var buf bytes.Buffer
	n, err := c.EncodeTo(&buf, frames)
	if err != nil {
		t.Fatalf("EncodeTo: %v", err)
	}
	if n != buf.Len() || !bytes.Equal(c.Encode(frames), buf.Bytes()) {
		t.Fatalf("Encode vs EncodeTo mismatch\nenc=% X\nencTo=% X", c.Encode(frames), buf.Bytes())
	}
	if c.Encode(nil) != nil {
		t.Fatalf("Encode(nil) should be nil")
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	c := Codec{}
	tests := []struct {
		name string
		wire []byte
		want error
	}{
		{"empty", nil, io.EOF},
		{"short header", []byte{0, 0, 4}, ErrTruncatedFrame},
		{"length 9", []byte{0, 0, 0, 1, 0x89}, ErrInvalidLength},
		{"short payload", []byte{0, 0, 0, 2, 5, 1, 2, 3}, ErrTruncatedFrame},
	}
	for _, tc := range tests {
		before := metrics.Snap().Malformed
		_, err := c.Decode(bytes.NewReader(tc.wire))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
		if tc.want != io.EOF && metrics.Snap().Malformed <= before {
			t.Fatalf("%s: malformed counter not incremented", tc.name)
		}
	}
}

func TestCodec_LengthHighBitIgnored(t *testing.T) {
	f, err := Codec{}.Decode(bytes.NewReader([]byte{0, 0, 0x02, 0xB9, 0x81, 0xAA}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Len != 1 || f.Data[0] != 0xAA || f.ID() != 0x2B9 {
		t.Fatalf("frame %+v", f)
	}
}
