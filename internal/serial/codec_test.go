package serial

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/kstaniek/go-tesla-das/internal/can"
)

// rxWire builds an adapter RX envelope: ID(4) | PAYLOAD.
func rxWire(id uint32, payload []byte) []byte {
	data := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(data[:4], id&can.CAN_EFF_MASK)
	copy(data[4:], payload)
	return envelope(nil, data)
}

func f(id uint32, data ...byte) can.Frame {
	var fr can.Frame
	fr.CANID = id
	fr.Len = uint8(len(data))
	copy(fr.Data[:], data)
	return fr
}

func TestEncode_SteeringFrame(t *testing.T) {
	got := Codec{}.Encode(f(0x488, 0x80, 0x00, 0x4A, 0x5C))
	want := []byte{
		0x2D, 0xD4, 0x0B, // preamble, LEN = 10 data + 1
		0x02, 0x84, // INS, FLAGS|DLC
		0x00, 0x00, 0x04, 0x88,
		0x80, 0x00, 0x4A, 0x5C,
	}
	var sum byte = 0x2D + 0x0B
	for _, b := range want[3:] {
		sum += b
	}
	want = append(want, sum)
	if !bytes.Equal(got, want) {
		t.Fatalf("encode\n got % X\nwant % X", got, want)
	}
}

func TestEncode_StripsFlags(t *testing.T) {
	got := Codec{}.Encode(f(0x1ABCDE|can.CAN_EFF_FLAG, 1))
	if id := binary.BigEndian.Uint32(got[5:9]); id != 0x1ABCDE {
		t.Fatalf("id on wire %#x", id)
	}
}

func TestDecodeStream_Chunked(t *testing.T) {
	codec := Codec{Bus: 2}
	want := []can.Frame{
		f(0x2B9, 0x23, 0xF1, 0x00, 0x00, 0x00, 0x00, 0x40, 0xEE),
		f(0x488, 0x80, 0x00, 0x4A, 0x5C),
		f(0x0123456|can.CAN_EFF_FLAG, 0x9A, 0xBC),
		f(0x7FF, 0xDE),
	}
	stream := []byte{0x00, 0xFF, 0x2D} // leading noise
	for _, fr := range want {
		stream = append(stream, rxWire(fr.CANID, fr.Payload())...)
	}

	var buf bytes.Buffer
	var got []can.Frame
	chunkSizes := []int{1, 2, 3, 4, 5, 7, 11}
	for pos, cs := 0, 0; pos < len(stream); cs++ {
		n := min(chunkSizes[cs%len(chunkSizes)], len(stream)-pos)
		buf.Write(stream[pos : pos+n])
		pos += n
		if err := codec.DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }); err != nil {
			t.Fatalf("DecodeStream: %v", err)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		want[i].Bus = 2
		if got[i] != want[i] {
			t.Fatalf("frame %d\n got %+v\nwant %+v", i, got[i], want[i])
		}
	}
}

func TestDecodeStream_KeepsPartialPreamble(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x11, 0x22, 0x2D})
	_ = Codec{}.DecodeStream(&buf, func(can.Frame) { t.Fatalf("unexpected frame") })
	if !bytes.Equal(buf.Bytes(), []byte{0x2D}) {
		t.Fatalf("buffer % X, want 2D", buf.Bytes())
	}
}

func TestCompactBuffer(t *testing.T) {
	var b bytes.Buffer
	b.Write(make([]byte, 8192))
	b.Next(8192 - 1100)
	if !CompactBuffer(&b) {
		t.Fatalf("expected compaction")
	}
	if b.Len() != 1100 {
		t.Fatalf("len %d after compaction", b.Len())
	}
	var small bytes.Buffer
	small.Write([]byte{1, 2, 3})
	if CompactBuffer(&small) {
		t.Fatalf("small buffer must not compact")
	}
}
