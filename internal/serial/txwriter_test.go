package serial

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

type recordPort struct {
	mu  sync.Mutex
	out bytes.Buffer
}

func (p *recordPort) Read([]byte) (int, error) { return 0, nil }
func (p *recordPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}
func (p *recordPort) Close() error { return nil }

func (p *recordPort) bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

func TestTXWriterWritesEnvelope(t *testing.T) {
	p := &recordPort{}
	w := NewTXWriter(context.Background(), p, Codec{}, 4)
	defer w.Close()
	fr := f(0x488, 0x80, 0x00, 0x4A, 0x5C)
	if err := w.SendFrame(fr); err != nil {
		t.Fatalf("send: %v", err)
	}
	want := Codec{}.Encode(fr)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if bytes.Equal(p.bytes(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("port got % X want % X", p.bytes(), want)
}
