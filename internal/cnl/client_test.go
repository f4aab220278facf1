package cnl

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/go-tesla-das/internal/can"
)

// fakeServer accepts one connection, completes the hello and returns the conn.
func fakeServer(t *testing.T) (addr string, conns <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	ch := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(ch)
			return
		}
		if err := Handshake(context.Background(), c, time.Second); err != nil {
			_ = c.Close()
			close(ch)
			return
		}
		ch <- c
	}()
	return ln.Addr().String(), ch
}

func TestClientDialSendReceive(t *testing.T) {
	addr, conns := fakeServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cl, err := Dial(ctx, addr, 1, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cl.Close()
	srv, ok := <-conns
	if !ok {
		t.Fatalf("server handshake failed")
	}
	defer srv.Close()

	out := mkFrame(0x488, 0x80, 0x00, 0x4A, 0x5C)
	if err := cl.WriteFrame(out); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Codec{}.Decode(srv)
	if err != nil || got != out {
		t.Fatalf("server got %+v err=%v", got, err)
	}

	in := mkFrame(0x2B9, 1, 2, 3, 4, 5, 6, 7, 8)
	if _, err := (Codec{}).EncodeTo(srv, []can.Frame{in}); err != nil {
		t.Fatalf("server write: %v", err)
	}
	var fr can.Frame
	if err := cl.ReadFrame(&fr); err != nil {
		t.Fatalf("read: %v", err)
	}
	in.Bus = 1
	if fr != in {
		t.Fatalf("client got %+v want %+v", fr, in)
	}
}

func TestClientDialBadHello(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = c.Write([]byte("HTTP/1.1 400"))
		time.Sleep(100 * time.Millisecond)
	}()
	_, err = Dial(context.Background(), ln.Addr().String(), 0, time.Second)
	if !errors.Is(err, ErrBadHello) {
		t.Fatalf("expected ErrBadHello, got %v", err)
	}
}

func TestTXWriter(t *testing.T) {
	addr, conns := fakeServer(t)
	cl, err := Dial(context.Background(), addr, 0, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cl.Close()
	srv := <-conns
	defer srv.Close()

	w := NewTXWriter(context.Background(), cl, 4)
	defer w.Close()
	want := mkFrame(0x2B9, 0xEE)
	if err := w.SendFrame(want); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = srv.SetReadDeadline(time.Now().Add(time.Second))
	got, err := Codec{}.Decode(srv)
	if err != nil || got != want {
		t.Fatalf("got %+v err=%v", got, err)
	}
}
