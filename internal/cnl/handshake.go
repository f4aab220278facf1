package cnl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const hello = "CANNELLONIv1"

// ErrBadHello is returned when the peer answers with something other than the hello.
var ErrBadHello = errors.New("cannelloni: bad hello")

// Handshake exchanges the hello with the peer. Both directions run
// concurrently because either side may speak first.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer c.SetDeadline(time.Time{})

	errCh := make(chan error, 2)
	go func() {
		_, err := io.WriteString(c, hello)
		errCh <- err
	}()
	go func() {
		var buf [len(hello)]byte
		_, err := io.ReadFull(c, buf[:])
		if err == nil && string(buf[:]) != hello {
			err = fmt.Errorf("%w: %q", ErrBadHello, buf[:])
		}
		errCh <- err
	}()

	for range 2 {
		select {
		case <-ctx.Done():
			// unblock the pending goroutine
			_ = c.SetDeadline(time.Now())
			return ctx.Err()
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
		}
	}
	return nil
}
