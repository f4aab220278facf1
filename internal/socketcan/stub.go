//go:build !linux

package socketcan

import (
	"errors"

	"github.com/kstaniek/go-tesla-das/internal/transport"
)

// ErrUnsupported is returned by Open off Linux.
var ErrUnsupported = errors.New("socketcan: unsupported on this platform")

// Open always fails off Linux.
func Open(iface string, bus uint8, filter []uint32) (transport.Device, error) {
	return nil, ErrUnsupported
}
