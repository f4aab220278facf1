package serial

import (
	"time"

	"github.com/tarm/serial"
)

// Port is the subset of *serial.Port the backend uses; tests substitute fakes.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens the UART adapter at name. readTimeout bounds each Read so the
// RX loop can observe shutdown.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	return serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
}
