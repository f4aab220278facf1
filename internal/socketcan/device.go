//go:build linux

package socketcan

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/transport"
)

// Device is a raw CAN_RAW socket bound to one interface.
type Device struct {
	fd  int
	bus uint8
}

var _ transport.Device = (*Device)(nil)

// Open binds a raw socket to iface. Received frames are stamped with bus.
// A non-empty filter limits reception to those standard IDs.
func Open(iface string, bus uint8, filter []uint32) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// older kernels do not know the option
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	if len(filter) > 0 {
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, rawFilters(filter)); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set CAN filter: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd, bus: bus}, nil
}

// rawFilters matches each ID exactly as a standard frame.
func rawFilters(ids []uint32) []unix.CanFilter {
	fs := make([]unix.CanFilter, 0, len(ids))
	for _, id := range ids {
		fs = append(fs, unix.CanFilter{
			Id:   id & can.CAN_SFF_MASK,
			Mask: can.CAN_SFF_MASK | can.CAN_EFF_FLAG | can.CAN_RTR_FLAG,
		})
	}
	return fs
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic frame.
//
// struct can_frame is can_id u32 | len u8 | pad 3 | data [8], in host byte
// order; every supported target is little-endian.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}
	if n != unix.CAN_MTU {
		return fmt.Errorf("short read: %d", n)
	}
	dlc := min(int(buf[4]), can.MaxDataLen)
	*fr = can.Frame{
		CANID: binary.LittleEndian.Uint32(buf[0:4]),
		Bus:   d.bus,
		Len:   uint8(dlc),
	}
	copy(fr.Data[:], buf[8:8+dlc])
	return nil
}

// WriteFrame writes one classic frame. Frame.Bus is not used; the socket
// decides the bus.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], fr.CANID)
	p := fr.Payload()
	buf[4] = byte(len(p))
	copy(buf[8:], p)
	_, err := unix.Write(d.fd, buf[:])
	return err
}
