package can

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxDataLen is the payload capacity of a classic CAN frame.
const MaxDataLen = 8

// Frame is a classic CAN frame as produced by the packer and consumed by the
// transmit backends. CANID may carry EFF/RTR/ERR flags in its upper bits like
// SocketCAN; Bus is the logical bus number the frame is addressed to and is not
// part of any wire format. Only the first Len bytes of Data are valid.
type Frame struct {
	CANID uint32
	Bus   uint8
	Len   uint8
	Data  [MaxDataLen]byte
}

// ID returns the arbitration ID with flag bits stripped.
func (f Frame) ID() uint32 {
	if f.CANID&CAN_EFF_FLAG != 0 {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

// Payload returns the valid bytes of Data. The slice aliases the frame copy.
func (f *Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}
