package teslacan

// Checksum is the additive checksum used by the DAS frames: the low and high
// bytes of the arbitration ID plus every data byte, modulo 256.
func Checksum(addr uint32, data []byte) uint8 {
	sum := uint(addr&0xFF) + uint((addr>>8)&0xFF)
	for _, b := range data {
		sum += uint(b)
	}
	return uint8(sum & 0xFF)
}
