package modbus

const (
	crcInitial    = 0xFFFF
	crcPolynomial = 0xA001
)

// CRC16 computes the reflected CRC-16 used to terminate every frame.
func CRC16(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPolynomial
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendCRC appends the checksum of frame, low byte first.
func AppendCRC(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

// Verify reports whether the last two bytes of frame are the checksum of
// the bytes before them.
func Verify(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	n := len(frame) - 2
	crc := CRC16(frame[:n])
	return frame[n] == byte(crc&0xFF) && frame[n+1] == byte(crc>>8)
}
