package frame

// crcPoly is the reflected polynomial used by the sensor module.
const crcPoly = 0x8C

// CRC8 computes the module checksum bit-serially with initial value zero.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for bit := 0; bit < 8; bit++ {
			if crc&0x01 != 0 {
				crc = crc>>1 ^ crcPoly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
