package gateboard

// crcUpdate advances a CRC-16/CCITT (reversed polynomial 0x8408) by one
// byte, matching the board firmware's checksum routine.
func crcUpdate(crc uint16, b byte) uint16 {
	d := b ^ byte(crc)
	d ^= d << 4
	return (uint16(d)<<8 | crc>>8) ^ uint16(d>>4) ^ uint16(d)<<3
}

// crcBytes folds a byte slice into the CRC.
func crcBytes(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crcUpdate(crc, b)
	}
	return crc
}
