// Package mpegts implements the MPEG-2 Transport Stream packetization
// engine: PES assembly, TS packet emission and PSI (PAT/PMT) generation,
// built on top of github.com/asticode/go-astits.
package mpegts

// CRC32MPEG2 computes the CRC used by MPEG-2 PSI sections: polynomial
// 0x04C11DB7, initial value 0xFFFFFFFF, no input/output reflection, no
// final XOR. go-astits computes the same checksum internally but does not
// export it; this standalone copy is not called elsewhere in this module
// (tsverify does not check section CRCs).
func CRC32MPEG2(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)

	for _, b := range data {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}

	return crc
}

// EncodePTS encodes a 33-bit 90kHz timestamp into the classic 5-byte MPEG
// split: a 3-15-15 bit layout, each group followed by a marker bit, with
// the top nibble set to markerNibble (0x2 for PTS-only, 0x3 for PTS when
// DTS is also present, 0x1 for DTS).
func EncodePTS(value int64, markerNibble byte) []byte {
	out := make([]byte, 5)

	out[0] = markerNibble<<4 | byte((value>>29)&0x0E) | 0x01
	out[1] = byte(value >> 22)
	out[2] = byte((value>>14)&0xFE) | 0x01
	out[3] = byte(value >> 7)
	out[4] = byte((value<<1)&0xFE) | 0x01

	return out
}

// EncodePCR encodes a PCR expressed in 27MHz ticks into its 6-byte wire
// form: a 33-bit 90kHz base, 6 reserved one-bits, and a 9-bit extension
// (ticks mod 300).
func EncodePCR(ticks27MHz int64) []byte {
	base := ticks27MHz / 300
	ext := ticks27MHz % 300

	out := make([]byte, 6)
	out[0] = byte(base >> 25)
	out[1] = byte(base >> 17)
	out[2] = byte(base >> 9)
	out[3] = byte(base >> 1)
	out[4] = byte(base<<7) | 0x7E | byte(ext>>8)
	out[5] = byte(ext)

	return out
}
