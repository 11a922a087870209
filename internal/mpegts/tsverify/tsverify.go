// Package tsverify provides independent, hand-rolled verification of
// MPEG-2 TS byte streams, used only from tests to confirm the bytes
// github.com/asticode/go-astits emits conform to the packetization
// invariants this muxer is built against.
package tsverify

import "fmt"

// Packet is a minimally-parsed TS packet.
type Packet struct {
	PID                       uint16
	PayloadUnitStartIndicator bool
	AdaptationFieldControl    byte
	ContinuityCounter         byte
	HasPayload                bool
	Payload                   []byte // raw 184-byte slot, including any adaptation field
}

// ParsePackets splits a byte stream into 188-byte TS packets and parses
// each header, failing if the stream is not packet-aligned or any sync
// byte is wrong.
func ParsePackets(b []byte) ([]Packet, error) {
	if len(b)%188 != 0 {
		return nil, fmt.Errorf("stream length %d is not a multiple of 188", len(b))
	}

	out := make([]Packet, 0, len(b)/188)

	for off := 0; off < len(b); off += 188 {
		p := b[off : off+188]

		if p[0] != 0x47 {
			return nil, fmt.Errorf("bad sync byte at packet %d: 0x%02X", off/188, p[0])
		}

		pid := uint16(p[1]&0x1F)<<8 | uint16(p[2])
		afc := (p[3] >> 4) & 0x03

		out = append(out, Packet{
			PID:                       pid,
			PayloadUnitStartIndicator: p[1]&0x40 != 0,
			AdaptationFieldControl:    afc,
			ContinuityCounter:         p[3] & 0x0F,
			HasPayload:                afc == 0x01 || afc == 0x03,
			Payload:                   p[4:],
		})
	}

	return out, nil
}

// CheckContinuity verifies that, for every PID, the continuity counter of
// consecutive payload-carrying packets increases by 1 mod 16.
func CheckContinuity(packets []Packet) error {
	last := map[uint16]int{}

	for i, p := range packets {
		if !p.HasPayload {
			continue
		}

		if prev, ok := last[p.PID]; ok {
			want := (prev + 1) % 16
			if int(p.ContinuityCounter) != want {
				return fmt.Errorf("packet %d (PID %d): continuity counter %d, want %d",
					i, p.PID, p.ContinuityCounter, want)
			}
		}

		last[p.PID] = int(p.ContinuityCounter)
	}

	return nil
}

// payloadStart skips any adaptation field at the front of a payload slot
// and, on payload-start packets, the PSI pointer_field, returning the
// section data that follows.
func payloadStart(p Packet) []byte {
	payload := p.Payload
	if p.AdaptationFieldControl == 0x03 && len(payload) > 0 {
		afLen := int(payload[0])
		if 1+afLen <= len(payload) {
			payload = payload[1+afLen:]
		}
	}
	if p.PayloadUnitStartIndicator && len(payload) > 0 {
		// pointer_field precedes PSI sections on payload-start packets.
		pointer := int(payload[0])
		if 1+pointer <= len(payload) {
			payload = payload[1+pointer:]
		}
	}
	return payload
}

// ExtractPMTPID parses the PAT (PID 0, first packet of a segment) and
// returns the program_map_PID for program_number 1.
func ExtractPMTPID(packets []Packet) (uint16, error) {
	for _, p := range packets {
		if p.PID != 0 || !p.PayloadUnitStartIndicator {
			continue
		}

		section := payloadStart(p)
		if len(section) < 12 {
			return 0, fmt.Errorf("PAT section too short")
		}

		sectionLength := int(section[1]&0x0F)<<8 | int(section[2])
		if 3+sectionLength > len(section) {
			return 0, fmt.Errorf("PAT section length out of range")
		}

		// program loop starts at byte 8, each entry is 4 bytes, CRC is the
		// trailing 4 bytes of the section.
		programsEnd := 3 + sectionLength - 4
		for off := 8; off+4 <= programsEnd; off += 4 {
			programNumber := int(section[off])<<8 | int(section[off+1])
			pid := uint16(section[off+2]&0x1F)<<8 | uint16(section[off+3])
			if programNumber != 0 {
				return pid, nil
			}
		}

		return 0, fmt.Errorf("PAT has no program entries")
	}

	return 0, fmt.Errorf("no PAT packet found")
}

// CheckPATPMTFirst verifies that the first two packets of a segment carry
// PAT (PID 0) and PMT (the PID named in the PAT) respectively, each with
// payload_unit_start_indicator set.
func CheckPATPMTFirst(packets []Packet) error {
	if len(packets) < 2 {
		return fmt.Errorf("segment has fewer than 2 packets")
	}

	if packets[0].PID != 0 || !packets[0].PayloadUnitStartIndicator {
		return fmt.Errorf("first packet is not a PAT with PUSI set (PID=%d, PUSI=%v)",
			packets[0].PID, packets[0].PayloadUnitStartIndicator)
	}

	pmtPID, err := ExtractPMTPID(packets[:1])
	if err != nil {
		return err
	}

	if packets[1].PID != pmtPID || !packets[1].PayloadUnitStartIndicator {
		return fmt.Errorf("second packet is not a PMT with PUSI set (PID=%d, want %d, PUSI=%v)",
			packets[1].PID, pmtPID, packets[1].PayloadUnitStartIndicator)
	}

	return nil
}

// SplitSegments splits a concatenated byte stream spanning several segment
// files back into one packet slice per file, using each PAT (PID 0, PUSI
// set) as a segment boundary. Continuity counters are only monotone within
// one such slice, never across the split points.
func SplitSegments(packets []Packet) [][]Packet {
	var segments [][]Packet
	var cur []Packet

	for _, p := range packets {
		if p.PID == 0 && p.PayloadUnitStartIndicator && len(cur) > 0 {
			segments = append(segments, cur)
			cur = nil
		}
		cur = append(cur, p)
	}

	if len(cur) > 0 {
		segments = append(segments, cur)
	}

	return segments
}
