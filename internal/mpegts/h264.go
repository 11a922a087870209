package mpegts

import (
	"encoding/binary"
	"fmt"
	"time"
)

// NALUType is a H.264 NAL unit type (the low 5 bits of the NAL header byte).
type NALUType int

// NAL unit types relevant to access-unit framing.
const (
	NALUTypeNonIDR NALUType = 1
	NALUTypeIDR    NALUType = 5
	NALUTypeSEI    NALUType = 6
	NALUTypeSPS    NALUType = 7
	NALUTypePPS    NALUType = 8
	NALUTypeAUD    NALUType = 9
)

// Type returns the NAL unit type carried in a NAL unit's header byte.
func Type(nalu []byte) NALUType {
	if len(nalu) == 0 {
		return 0
	}
	return NALUType(nalu[0] & 0x1F)
}

// IDRPresent reports whether any NALU in the access unit is an IDR slice.
func IDRPresent(nalus [][]byte) bool {
	for _, nalu := range nalus {
		if Type(nalu) == NALUTypeIDR {
			return true
		}
	}
	return false
}

// AVCConfig is a decoded AVCDecoderConfigurationRecord (ISO/IEC 14496-15),
// carrying the SPS/PPS NAL units prepended to IDR access units.
type AVCConfig struct {
	SPS [][]byte
	PPS [][]byte
}

// DecodeAVCConfig parses an AVCDecoderConfigurationRecord.
func DecodeAVCConfig(byts []byte) (*AVCConfig, error) {
	if len(byts) < 7 {
		return nil, fmt.Errorf("AVC config too short")
	}

	pos := 5
	numSPS := int(byts[pos] & 0x1F)
	pos++

	c := &AVCConfig{}

	for i := 0; i < numSPS; i++ {
		if pos+2 > len(byts) {
			return nil, fmt.Errorf("AVC config: truncated SPS length")
		}
		l := int(binary.BigEndian.Uint16(byts[pos:]))
		pos += 2
		if pos+l > len(byts) {
			return nil, fmt.Errorf("AVC config: truncated SPS")
		}
		c.SPS = append(c.SPS, byts[pos:pos+l])
		pos += l
	}

	if pos >= len(byts) {
		return nil, fmt.Errorf("AVC config: missing PPS count")
	}
	numPPS := int(byts[pos])
	pos++

	for i := 0; i < numPPS; i++ {
		if pos+2 > len(byts) {
			return nil, fmt.Errorf("AVC config: truncated PPS length")
		}
		l := int(binary.BigEndian.Uint16(byts[pos:]))
		pos += 2
		if pos+l > len(byts) {
			return nil, fmt.Errorf("AVC config: truncated PPS")
		}
		c.PPS = append(c.PPS, byts[pos:pos+l])
		pos += l
	}

	return c, nil
}

// audNALU is the fixed 2-byte payload of an AUD NAL unit signaling a
// primary-coded picture of unknown slice types, prepended ahead of every
// IDR access unit.
var audNALU = []byte{0x09, 0xF0}

// AnnexBEncode converts a sequence of NAL units (each without a length
// prefix or start code) into an Annex-B byte stream, preceding each with
// a 0x00000001 start code. When idrPresent, an AUD NALU and the given
// SPS/PPS NAL units are prepended, matching the order AUD, SPS..., PPS...,
// then the original NALUs.
func AnnexBEncode(nalus [][]byte, idrPresent bool, cfg *AVCConfig) []byte {
	startCode := []byte{0x00, 0x00, 0x00, 0x01}

	total := 0
	var all [][]byte

	if idrPresent {
		all = append(all, audNALU)
		all = append(all, cfg.SPS...)
		all = append(all, cfg.PPS...)
	}
	all = append(all, nalus...)

	for _, n := range all {
		total += len(startCode) + len(n)
	}

	out := make([]byte, 0, total)
	for _, n := range all {
		out = append(out, startCode...)
		out = append(out, n...)
	}

	return out
}

// DTSEstimator estimates a monotonically consistent DTS from PTS values
// when the upstream producer does not supply an explicit DTS, following
// the common two-frame-reorder-buffer heuristic: DTS trails PTS by the
// largest PTS jump seen over the last couple of frames.
type DTSEstimator struct {
	prevPTS  time.Duration
	prevDTS  time.Duration
	initated bool
}

// NewDTSEstimator allocates a DTSEstimator.
func NewDTSEstimator() *DTSEstimator {
	return &DTSEstimator{}
}

// Feed computes a DTS for the given PTS.
func (e *DTSEstimator) Feed(pts time.Duration) time.Duration {
	if !e.initated {
		e.initated = true
		e.prevPTS = pts
		e.prevDTS = pts
		return pts
	}

	dts := e.prevDTS + (pts-e.prevPTS)/2
	if dts > pts {
		dts = pts
	}

	e.prevPTS = pts
	e.prevDTS = dts
	return dts
}
