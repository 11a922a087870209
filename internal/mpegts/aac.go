package mpegts

import "fmt"

var sampleRateTable = [16]int{
	96000, 88200, 64000, 48000,
	44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000,
	7350, 0, 0, 0,
}

// AudioSpecificConfig is a decoded MPEG-4 AudioSpecificConfig, the 2-byte
// (plus optional extension) descriptor delivered by the upstream audio
// encoder once per configuration change.
type AudioSpecificConfig struct {
	ObjectType    int
	SampleRate    int
	ChannelCount  int
	sampleRateIdx int
}

// DecodeAudioSpecificConfig parses the first two bytes of an ASC. Extended
// sampling-frequency and SBR/PS extensions are not supported, matching the
// spec's "2 bytes + optional extension" data model where the extension is
// opaque to the muxer.
func DecodeAudioSpecificConfig(byts []byte) (*AudioSpecificConfig, error) {
	if len(byts) < 2 {
		return nil, fmt.Errorf("AudioSpecificConfig too short")
	}

	objectType := int(byts[0] >> 3)
	sampleRateIdx := int(byts[0]&0x07)<<1 | int(byts[1]>>7)
	channelConfig := int(byts[1]>>3) & 0x0F

	if sampleRateIdx >= len(sampleRateTable) || sampleRateTable[sampleRateIdx] == 0 {
		return nil, fmt.Errorf("invalid sample rate index: %d", sampleRateIdx)
	}

	return &AudioSpecificConfig{
		ObjectType:    objectType,
		SampleRate:    sampleRateTable[sampleRateIdx],
		ChannelCount:  channelConfig,
		sampleRateIdx: sampleRateIdx,
	}, nil
}

// EncodeADTS synthesizes a 7-byte ADTS header (no CRC) whose frame_length
// covers the header plus payload, and returns the header followed by the
// payload.
func (c *AudioSpecificConfig) EncodeADTS(payload []byte) []byte {
	frameLen := 7 + len(payload)

	out := make([]byte, 7+len(payload))

	// MPEG-4 AAC, no CRC: syncword 0xFFF, ID=0, layer=00, protection_absent=1
	out[0] = 0xFF
	out[1] = 0xF1

	// profile (objectType - 1), sampling_frequency_index, private_bit=0,
	// channel_configuration (high bit)
	profile := c.ObjectType - 1
	out[2] = byte(profile<<6) | byte(c.sampleRateIdx<<2) | byte((c.ChannelCount>>2)&0x01)

	// channel_configuration (low 2 bits), original/copy=0, home=0,
	// copyright_id_bit=0, copyright_id_start=0, frame_length (high 2 bits)
	out[3] = byte((c.ChannelCount&0x03)<<6) | byte(frameLen>>11)

	// frame_length (middle 8 bits)
	out[4] = byte(frameLen >> 3)

	// frame_length (low 3 bits), buffer_fullness (high 5 bits of 0x7FF, VBR)
	out[5] = byte(frameLen<<5) | 0x1F

	// buffer_fullness (low 6 bits of 0x7FF), number_of_raw_data_blocks_in_frame-1=0
	out[6] = 0xFC

	copy(out[7:], payload)

	return out
}
