package mpegts

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/asticode/go-astits"

	"github.com/aler9/tsmux/internal/conf"
)

// pcrGate is the minimum elapsed PTS between two PCR stampings on the PCR
// PID, per the spec's "≥20ms of elapsed stream time" rule.
const pcrGate = 20 * time.Millisecond

// pesTimestampOffset is added to every PTS/DTS handed to astits to keep
// the 33-bit field comfortably away from zero and from PCR, mirroring
// the teacher's pcrOffset safeguard against PCR > PTS at stream start.
const pesTimestampOffset = 700 * time.Millisecond

// Generator owns a go-astits Muxer and turns access units plus PTS/DTS
// into PAT/PMT/PES/TS bytes on the writer it was built with.
type Generator struct {
	mux *astits.Muxer
	w   io.Writer

	pids conf.PIDs

	videoCfg *AVCConfig
	audioCfg *AudioSpecificConfig

	pcrPID    uint16
	pcrLocked bool
	lastPCR   time.Duration
	havePCR   bool
}

// NewGenerator allocates a Generator writing to w.
func NewGenerator(w io.Writer, pids conf.PIDs) *Generator {
	return &Generator{
		mux:    astits.NewMuxer(context.Background(), w),
		w:      w,
		pids:   pids,
		pcrPID: uint16(pids.Video),
	}
}

// Reset rebuilds the underlying astits.Muxer from scratch, re-registering
// whichever elementary streams are already configured. go-astits tracks
// each PID's continuity counter for the lifetime of its Muxer, so this is
// what gives every new segment file its own continuity counters starting
// at 0 (the file-writer deviation from strict, stream-wide TS continuity
// noted for this muxer: segments begin aligned, and the rotation point is
// itself a random-access point so the discontinuity is harmless).
func (g *Generator) Reset() error {
	g.mux = astits.NewMuxer(context.Background(), g.w)
	g.havePCR = false
	g.lastPCR = 0

	if g.videoCfg != nil {
		if err := g.mux.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: uint16(g.pids.Video),
			StreamType:    astits.StreamTypeH264Video,
		}); err != nil {
			return fmt.Errorf("add video elementary stream: %w", err)
		}
	}

	if g.audioCfg != nil {
		if err := g.mux.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: uint16(g.pids.Audio),
			StreamType:    astits.StreamTypeAACAudio,
		}); err != nil {
			return fmt.Errorf("add audio elementary stream: %w", err)
		}
	}

	if g.videoCfg != nil || g.audioCfg != nil {
		g.mux.SetPCRPID(g.pcrPID)
	}

	return nil
}

// ConfigureVideo registers the H.264 elementary stream from a decoded AVC
// configuration record. It may be called again with a new configuration;
// the caller is responsible for signaling a discontinuity.
func (g *Generator) ConfigureVideo(cfg *AVCConfig) error {
	first := g.videoCfg == nil
	g.videoCfg = cfg

	if !first {
		return nil
	}

	if err := g.mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: uint16(g.pids.Video),
		StreamType:    astits.StreamTypeH264Video,
	}); err != nil {
		return fmt.Errorf("add video elementary stream: %w", err)
	}

	g.pcrPID = uint16(g.pids.Video)
	g.pcrLocked = true
	g.mux.SetPCRPID(g.pcrPID)

	return nil
}

// ConfigureAudio registers the AAC elementary stream from a decoded
// AudioSpecificConfig.
func (g *Generator) ConfigureAudio(cfg *AudioSpecificConfig) error {
	first := g.audioCfg == nil
	g.audioCfg = cfg

	if !first {
		return nil
	}

	if err := g.mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: uint16(g.pids.Audio),
		StreamType:    astits.StreamTypeAACAudio,
	}); err != nil {
		return fmt.Errorf("add audio elementary stream: %w", err)
	}

	if !g.pcrLocked {
		g.pcrPID = uint16(g.pids.Audio)
		g.mux.SetPCRPID(g.pcrPID)
	}

	return nil
}

// VideoConfigured reports whether a video configuration has arrived.
func (g *Generator) VideoConfigured() bool { return g.videoCfg != nil }

// AudioConfigured reports whether an audio configuration has arrived.
func (g *Generator) AudioConfigured() bool { return g.audioCfg != nil }

// WriteTables emits PAT and PMT immediately. The segment writer calls this
// once at the start of every new segment file so PSI always precedes
// media in that file.
func (g *Generator) WriteTables() error {
	_, err := g.mux.WriteTables()
	return err
}

func (g *Generator) pcrFor(pid uint16, pts time.Duration) *astits.ClockReference {
	if pid != g.pcrPID {
		return nil
	}

	if !g.havePCR || pts-g.lastPCR >= pcrGate {
		g.havePCR = true
		g.lastPCR = pts
		return &astits.ClockReference{Base: int64(pts.Seconds() * 90000)}
	}

	return nil
}

// WriteVideoSample packetizes one H.264 access unit. nalus are the access
// unit's NAL units, each without a length prefix or start code; idr
// indicates random access. Returns whether a PCR was stamped on this packet.
func (g *Generator) WriteVideoSample(pts, dts time.Duration, nalus [][]byte, idr bool) (bool, error) {
	if g.videoCfg == nil {
		return false, fmt.Errorf("video stream not configured")
	}

	enc := AnnexBEncode(nalus, idr, g.videoCfg)

	var af *astits.PacketAdaptationField
	if idr {
		af = &astits.PacketAdaptationField{RandomAccessIndicator: true}
	}

	pcr := g.pcrFor(uint16(g.pids.Video), pts)
	if pcr != nil {
		if af == nil {
			af = &astits.PacketAdaptationField{}
		}
		af.HasPCR = true
		af.PCR = pcr
	}

	oh := &astits.PESOptionalHeader{MarkerBits: 2}
	if dts == pts {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorOnlyPTS
		oh.PTS = &astits.ClockReference{Base: int64((pts + pesTimestampOffset).Seconds() * 90000)}
	} else {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorBothPresent
		oh.DTS = &astits.ClockReference{Base: int64((dts + pesTimestampOffset).Seconds() * 90000)}
		oh.PTS = &astits.ClockReference{Base: int64((pts + pesTimestampOffset).Seconds() * 90000)}
	}

	_, err := g.mux.WriteData(&astits.MuxerData{
		PID:             uint16(g.pids.Video),
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: oh,
				StreamID:       0xE0,
			},
			Data: enc,
		},
	})
	if err != nil {
		return false, err
	}

	return pcr != nil, nil
}

// WriteAudioSample packetizes one AAC access unit (raw, without ADTS
// framing — the ADTS header is synthesized here from the configured ASC).
func (g *Generator) WriteAudioSample(pts time.Duration, au []byte) (bool, error) {
	if g.audioCfg == nil {
		return false, fmt.Errorf("audio stream not configured")
	}

	enc := g.audioCfg.EncodeADTS(au)

	af := &astits.PacketAdaptationField{RandomAccessIndicator: true}

	pcr := g.pcrFor(uint16(g.pids.Audio), pts)
	if pcr != nil {
		af.HasPCR = true
		af.PCR = pcr
	}

	_, err := g.mux.WriteData(&astits.MuxerData{
		PID:             uint16(g.pids.Audio),
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             &astits.ClockReference{Base: int64((pts + pesTimestampOffset).Seconds() * 90000)},
				},
				PacketLength: uint16(len(enc) + 8),
				StreamID:     0xC0,
			},
			Data: enc,
		},
	})
	if err != nil {
		return false, err
	}

	return pcr != nil, nil
}
