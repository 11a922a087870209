// Package rtmpsource accepts a single RTMP publisher connection and feeds
// its access units into an internal/hls.Muxer, adapting the decoding logic
// the teacher used for its RTSP-to-RTMP bridge to a muxer-only consumer.
package rtmpsource

import (
	"bufio"
	"fmt"
	"net"

	"github.com/notedit/rtmp/av"
	"github.com/notedit/rtmp/format/flv/flvio"
	"github.com/notedit/rtmp/format/rtmp"

	"github.com/aler9/tsmux/internal/hls"
	"github.com/aler9/tsmux/internal/logger"
	"github.com/aler9/tsmux/internal/mpegts"
)

const (
	codecH264 = 7
	codecAAC  = 10
)

// Source listens for a single RTMP publisher and writes its media into a
// Muxer for as long as the connection lasts.
type Source struct {
	address string
	muxer   *hls.Muxer
	log     logger.Writer

	ln net.Listener
}

// New allocates a Source bound to address (e.g. ":1935").
func New(address string, muxer *hls.Muxer, log logger.Writer) *Source {
	return &Source{address: address, muxer: muxer, log: log}
}

// Start opens the listener and begins accepting publishers in the
// background. It returns once the listener is bound.
func (s *Source) Start() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("rtmpsource: listen: %w", err)
	}
	s.ln = ln

	go s.run()

	return nil
}

// Close stops accepting new publishers.
func (s *Source) Close() error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Source) logf(level logger.Level, format string, args ...interface{}) {
	if s.log != nil {
		s.log.Log(level, "[rtmpsource] "+format, args...)
	}
}

func (s *Source) run() {
	for {
		nconn, err := s.ln.Accept()
		if err != nil {
			return
		}

		go func() {
			defer nconn.Close()
			if err := s.handle(nconn); err != nil {
				s.logf(logger.Warn, "publisher closed: %v", err)
			}
		}()
	}
}

func (s *Source) handle(nconn net.Conn) error {
	rw := &bufio.ReadWriter{
		Reader: bufio.NewReaderSize(nconn, 4096),
		Writer: bufio.NewWriterSize(nconn, 4096),
	}
	rconn := rtmp.NewConn(rw)

	if err := rconn.Prepare(rtmp.StageGotPublishOrPlayCommand, 0); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	if !rconn.Publishing {
		return fmt.Errorf("connection is not publishing")
	}

	hasVideo, hasAudio, err := readMetadata(rconn)
	if err != nil {
		return err
	}

	s.logf(logger.Info, "publisher connected, video=%v audio=%v", hasVideo, hasAudio)

	for {
		pkt, err := rconn.ReadPacket()
		if err != nil {
			return err
		}

		switch pkt.Type {
		case av.H264DecoderConfig:
			if err := s.muxer.OnVideoConfig(pkt.Data); err != nil {
				return fmt.Errorf("video config: %w", err)
			}

		case av.AACDecoderConfig:
			if err := s.muxer.OnAudioConfig(pkt.Data); err != nil {
				return fmt.Errorf("audio config: %w", err)
			}

		case av.H264:
			nalus, err := decodeAVCC(pkt.Data)
			if err != nil {
				return fmt.Errorf("decode AVCC: %w", err)
			}

			// SPS/PPS/AUD ride on the decoder-config packet and are
			// re-inserted by the generator before every IDR; the
			// per-sample stream only needs slice NALUs.
			var outNALUs [][]byte
			for _, nalu := range nalus {
				switch mpegts.Type(nalu) {
				case mpegts.NALUTypeSPS, mpegts.NALUTypePPS, mpegts.NALUTypeAUD:
					continue
				}
				outNALUs = append(outNALUs, nalu)
			}
			if len(outNALUs) == 0 {
				continue
			}

			dts := pkt.Time
			pts := pkt.Time + pkt.CTime
			if err := s.muxer.WriteH264(pts, dts, outNALUs); err != nil {
				return fmt.Errorf("write video: %w", err)
			}

		case av.AAC:
			if err := s.muxer.WriteAAC(pkt.Time, pkt.Data); err != nil {
				return fmt.Errorf("write audio: %w", err)
			}
		}
	}
}

// decodeAVCC splits a length-prefixed (4-byte big-endian) AVCC access unit
// into its constituent NAL units.
func decodeAVCC(b []byte) ([][]byte, error) {
	var nalus [][]byte

	for len(b) > 0 {
		if len(b) < 4 {
			return nil, fmt.Errorf("invalid AVCC length prefix")
		}

		naluLen := int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
		b = b[4:]

		if naluLen <= 0 || naluLen > len(b) {
			return nil, fmt.Errorf("invalid AVCC NALU length %d", naluLen)
		}

		nalus = append(nalus, b[:naluLen])
		b = b[naluLen:]
	}

	return nalus, nil
}

func readMetadata(rconn *rtmp.Conn) (hasVideo bool, hasAudio bool, err error) {
	pkt, err := rconn.ReadPacket()
	if err != nil {
		return false, false, err
	}

	if pkt.Type != av.Metadata {
		return false, false, fmt.Errorf("first packet must be metadata")
	}

	arr, err := flvio.ParseAMFVals(pkt.Data, false)
	if err != nil {
		return false, false, err
	}
	if len(arr) != 1 {
		return false, false, fmt.Errorf("invalid metadata")
	}

	md, ok := arr[0].(flvio.AMFMap)
	if !ok {
		return false, false, fmt.Errorf("invalid metadata")
	}

	if v, ok := md.GetV("videocodecid"); ok {
		switch vt := v.(type) {
		case float64:
			hasVideo = vt == codecH264
		case string:
			hasVideo = vt == "avc1"
		}
	}

	if v, ok := md.GetV("audiocodecid"); ok {
		switch vt := v.(type) {
		case float64:
			hasAudio = vt == codecAAC
		case string:
			hasAudio = vt == "mp4a"
		}
	}

	if !hasVideo && !hasAudio {
		return false, false, fmt.Errorf("stream announces no supported codec")
	}

	return hasVideo, hasAudio, nil
}
