// Package hls implements the segment-rotation state machine and playlist
// manager that turns a github.com/aler9/tsmux/internal/mpegts.Generator
// into a running HLS muxer: segment files, a sliding-window m3u8
// playlist, and a delegate callback interface.
package hls

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aler9/tsmux/internal/conf"
	"github.com/aler9/tsmux/internal/logger"
	"github.com/aler9/tsmux/internal/mpegts"
)

// Config configures a Muxer.
type Config struct {
	SegmentDuration time.Duration
	SegmentMaxCount int
	SegmentMaxSize  uint64
	ExpectedMedias  conf.ExpectedMedias
	BaseFolder      string
	PIDs            conf.PIDs
}

// Muxer is a live MPEG-TS muxer plus HLS segment writer. It is created
// idle; Start arms it, Stop flushes and idles it again.
type Muxer struct {
	conf     Config
	delegate Delegate
	log      logger.Writer

	mu      sync.Mutex
	running bool
	runID   uuid.UUID

	gen    *mpegts.Generator
	writer *segmentWriter
}

// NewMuxer allocates a Muxer. delegate and log may be nil.
func NewMuxer(c Config, delegate Delegate, log logger.Writer) *Muxer {
	if delegate == nil {
		delegate = BaseDelegate{}
	}
	if c.PIDs == (conf.PIDs{}) {
		c.PIDs = conf.PIDs{PAT: 0, PMT: 4095, Video: 256, Audio: 257}
	}
	if c.SegmentDuration == 0 {
		c.SegmentDuration = 2 * time.Second
	}
	if c.SegmentMaxCount == 0 {
		c.SegmentMaxCount = 10000
	}
	if c.SegmentMaxSize == 0 {
		c.SegmentMaxSize = 50 * 1024 * 1024
	}

	return &Muxer{
		conf:     c,
		delegate: delegate,
		log:      log,
	}
}

func (m *Muxer) logf(level logger.Level, format string, args ...interface{}) {
	if m.log != nil {
		m.log.Log(level, "[muxer %s] "+format, append([]interface{}{m.shortID()}, args...)...)
	}
}

func (m *Muxer) shortID() string {
	if m.runID == uuid.Nil {
		return "-"
	}
	return m.runID.String()[:8]
}

// Start transitions the muxer from idle to running exactly once; a second
// call while running is a no-op.
func (m *Muxer) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.running = true
	m.runID = uuid.New()

	m.writer = newSegmentWriter(writerConfig{
		baseFolder:      m.conf.BaseFolder,
		segmentDuration: m.conf.SegmentDuration,
		segmentMaxCount: m.conf.SegmentMaxCount,
		segmentMaxSize:  m.conf.SegmentMaxSize,
	}, m.delegate, m.log)

	m.gen = mpegts.NewGenerator(m.writer, m.conf.PIDs)

	m.logf(logger.Info, "started")
}

// Stop flushes the current segment file, resets counters, and clears
// configs. Calling Stop twice is a no-op after the first.
func (m *Muxer) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	w := m.writer
	m.gen = nil
	m.writer = nil
	m.mu.Unlock()

	if w != nil {
		w.stop()
		w.close()
	}

	m.logf(logger.Info, "stopped")
}

// onNewSegment rebuilds gen's continuity-counter state for a fresh segment
// file, then writes the PAT/PMT that must precede any media packet of it.
func onNewSegment(gen *mpegts.Generator) func() error {
	return func() error {
		if err := gen.Reset(); err != nil {
			return err
		}
		return gen.WriteTables()
	}
}

// canWriteFor implements the can_write_for gate.
func (m *Muxer) canWriteFor() bool {
	if len(m.conf.ExpectedMedias) == 0 {
		return m.gen.VideoConfigured() || m.gen.AudioConfigured()
	}

	if _, ok := m.conf.ExpectedMedias[conf.MediaVideo]; ok && !m.gen.VideoConfigured() {
		return false
	}
	if _, ok := m.conf.ExpectedMedias[conf.MediaAudio]; ok && !m.gen.AudioConfigured() {
		return false
	}

	return true
}

// OnVideoConfig registers a new AVC configuration record (SPS/PPS). A
// reconfiguration after streaming has already started marks a
// discontinuity: PMT is re-emitted at the next segment start and the next
// playlist entry carries EXT-X-DISCONTINUITY.
func (m *Muxer) OnVideoConfig(avcConfig []byte) error {
	cfg, err := mpegts.DecodeAVCConfig(avcConfig)
	if err != nil {
		m.logf(logger.Warn, "invalid AVC config: %v", err)
		return err
	}

	m.mu.Lock()
	gen := m.gen
	w := m.writer
	m.mu.Unlock()

	if gen == nil {
		return fmt.Errorf("muxer not running")
	}

	reconfig := gen.VideoConfigured()

	if err := gen.ConfigureVideo(cfg); err != nil {
		return err
	}

	if reconfig && w != nil {
		w.markDiscontinuity()
	}

	return nil
}

// OnAudioConfig registers a new AudioSpecificConfig.
func (m *Muxer) OnAudioConfig(asc []byte) error {
	cfg, err := mpegts.DecodeAudioSpecificConfig(asc)
	if err != nil {
		m.logf(logger.Warn, "invalid AudioSpecificConfig: %v", err)
		return err
	}

	m.mu.Lock()
	gen := m.gen
	w := m.writer
	m.mu.Unlock()

	if gen == nil {
		return fmt.Errorf("muxer not running")
	}

	reconfig := gen.AudioConfigured()

	if err := gen.ConfigureAudio(cfg); err != nil {
		return err
	}

	if reconfig && w != nil {
		w.markDiscontinuity()
	}

	return nil
}

// WriteH264 writes one access unit given as separate H.264 NAL units, each
// without a length prefix or start code.
func (m *Muxer) WriteH264(pts, dts time.Duration, nalus [][]byte) error {
	m.mu.Lock()
	running := m.running
	gen, w := m.gen, m.writer
	m.mu.Unlock()

	if !running {
		return fmt.Errorf("muxer not running")
	}
	if !m.canWriteFor() {
		return nil
	}

	idr := mpegts.IDRPresent(nalus)

	w.ensureStarted(pts, gen.WriteTables)
	w.maybeRotate(pts, idr, onNewSegment(gen))

	if _, err := gen.WriteVideoSample(pts, dts, nalus, idr); err != nil {
		return err
	}

	w.recordSample(pts)
	return nil
}

// WriteAAC writes one AAC access unit (raw, ADTS-less payload).
func (m *Muxer) WriteAAC(pts time.Duration, au []byte) error {
	m.mu.Lock()
	running := m.running
	gen, w := m.gen, m.writer
	m.mu.Unlock()

	if !running {
		return fmt.Errorf("muxer not running")
	}
	if !m.canWriteFor() {
		return nil
	}

	// A segment boundary occurs only on a video IDR once video is
	// configured; an audio AU must never start a rotation mid-GOP, even
	// though every audio AU is itself a random-access point.
	audioCanRotate := !gen.VideoConfigured()

	w.ensureStarted(pts, gen.WriteTables)
	w.maybeRotate(pts, audioCanRotate, onNewSegment(gen))

	if _, err := gen.WriteAudioSample(pts, au); err != nil {
		return err
	}

	w.recordSample(pts)
	return nil
}
