// Package fsingest is a demo ingest source: it watches a directory for
// dropped elementary-stream dumps (raw Annex-B .h264 files, raw ADTS .aac
// files) and feeds each one into an internal/hls.Muxer as it appears,
// useful for exercising the muxer without a live RTMP encoder.
package fsingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aler9/tsmux/internal/hls"
	"github.com/aler9/tsmux/internal/logger"
	"github.com/aler9/tsmux/internal/mpegts"
)

// Watcher ingests files dropped into a directory.
type Watcher struct {
	dir   string
	muxer *hls.Muxer
	log   logger.Writer

	fsw    *fsnotify.Watcher
	dtsEst *mpegts.DTSEstimator
	frame  time.Duration
}

// New allocates a Watcher over dir. frameDuration is the constant spacing
// assumed between successive access units read from a dropped file (there
// is no timing information in a raw elementary-stream dump).
func New(dir string, frameDuration time.Duration, muxer *hls.Muxer, log logger.Writer) *Watcher {
	if frameDuration == 0 {
		frameDuration = 33 * time.Millisecond
	}
	return &Watcher{
		dir:    dir,
		muxer:  muxer,
		log:    log,
		dtsEst: mpegts.NewDTSEstimator(),
		frame:  frameDuration,
	}
}

// Start begins watching the directory in the background.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsingest: %w", err)
	}

	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("fsingest: watch %s: %w", w.dir, err)
	}

	w.fsw = fsw

	go w.run()

	return nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) logf(level logger.Level, format string, args ...interface{}) {
	if w.log != nil {
		w.log.Log(level, "[fsingest] "+format, args...)
	}
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if err := w.ingest(ev.Name); err != nil {
				w.logf(logger.Warn, "ingest %s: %v", ev.Name, err)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logf(logger.Warn, "watch error: %v", err)
		}
	}
}

func (w *Watcher) ingest(name string) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".h264":
		return w.ingestH264(name)
	case ".aac":
		return w.ingestAAC(name)
	default:
		return nil
	}
}

func (w *Watcher) ingestH264(name string) error {
	b, err := os.ReadFile(name)
	if err != nil {
		return err
	}

	aus := splitAnnexB(b)

	pts := time.Duration(0)
	for _, au := range aus {
		var nalus [][]byte
		for _, nalu := range au {
			switch mpegts.Type(nalu) {
			case mpegts.NALUTypeAUD:
				continue
			case mpegts.NALUTypeSPS, mpegts.NALUTypePPS:
				continue
			}
			nalus = append(nalus, nalu)
		}
		if len(nalus) == 0 {
			pts += w.frame
			continue
		}

		dts := w.dtsEst.Feed(pts)
		if err := w.muxer.WriteH264(pts, dts, nalus); err != nil {
			return err
		}
		pts += w.frame
	}

	return nil
}

func (w *Watcher) ingestAAC(name string) error {
	b, err := os.ReadFile(name)
	if err != nil {
		return err
	}

	pts := time.Duration(0)
	for len(b) > 0 {
		au, rest, err := stripADTSFrame(b)
		if err != nil {
			return err
		}
		if err := w.muxer.WriteAAC(pts, au); err != nil {
			return err
		}
		pts += 1024 * time.Second / 44100
		b = rest
	}

	return nil
}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// splitAnnexB splits a raw Annex-B byte stream into access units, where
// each access unit is the run of NAL units up to (not including) the next
// one whose type starts a new primary coded picture (here simplified to:
// every AUD or, absent AUDs, every VCL NALU starts a new access unit).
func splitAnnexB(b []byte) [][][]byte {
	var nalus [][]byte
	for i := 0; i < len(b); {
		idx := bytes.Index(b[i:], startCode)
		if idx < 0 {
			break
		}
		start := i + idx + len(startCode)
		next := bytes.Index(b[start:], startCode)
		var end int
		if next < 0 {
			end = len(b)
		} else {
			end = start + next
		}
		nalus = append(nalus, b[start:end])
		if next < 0 {
			break
		}
		i = end
	}

	hasAUD := false
	for _, nalu := range nalus {
		if mpegts.Type(nalu) == mpegts.NALUTypeAUD {
			hasAUD = true
			break
		}
	}

	var aus [][][]byte
	var cur [][]byte
	curHasVCL := false
	for _, nalu := range nalus {
		typ := mpegts.Type(nalu)
		vcl := typ >= mpegts.NALUTypeNonIDR && typ <= mpegts.NALUTypeIDR
		if len(cur) > 0 && ((hasAUD && typ == mpegts.NALUTypeAUD) || (!hasAUD && vcl && curHasVCL)) {
			aus = append(aus, cur)
			cur = nil
			curHasVCL = false
		}
		cur = append(cur, nalu)
		curHasVCL = curHasVCL || vcl
	}
	if len(cur) > 0 {
		aus = append(aus, cur)
	}

	return aus
}

// stripADTSFrame reads one ADTS-framed AAC access unit from the front of b
// and returns its raw payload (ADTS header stripped) plus the remainder.
func stripADTSFrame(b []byte) (au []byte, rest []byte, err error) {
	if len(b) < 7 {
		return nil, nil, fmt.Errorf("truncated ADTS header")
	}
	if b[0] != 0xFF || b[1]&0xF0 != 0xF0 {
		return nil, nil, fmt.Errorf("invalid ADTS sync word")
	}

	frameLen := int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5])>>5
	if frameLen < 7 || frameLen > len(b) {
		return nil, nil, fmt.Errorf("invalid ADTS frame length %d", frameLen)
	}

	return b[7:frameLen], b[frameLen:], nil
}
