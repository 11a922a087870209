package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aler9/tsmux/internal/logger"
)

// writerConfig is the subset of configuration the segment writer needs.
type writerConfig struct {
	baseFolder      string
	segmentDuration time.Duration
	segmentMaxCount int
	segmentMaxSize  uint64
}

// segmentWriter owns the current segment file, the rotation state
// machine, the playlist, and the serial write queue. It also implements
// io.Writer so a mpegts.Generator can write directly into it: every call
// both taps the bytes to the delegate and posts the actual disk write to
// the write queue, so the producer is never blocked on disk I/O.
type segmentWriter struct {
	conf     writerConfig
	delegate Delegate
	log      logger.Writer

	queue    *writeQueue
	playlist *playlist

	mu               sync.Mutex
	started          bool
	rotating         int32 // CAS latch, 0=idle 1=rotating
	nextSeq          uint64
	currentFilename  string
	rotatedTimestamp time.Duration
	discontinuity    bool
	segStarted       bool
	segStartPTS      time.Duration
	segEndPTS        time.Duration
	segBytes         uint64
}

func newSegmentWriter(c writerConfig, delegate Delegate, log logger.Writer) *segmentWriter {
	return &segmentWriter{
		conf:     c,
		delegate: delegate,
		log:      log,
		queue:    newWriteQueue(),
		playlist: newPlaylist(c.segmentMaxCount, c.segmentDuration),
	}
}

// Write implements io.Writer. It is called synchronously by the
// mpegts.Generator for every TS packet batch it produces.
func (s *segmentWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	if s.segBytes+uint64(len(b)) > s.conf.segmentMaxSize {
		s.mu.Unlock()
		return 0, fmt.Errorf("reached maximum segment size")
	}
	s.segBytes += uint64(len(b))
	s.mu.Unlock()

	cp := append([]byte(nil), b...)

	if s.delegate != nil {
		s.delegate.DidOutput(cp)
	}

	s.queue.post(func() {
		if s.queue.file == nil {
			return
		}
		if _, err := s.queue.file.Write(cp); err != nil {
			s.reportError(ErrWrite, err)
		}
	})

	return len(b), nil
}

func (s *segmentWriter) reportError(kind ErrorKind, err error) {
	if s.log != nil {
		s.log.Log(logger.Warn, "%s: %v", kind, err)
	}
	if kind == ErrWrite || kind == ErrWriteToURL {
		s.mu.Lock()
		s.discontinuity = true
		s.mu.Unlock()
	}
	if s.delegate != nil {
		s.delegate.WriterError(kind, err.Error())
	}
}

func (s *segmentWriter) path(filename string) string {
	return filepath.Join(s.conf.baseFolder, filename)
}

// ensureStarted allocates the first segment file on the first accepted
// sample. It is a no-op on subsequent calls.
func (s *segmentWriter) ensureStarted(pts time.Duration, writeTables func() error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.rotatedTimestamp = pts
	filename := fmt.Sprintf("part%05d.ts", s.nextSeq)
	s.currentFilename = filename
	s.nextSeq++
	s.mu.Unlock()

	if s.conf.baseFolder != "" {
		s.queue.post(func() {
			f, err := os.Create(s.path(filename))
			if err != nil {
				s.reportError(ErrTempDirectory, err)
				return
			}
			s.queue.file = f
		})
	}

	if err := writeTables(); err != nil {
		s.reportError(ErrWrite, err)
	}
}

// maybeRotate evaluates the rotation rule and, if it fires, performs the
// rotation. writeTables is called (through the generator) once the new
// file is open, so PAT/PMT precede any media packet of the new segment.
func (s *segmentWriter) maybeRotate(pts time.Duration, randomAccess bool, writeTables func() error) {
	s.mu.Lock()
	need := s.started && randomAccess && (pts-s.rotatedTimestamp) > s.conf.segmentDuration
	alreadyRotating := atomic.LoadInt32(&s.rotating) == 1
	s.mu.Unlock()

	if !need || alreadyRotating {
		return
	}

	s.rotate(pts, writeTables)
}

func (s *segmentWriter) rotate(pts time.Duration, writeTables func() error) {
	if !atomic.CompareAndSwapInt32(&s.rotating, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&s.rotating, 0)

	s.mu.Lock()
	finishedFilename := s.currentFilename
	finishedDuration := pts - s.rotatedTimestamp
	disc := s.discontinuity
	s.discontinuity = false
	nextSeq := s.nextSeq
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)

	// task 1: playlist generation and pruning
	go func() {
		defer wg.Done()
		s.finishSegmentInPlaylist(finishedFilename, finishedDuration, disc)
	}()

	// task 2: roll the file handle
	newFilename := fmt.Sprintf("part%05d.ts", nextSeq)
	go func() {
		defer wg.Done()
		s.queue.post(func() {
			if s.queue.file != nil {
				if err := s.queue.file.Sync(); err != nil {
					s.reportError(ErrSyncAndClose, err)
				}
				if err := s.queue.file.Close(); err != nil {
					s.reportError(ErrSyncAndClose, err)
				}
				s.queue.file = nil
			}
			if s.conf.baseFolder != "" {
				f, err := os.Create(s.path(newFilename))
				if err != nil {
					s.reportError(ErrWrite, err)
					return
				}
				s.queue.file = f
			}
		})
	}()

	wg.Wait()

	if err := writeTables(); err != nil {
		s.reportError(ErrWrite, err)
	}

	s.mu.Lock()
	s.currentFilename = newFilename
	s.nextSeq++
	s.rotatedTimestamp = pts
	s.segStarted = false
	s.segBytes = 0
	s.mu.Unlock()

	if s.delegate != nil {
		s.delegate.DidRotate(pts)
	}
}

func (s *segmentWriter) finishSegmentInPlaylist(filename string, duration time.Duration, disc bool) {
	evicted, hasEvicted := s.playlist.append(entry{
		filename:      filename,
		duration:      duration,
		discontinuous: disc,
	})

	if hasEvicted && s.conf.baseFolder != "" {
		if err := os.Remove(s.path(evicted)); err != nil {
			s.reportError(ErrRemoveItem, err)
		}
	}

	text := s.playlist.render()
	if s.conf.baseFolder != "" {
		if err := os.WriteFile(s.path(PlaylistName), []byte(text), 0o644); err != nil {
			s.reportError(ErrWriteToURL, err)
		}
	}

	if s.delegate != nil {
		s.delegate.DidGenerateTS(filename)
		s.delegate.DidGenerateM3U8(PlaylistName)
	}
}

// recordSample tracks the PTS span of the segment currently being written,
// used to compute its real duration at rotation/stop time.
func (s *segmentWriter) recordSample(pts time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.segStarted {
		s.segStarted = true
		s.segStartPTS = pts
	}
	if pts > s.segEndPTS {
		s.segEndPTS = pts
	}
}

func (s *segmentWriter) markDiscontinuity() {
	s.mu.Lock()
	s.discontinuity = true
	s.mu.Unlock()
}

// stop flushes the current file and emits the final segment's playlist
// entry immediately, using the real, measured duration (not the nominal
// segment_duration), per the design decision recorded for this muxer.
// This must happen before close() tears down the write queue, so it runs
// synchronously rather than after the segment_duration+1s quiescence delay
// a live rotation uses: stop() is itself the end of the stream, there is
// no later sample that could still extend this segment.
func (s *segmentWriter) stop() {
	s.mu.Lock()
	started := s.started
	filename := s.currentFilename
	duration := s.segEndPTS - s.segStartPTS
	disc := s.discontinuity
	s.mu.Unlock()

	if !started {
		return
	}

	done := make(chan struct{})
	s.queue.post(func() {
		if s.queue.file != nil {
			if err := s.queue.file.Sync(); err != nil {
				s.reportError(ErrSyncAndClose, err)
			}
			if err := s.queue.file.Close(); err != nil {
				s.reportError(ErrSyncAndClose, err)
			}
			s.queue.file = nil
		}
		close(done)
	})
	<-done

	s.finishSegmentInPlaylist(filename, duration, disc)
}

// close stops the write queue goroutine. Call after stop().
func (s *segmentWriter) close() {
	s.queue.close()
}
