package externalcmd

import (
	"time"

	"github.com/aler9/tsmux/internal/hls"
	"github.com/aler9/tsmux/internal/logger"
)

// HookDelegate implements hls.Delegate, running configured shell commands
// on segment generation and on rotation.
type HookDelegate struct {
	hls.BaseDelegate

	Pool *Pool
	Log  logger.Writer

	RunOnSegment        string
	RunOnSegmentRestart bool
	RunOnRotate         string

	segmentDuration time.Duration
}

// NewHookDelegate allocates a HookDelegate.
func NewHookDelegate(pool *Pool, log logger.Writer, runOnSegment string, restart bool,
	runOnRotate string, segmentDuration time.Duration,
) *HookDelegate {
	return &HookDelegate{
		Pool:                pool,
		Log:                 log,
		RunOnSegment:        runOnSegment,
		RunOnSegmentRestart: restart,
		RunOnRotate:         runOnRotate,
		segmentDuration:     segmentDuration,
	}
}

func (h *HookDelegate) logf(level logger.Level, format string, args ...interface{}) {
	if h.Log != nil {
		h.Log.Log(level, "[hooks] "+format, args...)
	}
}

// DidGenerateTS implements hls.Delegate.
func (h *HookDelegate) DidGenerateTS(url string) {
	if h.RunOnSegment == "" {
		return
	}

	env := Environment{
		SegmentURL:      url,
		SegmentDuration: h.segmentDuration.String(),
		Discontinuous:   "false",
	}

	h.Pool.NewCmd(h.RunOnSegment, h.RunOnSegmentRestart, env, func(err error) {
		if err != nil {
			h.logf(logger.Warn, "runOnSegment exited: %v", err)
		}
	})
}

// WriterError implements hls.Delegate. A discontinuity-causing write
// failure is reported through the same runOnSegment hook with
// TSMUX_DISCONTINUOUS=true, since the next segment is the one that will
// carry EXT-X-DISCONTINUITY.
func (h *HookDelegate) WriterError(kind hls.ErrorKind, message string) {
	h.logf(logger.Error, "%s: %s", kind, message)

	if h.RunOnSegment == "" || (kind != hls.ErrWrite && kind != hls.ErrWriteToURL) {
		return
	}

	env := Environment{
		SegmentDuration: h.segmentDuration.String(),
		Discontinuous:   "true",
	}

	h.Pool.NewCmd(h.RunOnSegment, false, env, func(err error) {
		if err != nil {
			h.logf(logger.Warn, "runOnSegment exited: %v", err)
		}
	})
}

// DidRotate implements hls.Delegate.
func (h *HookDelegate) DidRotate(timestamp time.Duration) {
	if h.RunOnRotate == "" {
		return
	}

	env := Environment{
		SegmentDuration: h.segmentDuration.String(),
	}

	h.Pool.NewCmd(h.RunOnRotate, false, env, func(err error) {
		if err != nil {
			h.logf(logger.Warn, "runOnRotate exited: %v", err)
		}
	})
}
