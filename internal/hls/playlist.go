package hls

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PlaylistName is the fixed filename of the generated media playlist.
const PlaylistName = "ScreenRecording.m3u8"

// entry is one finished segment as listed in the media playlist.
type entry struct {
	filename      string
	duration      time.Duration
	discontinuous bool
}

// playlist is a bounded sliding-window HLS v3 media playlist.
type playlist struct {
	entries         []entry
	sequence        uint64 // total finished segments ever appended
	segmentMaxCount int
	nominalDuration time.Duration
}

func newPlaylist(segmentMaxCount int, nominalDuration time.Duration) *playlist {
	return &playlist{
		segmentMaxCount: segmentMaxCount,
		nominalDuration: nominalDuration,
	}
}

// append adds a finished segment and prunes the oldest one if the window
// is full, returning its filename if one was evicted.
func (p *playlist) append(e entry) (evicted string, hasEvicted bool) {
	p.entries = append(p.entries, e)
	p.sequence++

	if len(p.entries) > p.segmentMaxCount {
		evicted = p.entries[0].filename
		hasEvicted = true
		p.entries = p.entries[1:]
	}

	return
}

// mediaSequence returns the current EXT-X-MEDIA-SEQUENCE value.
func (p *playlist) mediaSequence() uint64 {
	return p.sequence - uint64(len(p.entries))
}

// targetDuration returns the current EXT-X-TARGETDURATION value: at least
// the nominal segment duration, and at least one second over the longest
// entry currently listed that exceeds the nominal duration.
func (p *playlist) targetDuration() int {
	td := int(math.Ceil(p.nominalDuration.Seconds()))

	for _, e := range p.entries {
		if e.duration <= p.nominalDuration {
			continue
		}
		if d := int(math.Ceil(e.duration.Seconds())) + 1; d > td {
			td = d
		}
	}

	return td
}

// render serializes the playlist as HLS v3 text with CRLF line endings.
func (p *playlist) render() string {
	var b strings.Builder

	writeLine := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\r\n")
	}

	writeLine("#EXTM3U")
	writeLine("#EXT-X-VERSION:3")
	writeLine("#EXT-X-MEDIA-SEQUENCE:%d", p.mediaSequence())
	writeLine("#EXT-X-TARGETDURATION:%d", p.targetDuration())

	for _, e := range p.entries {
		if e.discontinuous {
			writeLine("#EXT-X-DISCONTINUITY")
		}
		writeLine("#EXTINF:%.3f,", e.duration.Seconds())
		writeLine("%s", e.filename)
	}

	return b.String()
}
