package hls

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aler9/tsmux/internal/conf"
	"github.com/aler9/tsmux/internal/mpegts/tsverify"
)

// recordingDelegate captures every byte and event emitted by a Muxer so
// tests can assert on them without touching disk.
type recordingDelegate struct {
	BaseDelegate
	output         []byte
	rotations      int
	rotationStamps []time.Duration
	tsURLs         []string
	m3u8URLs       []string
	errors         []ErrorKind
}

func (d *recordingDelegate) DidOutput(b []byte) { d.output = append(d.output, b...) }
func (d *recordingDelegate) DidRotate(timestamp time.Duration) {
	d.rotations++
	d.rotationStamps = append(d.rotationStamps, timestamp)
}
func (d *recordingDelegate) DidGenerateTS(url string)          { d.tsURLs = append(d.tsURLs, url) }
func (d *recordingDelegate) DidGenerateM3U8(url string)        { d.m3u8URLs = append(d.m3u8URLs, url) }
func (d *recordingDelegate) WriterError(k ErrorKind, s string) { d.errors = append(d.errors, k) }

var testASC = []byte{0x12, 0x10} // AAC-LC, 44100Hz, stereo

var testAVCConfig = func() []byte {
	sps := []byte{0x67, 0x42, 0xC0, 0x1E}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	b := []byte{0x01, 0x42, 0xC0, 0x1E, 0xFF, 0xE1}
	b = append(b, byte(len(sps)>>8), byte(len(sps)))
	b = append(b, sps...)
	b = append(b, 0x01, byte(len(pps)>>8), byte(len(pps)))
	b = append(b, pps...)
	return b
}()

func TestMuxerAudioOnlySingleSegment(t *testing.T) {
	delegate := &recordingDelegate{}
	m := NewMuxer(Config{SegmentDuration: 2 * time.Second}, delegate, nil)
	m.Start()
	defer m.Stop()

	require.NoError(t, m.OnAudioConfig(testASC))

	for i := 0; i < 10; i++ {
		pts := time.Duration(i) * 1024 * time.Second / 44100
		require.NoError(t, m.WriteAAC(pts, []byte{0x01, 0x02, 0x03}))
	}

	require.Equal(t, 0, delegate.rotations)

	packets, err := tsverify.ParsePackets(delegate.output)
	require.NoError(t, err)
	require.NoError(t, tsverify.CheckContinuity(packets))
	require.NoError(t, tsverify.CheckPATPMTFirst(packets))
}

func TestMuxerVideoIDRTriggeredRotation(t *testing.T) {
	delegate := &recordingDelegate{}
	m := NewMuxer(Config{SegmentDuration: 1 * time.Second}, delegate, nil)
	m.Start()
	defer m.Stop()

	require.NoError(t, m.OnVideoConfig(testAVCConfig))

	pts := time.Duration(0)
	require.NoError(t, m.WriteH264(pts, pts, [][]byte{{0x65, 0x01}}))

	for pts < 1190*time.Millisecond {
		pts += 33 * time.Millisecond
		require.NoError(t, m.WriteH264(pts, pts, [][]byte{{0x41, 0x01}}))
	}

	require.NoError(t, m.WriteH264(1200*time.Millisecond, 1200*time.Millisecond, [][]byte{{0x65, 0x01}}))

	require.Equal(t, 1, delegate.rotations)

	packets, err := tsverify.ParsePackets(delegate.output)
	require.NoError(t, err)

	segments := tsverify.SplitSegments(packets)
	require.Len(t, segments, 2)
	for _, seg := range segments {
		require.NoError(t, tsverify.CheckContinuity(seg))
		require.NoError(t, tsverify.CheckPATPMTFirst(seg))
	}
}

// TestMuxerAudioDoesNotRotateMidGOP exercises a mixed audio+video stream:
// a run of audio AUs that alone crosses the segment duration threshold
// must not trigger a rotation while video is configured, even though
// every audio AU is individually a random-access point. Only the next
// video IDR rotates.
func TestMuxerAudioDoesNotRotateMidGOP(t *testing.T) {
	delegate := &recordingDelegate{}
	m := NewMuxer(Config{SegmentDuration: 1 * time.Second}, delegate, nil)
	m.Start()
	defer m.Stop()

	require.NoError(t, m.OnVideoConfig(testAVCConfig))
	require.NoError(t, m.OnAudioConfig(testASC))

	pts := time.Duration(0)
	require.NoError(t, m.WriteH264(pts, pts, [][]byte{{0x65, 0x01}}))

	audioPTS := time.Duration(0)
	for audioPTS < 1500*time.Millisecond {
		audioPTS += 1024 * time.Second / 44100
		require.NoError(t, m.WriteAAC(audioPTS, []byte{0x01, 0x02, 0x03}))
	}

	require.Equal(t, 0, delegate.rotations, "audio AUs must not rotate mid-GOP once video is configured")

	require.NoError(t, m.WriteH264(1600*time.Millisecond, 1600*time.Millisecond, [][]byte{{0x65, 0x01}}))
	require.Equal(t, 1, delegate.rotations)

	packets, err := tsverify.ParsePackets(delegate.output)
	require.NoError(t, err)

	segments := tsverify.SplitSegments(packets)
	require.Len(t, segments, 2)
	for _, seg := range segments {
		require.NoError(t, tsverify.CheckContinuity(seg))
		require.NoError(t, tsverify.CheckPATPMTFirst(seg))
	}
}

// TestMuxerContinuityResetsPerSegment exercises seed scenario 3: feeding
// IDRs that trigger three rotations (four files), continuity counters must
// restart at 0 at the start of each new file (the file-writer deviation
// from strict, stream-wide TS continuity) while staying monotone within a
// file.
func TestMuxerContinuityResetsPerSegment(t *testing.T) {
	delegate := &recordingDelegate{}
	m := NewMuxer(Config{SegmentDuration: 1 * time.Second}, delegate, nil)
	m.Start()
	defer m.Stop()

	require.NoError(t, m.OnVideoConfig(testAVCConfig))

	pts := time.Duration(0)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.WriteH264(pts, pts, [][]byte{{0x65, 0x01}}))
		pts += 1100 * time.Millisecond
	}

	require.Equal(t, 3, delegate.rotations)

	packets, err := tsverify.ParsePackets(delegate.output)
	require.NoError(t, err)

	segments := tsverify.SplitSegments(packets)
	require.Len(t, segments, 4)

	for _, seg := range segments {
		require.NoError(t, tsverify.CheckContinuity(seg))
		require.NoError(t, tsverify.CheckPATPMTFirst(seg))

		for _, p := range seg {
			if p.PID == uint16(256) && p.HasPayload {
				require.EqualValues(t, 0, p.ContinuityCounter,
					"first video packet of a new segment must restart CC at 0")
				break
			}
		}
	}
}

// TestMuxerMidStreamReconfigMarksDiscontinuity exercises seed scenario 4: a
// video reconfiguration after streaming has already started must surface
// as EXT-X-DISCONTINUITY on the next completed playlist entry.
func TestMuxerMidStreamReconfigMarksDiscontinuity(t *testing.T) {
	delegate := &recordingDelegate{}
	m := NewMuxer(Config{SegmentDuration: 1 * time.Second}, delegate, nil)
	m.Start()
	defer m.Stop()

	require.NoError(t, m.OnVideoConfig(testAVCConfig))

	pts := time.Duration(0)
	require.NoError(t, m.WriteH264(pts, pts, [][]byte{{0x65, 0x01}}))

	// deliver a new AVC config mid-stream
	require.NoError(t, m.OnVideoConfig(testAVCConfig))
	require.True(t, m.writer.discontinuity)

	pts = 1200 * time.Millisecond
	require.NoError(t, m.WriteH264(pts, pts, [][]byte{{0x65, 0x01}}))

	require.Equal(t, 1, delegate.rotations)
	require.Contains(t, m.writer.playlist.render(), "#EXT-X-DISCONTINUITY")
}

func TestMuxerExpectedMediasGate(t *testing.T) {
	delegate := &recordingDelegate{}
	m := NewMuxer(Config{
		ExpectedMedias: conf.ExpectedMedias{conf.MediaAudio: {}, conf.MediaVideo: {}},
	}, delegate, nil)
	m.Start()
	defer m.Stop()

	require.NoError(t, m.OnAudioConfig(testASC))
	require.NoError(t, m.WriteAAC(0, []byte{0x01}))

	require.Empty(t, delegate.output)

	require.NoError(t, m.OnVideoConfig(testAVCConfig))
	require.NoError(t, m.WriteH264(0, 0, [][]byte{{0x65, 0x01}}))

	require.NotEmpty(t, delegate.output)
}

func TestMuxerSlidingWindowOverflow(t *testing.T) {
	tmp, err := os.MkdirTemp("", "tsmux-test")
	require.NoError(t, err)
	defer os.RemoveAll(tmp)

	delegate := &recordingDelegate{}
	m := NewMuxer(Config{
		SegmentDuration: 100 * time.Millisecond,
		SegmentMaxCount: 3,
		BaseFolder:      tmp,
	}, delegate, nil)
	m.Start()
	defer m.Stop()

	require.NoError(t, m.OnVideoConfig(testAVCConfig))

	pts := time.Duration(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.WriteH264(pts, pts, [][]byte{{0x65, 0x01}}))
		pts += 150 * time.Millisecond
		require.NoError(t, m.WriteH264(pts, pts, [][]byte{{0x65, 0x01}}))
	}

	require.LessOrEqual(t, len(m.writer.playlist.entries), 3)
}

func TestMuxerStopIdempotent(t *testing.T) {
	m := NewMuxer(Config{}, nil, nil)
	m.Start()
	require.NoError(t, m.OnAudioConfig(testASC))
	require.NoError(t, m.WriteAAC(0, []byte{0x01}))
	m.Stop()
	m.Stop()
}
