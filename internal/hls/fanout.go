package hls

import "time"

// FanoutDelegate dispatches every Delegate callback to each delegate in
// Delegates, in order, the way the teacher registers both a pathManager and
// a metrics instance against the same server lifecycle event.
type FanoutDelegate struct {
	Delegates []Delegate
}

// DidOutput implements Delegate.
func (f FanoutDelegate) DidOutput(b []byte) {
	for _, d := range f.Delegates {
		d.DidOutput(b)
	}
}

// DidRotate implements Delegate.
func (f FanoutDelegate) DidRotate(timestamp time.Duration) {
	for _, d := range f.Delegates {
		d.DidRotate(timestamp)
	}
}

// DidGenerateTS implements Delegate.
func (f FanoutDelegate) DidGenerateTS(url string) {
	for _, d := range f.Delegates {
		d.DidGenerateTS(url)
	}
}

// DidGenerateM3U8 implements Delegate.
func (f FanoutDelegate) DidGenerateM3U8(url string) {
	for _, d := range f.Delegates {
		d.DidGenerateM3U8(url)
	}
}

// WriterError implements Delegate.
func (f FanoutDelegate) WriterError(kind ErrorKind, message string) {
	for _, d := range f.Delegates {
		d.WriterError(kind, message)
	}
}
