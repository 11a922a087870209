package hls

import "time"

// ErrorKind classifies a non-fatal I/O failure reported through a
// Delegate's WriterError callback.
type ErrorKind int

// error kinds.
const (
	ErrTempDirectory ErrorKind = iota
	ErrRemoveItem
	ErrWrite
	ErrWriteToURL
	ErrSyncAndClose
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTempDirectory:
		return "tempDirectory"
	case ErrRemoveItem:
		return "removeItem"
	case ErrWrite:
		return "write"
	case ErrWriteToURL:
		return "writeToUrl"
	case ErrSyncAndClose:
		return "syncAndClose"
	default:
		return "unknown"
	}
}

// Delegate receives muxer lifecycle events. Every method is optional: embed
// BaseDelegate to get no-op defaults and override only what is needed.
type Delegate interface {
	DidOutput(b []byte)
	DidRotate(timestamp time.Duration)
	DidGenerateTS(url string)
	DidGenerateM3U8(url string)
	WriterError(kind ErrorKind, message string)
}

// BaseDelegate is a Delegate whose methods all do nothing. Embed it to
// implement only the callbacks of interest.
type BaseDelegate struct{}

// DidOutput implements Delegate.
func (BaseDelegate) DidOutput(b []byte) {}

// DidRotate implements Delegate.
func (BaseDelegate) DidRotate(timestamp time.Duration) {}

// DidGenerateTS implements Delegate.
func (BaseDelegate) DidGenerateTS(url string) {}

// DidGenerateM3U8 implements Delegate.
func (BaseDelegate) DidGenerateM3U8(url string) {}

// WriterError implements Delegate.
func (BaseDelegate) WriterError(kind ErrorKind, message string) {}
