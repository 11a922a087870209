// Package logger implements a leveled logger with colorized console output
// and an optional file destination.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
)

// Level is a log level.
type Level int

// log levels.
const (
	Debug Level = iota
	Info
	Warn
	Error
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case Debug:
		return "DEB"
	case Info:
		return "INF"
	case Warn:
		return "WAR"
	case Error:
		return "ERR"
	default:
		return "???"
	}
}

func (l Level) style() color.Style {
	switch l {
	case Debug:
		return color.New(color.FgGray)
	case Warn:
		return color.New(color.FgYellow)
	case Error:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgGreen)
	}
}

// Destination is a log output destination.
type Destination int

// log destinations.
const (
	DestinationStdout Destination = iota
	DestinationFile
)

// Destinations is a set of log destinations.
type Destinations map[Destination]struct{}

// Logger is a leveled, multi-destination logger.
type Logger struct {
	level        Level
	destinations Destinations
	file         io.WriteCloser

	mutex sync.Mutex
}

// New allocates a Logger.
func New(level Level, destinations Destinations, filePath string) (*Logger, error) {
	l := &Logger{
		level:        level,
		destinations: destinations,
	}

	if _, ok := destinations[DestinationFile]; ok {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		l.file = f
	}

	return l, nil
}

// Close closes a Logger.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Log writes a log line at the given level.
func (l *Logger) Log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := time.Now().Format("2006/01/02 15:04:05")
	line := fmt.Sprintf("%s %s %s", now, level, fmt.Sprintf(format, args...))

	if _, ok := l.destinations[DestinationStdout]; ok {
		level.style().Println(line)
	}

	if l.file != nil {
		fmt.Fprintln(l.file, line)
	}
}

// Writer is implemented by any component that wants to log through a
// prefixed, per-component label (the "[component name] " convention).
type Writer interface {
	Log(level Level, format string, args ...interface{})
}

// Prefixed wraps a Writer and prepends a fixed tag to every line.
type Prefixed struct {
	Tag    string
	Parent Writer
}

// Log implements Writer.
func (p *Prefixed) Log(level Level, format string, args ...interface{}) {
	p.Parent.Log(level, "[%s] "+format, append([]interface{}{p.Tag}, args...)...)
}
