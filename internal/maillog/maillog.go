// Package maillog forwards the diagnostic lines a mail transport produces to
// a structured logging sink, classifying each line by its two-character
// prefix.
package maillog

import (
	"fmt"
	"strings"
	"sync"
)

// Category tags every entry forwarded to a sink.
const Category = "mailbridge/transport"

// Prefixes a transport uses when writing diagnostic lines.
const (
	PrefixTrace   = "++"
	PrefixCommand = ">>"
	PrefixReply   = "<<"
	PrefixError   = "!!"
)

// Level is the severity of a diagnostic entry.
type Level int

const (
	LevelTrace Level = iota
	LevelInfo
	LevelWarning
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelWarning:
		return "warning"
	default:
		return "info"
	}
}

// Classify returns the severity of entry. Unknown prefixes, short entries
// and invalid UTF-8 are all info.
func Classify(entry string) Level {
	if len(entry) < 2 {
		return LevelInfo
	}
	switch entry[:2] {
	case PrefixTrace:
		return LevelTrace
	case PrefixCommand, PrefixReply:
		return LevelInfo
	case PrefixError:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// Sink receives classified entries.
type Sink interface {
	Log(entry string, level Level, category string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(entry string, level Level, category string)

// Log calls f.
func (f SinkFunc) Log(entry string, level Level, category string) {
	f(entry, level, category)
}

// Logger is the diagnostic logger handed to transports. A nil *Logger
// discards everything, so transports never need to check for one.
//
// Logger keeps no history: Clear is a no-op and Dump returns "". Storage is
// the sink's business.
type Logger struct {
	sink Sink

	mu      sync.Mutex
	partial []byte
}

// New returns a Logger forwarding to sink.
func New(sink Sink) *Logger {
	return &Logger{sink: sink}
}

// Add classifies entry and forwards it.
func (l *Logger) Add(entry string) {
	if l == nil || l.sink == nil {
		return
	}
	l.sink.Log(entry, Classify(entry), Category)
}

// Addf formats and adds an entry. The format normally starts with one of the
// Prefix constants.
func (l *Logger) Addf(format string, args ...any) {
	if l == nil || l.sink == nil {
		return
	}
	l.Add(fmt.Sprintf(format, args...))
}

// Clear does nothing.
func (l *Logger) Clear() {}

// Dump always returns an empty string.
func (l *Logger) Dump() string {
	return ""
}

// Write adds one entry per line of p. A trailing line without a newline is
// held until the next Write or Flush.
func (l *Logger) Write(p []byte) (int, error) {
	if l == nil {
		return len(p), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data := append(l.partial, p...)
	for {
		i := strings.IndexByte(string(data), '\n')
		if i < 0 {
			break
		}
		l.Add(strings.TrimRight(string(data[:i]), "\r"))
		data = data[i+1:]
	}
	l.partial = append([]byte(nil), data...)
	return len(p), nil
}

// Flush adds any buffered partial line.
func (l *Logger) Flush() {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.partial) > 0 {
		l.Add(strings.TrimRight(string(l.partial), "\r"))
		l.partial = nil
	}
}
