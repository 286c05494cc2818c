package maillog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
)

// SlogLevelTrace sits below slog.LevelDebug.
const SlogLevelTrace = slog.Level(-8)

// Sink names accepted by NewSink.
const (
	SinkSlog    = "slog"
	SinkZerolog = "zerolog"
	SinkLogrus  = "logrus"
)

// SlogSink writes entries to a slog.Logger.
type SlogSink struct {
	Logger *slog.Logger
}

// Log implements Sink.
func (s SlogSink) Log(entry string, level Level, category string) {
	var lvl slog.Level
	switch level {
	case LevelTrace:
		lvl = SlogLevelTrace
	case LevelWarning:
		lvl = slog.LevelWarn
	default:
		lvl = slog.LevelInfo
	}
	s.Logger.Log(context.Background(), lvl, entry, "category", category)
}

// ZerologSink writes entries to a zerolog.Logger.
type ZerologSink struct {
	Logger zerolog.Logger
}

// Log implements Sink.
func (s ZerologSink) Log(entry string, level Level, category string) {
	var lvl zerolog.Level
	switch level {
	case LevelTrace:
		lvl = zerolog.TraceLevel
	case LevelWarning:
		lvl = zerolog.WarnLevel
	default:
		lvl = zerolog.InfoLevel
	}
	s.Logger.WithLevel(lvl).Str("category", category).Msg(entry)
}

// LogrusSink writes entries to a logrus.Logger.
type LogrusSink struct {
	Logger *logrus.Logger
}

// Log implements Sink.
func (s LogrusSink) Log(entry string, level Level, category string) {
	var lvl logrus.Level
	switch level {
	case LevelTrace:
		lvl = logrus.TraceLevel
	case LevelWarning:
		lvl = logrus.WarnLevel
	default:
		lvl = logrus.InfoLevel
	}
	s.Logger.WithField("category", category).Log(lvl, entry)
}

// NewSink builds the sink called name. The slog sink uses base; the others
// write JSON to w and pass every level through.
func NewSink(name string, base *slog.Logger, w io.Writer) (Sink, error) {
	switch strings.ToLower(name) {
	case "", SinkSlog:
		if base == nil {
			base = slog.Default()
		}
		return SlogSink{Logger: base}, nil
	case SinkZerolog:
		return ZerologSink{
			Logger: zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp().Logger(),
		}, nil
	case SinkLogrus:
		l := logrus.New()
		l.SetOutput(w)
		l.SetFormatter(&logrus.JSONFormatter{})
		l.SetLevel(logrus.TraceLevel)
		return LogrusSink{Logger: l}, nil
	default:
		return nil, fmt.Errorf("unknown log sink %q", name)
	}
}
