package maillog

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	entry    string
	level    Level
	category string
}

type recorder struct {
	mu      sync.Mutex
	records []record
}

func (r *recorder) Log(entry string, level Level, category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record{entry, level, category})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		entry string
		want  Level
	}{
		{entry: ">> command sent", want: LevelInfo},
		{entry: "<< response received", want: LevelInfo},
		{entry: "++ transport started", want: LevelTrace},
		{entry: "!! error message", want: LevelWarning},
		{entry: "no prefix", want: LevelInfo},
		{entry: "", want: LevelInfo},
		{entry: "+", want: LevelInfo},
		{entry: "!", want: LevelInfo},
		{entry: "+-", want: LevelInfo},
		{entry: "\xff\xfe garbage", want: LevelInfo},
		{entry: "!!", want: LevelWarning},
	}

	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.entry))
		})
	}
}

func TestLogger_Add(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	l := New(rec)
	l.Add("++ transport started")
	l.Addf("%s MAIL FROM:<%s>", PrefixCommand, "a@example.com")
	l.Add("!! connection reset")

	require.Len(t, rec.records, 3)
	assert.Equal(t, record{"++ transport started", LevelTrace, Category}, rec.records[0])
	assert.Equal(t, record{">> MAIL FROM:<a@example.com>", LevelInfo, Category}, rec.records[1])
	assert.Equal(t, record{"!! connection reset", LevelWarning, Category}, rec.records[2])
}

func TestLogger_ClearAndDump(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	l := New(rec)
	l.Add(">> EHLO localhost")
	l.Clear()

	assert.Equal(t, "", l.Dump())
	assert.Len(t, rec.records, 1, "Clear must not touch the sink")
}

func TestLogger_Nil(t *testing.T) {
	t.Parallel()

	var l *Logger
	assert.NotPanics(t, func() {
		l.Add("++ nothing")
		l.Addf("%s %d", PrefixTrace, 1)
		l.Flush()
		n, err := l.Write([]byte("x\n"))
		assert.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	assert.NotPanics(t, func() { New(nil).Add("!! no sink") })
}

func TestLogger_Write(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	l := New(rec)

	_, err := io.WriteString(l, ">> EHLO localhost\r\n<< 250 ")
	require.NoError(t, err)
	require.Len(t, rec.records, 1)

	_, err = io.WriteString(l, "OK\n!! partial")
	require.NoError(t, err)
	require.Len(t, rec.records, 2)
	assert.Equal(t, "<< 250 OK", rec.records[1].entry)

	l.Flush()
	require.Len(t, rec.records, 3)
	assert.Equal(t, "!! partial", rec.records[2].entry)
	assert.Equal(t, LevelWarning, rec.records[2].level)
}

func TestSlogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: SlogLevelTrace}))
	l := New(SlogSink{Logger: base})

	l.Add("++ started")
	l.Add("!! failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "DEBUG-4", first["level"])
	assert.Equal(t, "++ started", first["msg"])
	assert.Equal(t, Category, first["category"])
	assert.Equal(t, "WARN", second["level"])
}

func TestNewSink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		wantLevel string
	}{
		{name: SinkZerolog, wantLevel: "trace"},
		{name: SinkLogrus, wantLevel: "trace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			sink, err := NewSink(tt.name, nil, &buf)
			require.NoError(t, err)

			New(sink).Add("++ transport started")

			var out map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
			assert.Equal(t, tt.wantLevel, out["level"])
			assert.Equal(t, Category, out["category"])
		})
	}

	sink, err := NewSink("", nil, io.Discard)
	require.NoError(t, err)
	assert.IsType(t, SlogSink{}, sink)

	_, err = NewSink("syslog", nil, io.Discard)
	assert.Error(t, err)
}
