package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogServiceLoggerLevels(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: LevelTrace}))
	logger := NewSlogServiceLogger(base).With(LogFields{"role": "publisher"})

	logger.Trace("tick", nil)
	logger.Debug("dial", LogFields{"attempt": 2})
	logger.Info("connected", nil)
	logger.Warn("unroutable", LogFields{"routing_key": "nowhere"})
	logger.Error("failed", errors.New("boom"), nil)

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "level=DEBUG-4")
	assert.Contains(t, lines[1], "attempt=2")
	assert.Contains(t, lines[3], "level=WARN")
	assert.Contains(t, lines[3], "routing_key=nowhere")
	assert.Contains(t, lines[4], "error=boom")
	for _, line := range lines {
		assert.Contains(t, line, "role=publisher")
	}
}

func TestSlogServiceLoggerNestedWith(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.New(slog.NewTextHandler(buf, nil))
	logger := NewSlogServiceLogger(base).
		With(LogFields{"role": "consumer"}).
		With(LogFields{"queue": "api"})

	logger.Info("consuming", LogFields{"prefetch": 1})

	out := buf.String()
	assert.Contains(t, out, "role=consumer")
	assert.Contains(t, out, "queue=api")
	assert.Contains(t, out, "prefetch=1")
}

func TestSlogServiceLoggerWithNilFieldsReturnsSame(t *testing.T) {
	logger := NewSlogServiceLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	assert.Same(t, logger, logger.With(nil))
}

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := &recordingWatermillLogger{}
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "watermill"})
	logger.Info("info", nil)
	logger.Warn("warn", LogFields{"queue": "api"})
	logger.Trace("trace", LogFields{"trace": true})
	logger.Error("oops", errors.New("boom"), LogFields{"failed": true})
	logger.With(LogFields{"child": "yes"}).Info("child_info", nil)

	entries := base.snapshot()
	require.Len(t, entries, 6)
	assert.Equal(t, "debug", entries[0].level)
	assert.Equal(t, "watermill", entries[0].fields["component"])
	assert.Equal(t, "info", entries[2].level)
	assert.Equal(t, "warn", entries[2].fields["severity"])
	assert.Equal(t, "api", entries[2].fields["queue"])
	assert.Equal(t, "error", entries[4].level)
	assert.Equal(t, "yes", entries[5].fields["child"])
}

func TestConstructorsPanicOnNil(t *testing.T) {
	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}

func TestWatermillAdapterDelegates(t *testing.T) {
	base := &recordingWatermillLogger{}
	adapter := NewWatermillAdapter(NewWatermillServiceLogger(base))

	adapter.Debug("dbg", watermill.LogFields{"k": "v"})
	adapter.Info("info", nil)
	adapter.Trace("trace", nil)
	adapter.Error("err", errors.New("boom"), nil)
	adapter.With(watermill.LogFields{"child": "yes"}).Info("child_info", nil)

	entries := base.snapshot()
	require.Len(t, entries, 5)
	assert.Equal(t, "v", entries[0].fields["k"])
	assert.Equal(t, "yes", entries[4].fields["child"])
}

func TestNopLoggerAcceptsEverything(t *testing.T) {
	logger := NopLogger()
	logger.With(LogFields{"a": 1}).Warn("ignored", nil)
	logger.Error("ignored", errors.New("x"), nil)
}

type watermillEntry struct {
	level  string
	msg    string
	err    error
	fields watermill.LogFields
}

type recordingWatermillLogger struct {
	mu      *sync.Mutex
	entries *[]watermillEntry
	fields  watermill.LogFields
}

func (r *recordingWatermillLogger) init() {
	if r.mu == nil {
		r.mu = &sync.Mutex{}
		r.entries = &[]watermillEntry{}
	}
}

func (r *recordingWatermillLogger) record(level, msg string, err error, fields watermill.LogFields) {
	r.init()
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, watermillEntry{level: level, msg: msg, err: err, fields: r.fields.Add(fields)})
}

func (r *recordingWatermillLogger) snapshot() []watermillEntry {
	r.init()
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]watermillEntry(nil), *r.entries...)
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record("error", msg, err, fields)
}

func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record("info", msg, nil, fields)
}

func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record("debug", msg, nil, fields)
}

func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record("trace", msg, nil, fields)
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	r.init()
	return &recordingWatermillLogger{mu: r.mu, entries: r.entries, fields: r.fields.Add(fields)}
}
