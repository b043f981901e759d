package fiberun

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Contains(t, LogLevel(99).String(), "UNKNOWN")
}

func TestNoopLoggerDiscardsEverything(t *testing.T) {
	l := NewNoopLogger()
	assert.False(t, l.IsEnabled(LevelError))
	assert.NotPanics(t, func() { l.Log(LogEntry{Level: LevelError, Message: "boom"}) })
}

func TestWriterLoggerRespectsMinimumLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LevelWarn, &buf)

	l.Log(LogEntry{Level: LevelInfo, Category: "poller", Message: "ignored"})
	assert.Empty(t, buf.String())

	l.Log(LogEntry{Level: LevelWarn, Category: "poller", Message: "seen"})
	assert.Contains(t, buf.String(), "seen")
	assert.Contains(t, buf.String(), "[WARN]")
}

func TestWriterLoggerSetLevelChangesThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LevelError, &buf)
	assert.False(t, l.IsEnabled(LevelWarn))

	l.SetLevel(LevelDebug)
	assert.True(t, l.IsEnabled(LevelWarn))
}

func TestWriterLoggerIncludesLoopFiberTimerIDsAndError(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LevelDebug, &buf)

	l.Log(LogEntry{
		Level:    LevelError,
		Category: "pool",
		Message:  "worker fault",
		LoopID:   7,
		FiberID:  3,
		TimerID:  9,
		Err:      errors.New("disk full"),
	})

	out := buf.String()
	assert.Contains(t, out, "loop=7")
	assert.Contains(t, out, "fiber=3")
	assert.Contains(t, out, "timer=9")
	assert.Contains(t, out, "err=disk full")
}

func TestWriterLoggerOmitsZeroIDsAndNoErrSuffix(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LevelDebug, &buf)
	l.Log(LogEntry{Level: LevelInfo, Category: "clock", Message: "tick"})

	out := buf.String()
	assert.NotContains(t, out, "loop=")
	assert.NotContains(t, out, "err=")
	assert.True(t, strings.HasSuffix(out, "tick\n"))
}

func TestLogEntryBuilderAccumulatesFields(t *testing.T) {
	entry := NewLogEntry(LevelWarn, "async", "task cancelled").
		LoopID(1).
		FiberID(2).
		TimerID(3).
		Field("reason", "interrupted").
		Err(errors.New("x")).
		Build()

	assert.Equal(t, LevelWarn, entry.Level)
	assert.Equal(t, "async", entry.Category)
	assert.Equal(t, int64(1), entry.LoopID)
	assert.Equal(t, int64(2), entry.FiberID)
	assert.Equal(t, int64(3), entry.TimerID)
	assert.Equal(t, "interrupted", entry.Context["reason"])
	assert.Error(t, entry.Err)
}

func TestNewFileLoggerWritesJSONLines(t *testing.T) {
	path := t.TempDir() + "/loop.log"
	l, err := NewFileLogger(LevelDebug, path)
	require.NoError(t, err)
	defer l.Out.Close()

	l.Log(LogEntry{
		Level:    LevelError,
		Category: "pool",
		Message:  "worker fault",
		LoopID:   7,
		FiberID:  3,
		TimerID:  9,
		Err:      errors.New("disk full"),
	})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	// A regular file is never a terminal, so this exercises the JSON path —
	// every string field must come back properly quoted, unlike the bare
	// level token a naive %s format would have left unquoted.
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"category":"pool"`)
	assert.Contains(t, out, `"message":"worker fault"`)
	assert.Contains(t, out, `"loop":7`)
	assert.Contains(t, out, `"fiber":3`)
	assert.Contains(t, out, `"timer":9`)
	assert.Contains(t, out, `"error":"disk full"`)
	assert.True(t, strings.HasSuffix(strings.TrimRight(out, "\n"), "}"))
}

func TestDefaultLoggerRespectsMinimumLevel(t *testing.T) {
	path := t.TempDir() + "/loop.log"
	l, err := NewFileLogger(LevelWarn, path)
	require.NoError(t, err)
	defer l.Out.Close()

	l.Log(LogEntry{Level: LevelInfo, Category: "poller", Message: "ignored"})
	l.Log(LogEntry{Level: LevelWarn, Category: "poller", Message: "seen"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "ignored")
	assert.Contains(t, out, "seen")
}

func TestDefaultLoggerSetLevelChangesThreshold(t *testing.T) {
	l := NewDefaultLogger(LevelError)
	assert.False(t, l.IsEnabled(LevelWarn))

	l.SetLevel(LevelDebug)
	assert.True(t, l.IsEnabled(LevelWarn))
}

func TestDefaultLoggerOmitsErrorFieldWhenNil(t *testing.T) {
	path := t.TempDir() + "/loop.log"
	l, err := NewFileLogger(LevelDebug, path)
	require.NoError(t, err)
	defer l.Out.Close()

	l.Log(LogEntry{Level: LevelInfo, Category: "clock", Message: "tick"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\"error\"")
}

func TestLogHelpersSkipWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LevelError, &buf)

	LogDebug(l, "poller", "debug msg", nil)
	LogInfo(l, "poller", "info msg", nil)
	LogWarn(l, "poller", "warn msg", nil)
	assert.Empty(t, buf.String())

	LogError(l, "poller", "error msg", errors.New("fail"), nil)
	assert.Contains(t, buf.String(), "error msg")
}
