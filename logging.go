// Package-level configuration for structured logging.
//
// This design allows external integration with logging frameworks (logiface,
// zerolog, logrus, …) while providing a low-overhead built-in implementation
// for basic usage.
//
// Usage:
//
//	loop, err := fiberun.NewLoop(fiberun.WithLogger(fiberun.NewDefaultLogger(fiberun.LevelInfo)))

package fiberun

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// LogLevel represents the severity of a log message.
type LogLevel int32

const (
	// LevelDebug for detailed diagnostic information (poller wakeups, timer
	// arm/disarm, fiber state transitions).
	LevelDebug LogLevel = iota

	// LevelInfo for general informational messages.
	LevelInfo

	// LevelWarn for warning conditions (a retried syscall, a dropped
	// cancelled task).
	LevelWarn

	// LevelError for error conditions (epoll_wait failure, pool worker
	// fault).
	LevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// LogEntry represents a structured log entry emitted by a [Loop]'s internal
// diagnostics — poller errors, timer panics, pool worker faults.
type LogEntry struct {
	Level     LogLevel
	Category  string // "poller", "loop", "pool"
	LoopID    int64
	FiberID   int64
	TimerID   int64
	Context   map[string]interface{}
	Message   string
	Err       error
	Timestamp time.Time
}

// Logger is the structured logging interface a [Loop] reports its internal
// diagnostics through. The default, installed when [WithLogger] is omitted,
// is [NewDefaultLogger] at [LevelWarn].
type Logger interface {
	Log(entry LogEntry)
	IsEnabled(level LogLevel) bool
}

// levelColor maps a LogLevel to the ANSI escape sequence DefaultLogger uses
// for it when writing to a terminal.
var levelColor = map[LogLevel]string{
	LevelDebug: "\033[90m",
	LevelInfo:  "\033[36m",
	LevelWarn:  "\033[33m",
	LevelError: "\033[31m",
}

const (
	ansiReset = "\033[0m"
	ansiDim   = "\033[2m"
)

// DefaultLogger implements Logger by writing to an *os.File — an
// ANSI-colored line per entry when Out is attached to a terminal, or
// single-line JSON otherwise (suitable for piping into a log aggregator).
// It is the Logger a [Loop] uses when [WithLogger] is not supplied.
type DefaultLogger struct {
	level atomic.Int32
	mu    sync.Mutex
	Out   *os.File // Public field for testing
}

// NewDefaultLogger creates a logger writing to os.Stdout with the given
// minimum level.
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	l := &DefaultLogger{Out: os.Stdout}
	l.level.Store(int32(level))
	return l
}

// NewFileLogger creates a logger appending to filename.
func NewFileLogger(level LogLevel, filename string) (*DefaultLogger, error) {
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l := &DefaultLogger{Out: file}
	l.level.Store(int32(level))
	return l, nil
}

// SetLevel dynamically changes the minimum log level.
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// IsEnabled checks if the specified level would be logged.
func (l *DefaultLogger) IsEnabled(level LogLevel) bool {
	return level >= LogLevel(l.level.Load())
}

// Log writes a structured log entry.
func (l *DefaultLogger) Log(entry LogEntry) {
	if !l.IsEnabled(entry.Level) {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	var line string
	if isTerminal(l.Out) {
		line = formatPretty(entry)
	} else {
		line = formatJSON(entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.Out, line)
}

// writeIDsAndFields appends the loop/fiber/timer IDs (when non-zero) and any
// context fields to w, shared by DefaultLogger's pretty formatter and
// WriterLogger's text formatter.
func writeIDsAndFields(w io.Writer, entry LogEntry) {
	if entry.LoopID != 0 {
		fmt.Fprintf(w, " loop=%d", entry.LoopID)
	}
	if entry.FiberID != 0 {
		fmt.Fprintf(w, " fiber=%d", entry.FiberID)
	}
	if entry.TimerID != 0 {
		fmt.Fprintf(w, " timer=%d", entry.TimerID)
	}
	for k, v := range entry.Context {
		fmt.Fprintf(w, " %s=%v", k, v)
	}
}

func formatPretty(entry LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s%s %s [%-10s] %s%s",
		levelColor[entry.Level], entry.Level.String(), ansiReset,
		entry.Timestamp.Format("15:04:05.000"),
		entry.Category,
		entry.Message,
		ansiReset,
	)

	if len(entry.Context) > 0 || entry.LoopID != 0 || entry.FiberID != 0 || entry.TimerID != 0 {
		b.WriteString(ansiDim)
		writeIDsAndFields(&b, entry)
		b.WriteString(ansiReset)
	}

	if entry.Err != nil {
		fmt.Fprintf(&b, " %s%v%s\n", levelColor[LevelError], entry.Err, ansiReset)
	} else {
		b.WriteByte('\n')
	}
	return b.String()
}

func formatJSON(entry LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "{\"timestamp\":%s,\"level\":%s,\"category\":%s,\"message\":%s",
		strconv.Quote(entry.Timestamp.Format(time.RFC3339Nano)),
		strconv.Quote(entry.Level.String()),
		strconv.Quote(entry.Category),
		strconv.Quote(entry.Message),
	)

	if entry.LoopID != 0 {
		fmt.Fprintf(&b, ",\"loop\":%d", entry.LoopID)
	}
	if entry.FiberID != 0 {
		fmt.Fprintf(&b, ",\"fiber\":%d", entry.FiberID)
	}
	if entry.TimerID != 0 {
		fmt.Fprintf(&b, ",\"timer\":%d", entry.TimerID)
	}
	for k, v := range entry.Context {
		fmt.Fprintf(&b, ",%s:%s", strconv.Quote(k), strconv.Quote(fmt.Sprint(v)))
	}
	if entry.Err != nil {
		fmt.Fprintf(&b, ",\"error\":%s", strconv.Quote(entry.Err.Error()))
	}
	b.WriteString("}\n")
	return b.String()
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// LogEntryBuilder provides a fluent API for building log entries.
type LogEntryBuilder struct {
	entry LogEntry
}

// NewLogEntry creates a new log entry builder.
func NewLogEntry(level LogLevel, category string, message string) LogEntryBuilder {
	return LogEntryBuilder{
		entry: LogEntry{
			Level:     level,
			Category:  category,
			Message:   message,
			Context:   make(map[string]interface{}),
			Timestamp: time.Now(),
		},
	}
}

func (b LogEntryBuilder) LoopID(id int64) LogEntryBuilder {
	b.entry.LoopID = id
	return b
}

func (b LogEntryBuilder) FiberID(id int64) LogEntryBuilder {
	b.entry.FiberID = id
	return b
}

func (b LogEntryBuilder) TimerID(id int64) LogEntryBuilder {
	b.entry.TimerID = id
	return b
}

func (b LogEntryBuilder) Field(key string, value interface{}) LogEntryBuilder {
	b.entry.Context[key] = value
	return b
}

func (b LogEntryBuilder) Fields(fields map[string]interface{}) LogEntryBuilder {
	for k, v := range fields {
		b.entry.Context[k] = v
	}
	return b
}

func (b LogEntryBuilder) Err(err error) LogEntryBuilder {
	b.entry.Err = err
	return b
}

func (b LogEntryBuilder) Build() LogEntry {
	return b.entry
}

// NoopLogger discards everything. It is the zero-configuration default.
type NoopLogger struct{}

// NewNoopLogger returns a Logger that discards every entry.
func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (l *NoopLogger) Log(entry LogEntry) {}

func (l *NoopLogger) IsEnabled(level LogLevel) bool { return false }

// WriterLogger implements Logger using any io.Writer, formatting as a
// single text line per entry — handy in tests, where asserting against a
// *bytes.Buffer is simpler than parsing JSON.
type WriterLogger struct {
	level atomic.Int32
	mu    sync.Mutex
	out   io.Writer
}

// NewWriterLogger creates a logger writing to out.
func NewWriterLogger(level LogLevel, out io.Writer) *WriterLogger {
	l := &WriterLogger{out: out}
	l.level.Store(int32(level))
	return l
}

func (l *WriterLogger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

func (l *WriterLogger) IsEnabled(level LogLevel) bool {
	return level >= LogLevel(l.level.Load())
}

func (l *WriterLogger) Log(entry LogEntry) {
	if !l.IsEnabled(entry.Level) {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.logText(entry)
}

func (l *WriterLogger) logText(entry LogEntry) {
	fmt.Fprintf(l.out, "[%s] [%s] [%-10s] %s",
		entry.Level.String(),
		entry.Timestamp.Format("15:04:05.000"),
		entry.Category,
		entry.Message,
	)

	if len(entry.Context) > 0 || entry.LoopID != 0 || entry.FiberID != 0 || entry.TimerID != 0 {
		writeIDsAndFields(l.out, entry)
	}

	if entry.Err != nil {
		fmt.Fprintf(l.out, " err=%v\n", entry.Err)
	} else {
		fmt.Fprintln(l.out)
	}
}

// LogDebug logs a debug message through l, skipping formatting if disabled.
func LogDebug(l Logger, category, message string, fields map[string]interface{}) {
	if !l.IsEnabled(LevelDebug) {
		return
	}
	l.Log(LogEntry{Level: LevelDebug, Category: category, Message: message, Context: fields, Timestamp: time.Now()})
}

// LogInfo logs an info message through l.
func LogInfo(l Logger, category, message string, fields map[string]interface{}) {
	if !l.IsEnabled(LevelInfo) {
		return
	}
	l.Log(LogEntry{Level: LevelInfo, Category: category, Message: message, Context: fields, Timestamp: time.Now()})
}

// LogWarn logs a warning message through l.
func LogWarn(l Logger, category, message string, fields map[string]interface{}) {
	if !l.IsEnabled(LevelWarn) {
		return
	}
	l.Log(LogEntry{Level: LevelWarn, Category: category, Message: message, Context: fields, Timestamp: time.Now()})
}

// LogError logs an error message through l.
func LogError(l Logger, category, message string, err error, fields map[string]interface{}) {
	if !l.IsEnabled(LevelError) {
		return
	}
	l.Log(LogEntry{Level: LevelError, Category: category, Message: message, Err: err, Context: fields, Timestamp: time.Now()})
}

// logifaceLogger adapts a logiface.Logger[E] to the Logger interface, so a
// caller already standardized on logiface (or one of its zerolog/logrus
// backends) can route a Loop's internal diagnostics through it instead of
// maintaining a second logging pipeline — SPEC_FULL.md §7. It is generic
// over the event type so it works with any backend's Logger, not just the
// package's default Event.
type logifaceLogger[E logiface.Event] struct {
	l *logiface.Logger[E]
}

// NewLogifaceLogger adapts l into a Logger suitable for [WithLogger].
func NewLogifaceLogger[E logiface.Event](l *logiface.Logger[E]) Logger {
	return &logifaceLogger[E]{l: l}
}

func (a *logifaceLogger[E]) IsEnabled(level LogLevel) bool {
	b := a.l.Build(logLevelToLogiface(level))
	if b == nil {
		return false
	}
	b.Release()
	return true
}

func (a *logifaceLogger[E]) Log(entry LogEntry) {
	b := a.l.Build(logLevelToLogiface(entry.Level))
	if b == nil {
		return
	}
	b = b.Str("category", entry.Category)
	if entry.LoopID != 0 {
		b = b.Int64("loop", entry.LoopID)
	}
	if entry.FiberID != 0 {
		b = b.Int64("fiber", entry.FiberID)
	}
	if entry.TimerID != 0 {
		b = b.Int64("timer", entry.TimerID)
	}
	for k, v := range entry.Context {
		b = b.Any(k, v)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	b.Log(entry.Message)
}

func logLevelToLogiface(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
