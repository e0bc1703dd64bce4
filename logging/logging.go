// Package logging provides the structured-observability collaborator used by
// the transports and the bridge, and a plain-text Logger that implements it.
//
// Components never write to the console directly. They emit named events with
// a severity and a field map through an Observer; wiring decides where those
// events go.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a config string to a Level. Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Fields carries structured context for an event.
type Fields = map[string]interface{}

// Observer receives structured events. Implementations must be safe for
// concurrent use.
type Observer interface {
	Debug(event string, fields ...Fields)
	Info(event string, fields ...Fields)
	Warn(event string, fields ...Fields)
	Error(event string, fields ...Fields)
}

type discard struct{}

func (discard) Debug(string, ...Fields) {}
func (discard) Info(string, ...Fields)  {}
func (discard) Warn(string, ...Fields)  {}
func (discard) Error(string, ...Fields) {}

// Discard returns an Observer that drops every event.
func Discard() Observer {
	return discard{}
}

// OrDiscard returns o, or Discard() when o is nil.
func OrDiscard(o Observer) Observer {
	if o == nil {
		return discard{}
	}
	return o
}

// Tee returns an Observer that forwards every event to each non-nil observer.
func Tee(observers ...Observer) Observer {
	var out tee
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return discard{}
	case 1:
		return out[0]
	}
	return out
}

type tee []Observer

func (t tee) Debug(event string, fields ...Fields) {
	for _, o := range t {
		o.Debug(event, fields...)
	}
}

func (t tee) Info(event string, fields ...Fields) {
	for _, o := range t {
		o.Info(event, fields...)
	}
}

func (t tee) Warn(event string, fields ...Fields) {
	for _, o := range t {
		o.Warn(event, fields...)
	}
}

func (t tee) Error(event string, fields ...Fields) {
	for _, o := range t {
		o.Error(event, fields...)
	}
}

// Logger writes events as single lines: LEVEL TIMESTAMP [component] event key=value ...
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

var _ Observer = (*Logger)(nil)

// New creates a new Logger writing to stderr at INFO.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stderr,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
// The returned logger shares output and its lock with the parent.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug event.
func (l *Logger) Debug(event string, fields ...Fields) {
	l.log(LevelDebug, event, fields...)
}

// Info logs an info event.
func (l *Logger) Info(event string, fields ...Fields) {
	l.log(LevelInfo, event, fields...)
}

// Warn logs a warning event.
func (l *Logger) Warn(event string, fields ...Fields) {
	l.log(LevelWarn, event, fields...)
}

// Error logs an error event.
func (l *Logger) Error(event string, fields ...Fields) {
	l.log(LevelError, event, fields...)
}

// formatFields formats fields as key=value pairs sorted by key.
func formatFields(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, event string, fields ...Fields) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, event, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, event, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}
