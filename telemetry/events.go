// Package telemetry provides tracing and structured event export.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/vinayprograms/mcpbridge/logging"
)

// Event is one structured event as shipped to a sink.
type Event struct {
	Name      string                 `json:"name"`
	Level     logging.Level          `json:"level"`
	Component string                 `json:"component,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Sink is an event exporter that also satisfies logging.Observer, so it can
// be wired anywhere a component takes an observer.
type Sink interface {
	logging.Observer
	// Flush sends any buffered events.
	Flush() error
	// Close flushes and releases resources.
	Close() error
}

// NewSink creates a sink for protocol "http", "file" or "noop".
func NewSink(protocol, endpoint, component string) (Sink, error) {
	switch protocol {
	case "http":
		return NewHTTPSink(endpoint, component), nil
	case "file":
		return NewFileSink(endpoint, component)
	case "noop", "":
		return NoopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown telemetry protocol: %s", protocol)
	}
}

// --- HTTP Sink ---

// HTTPSink batches events and POSTs them as a JSON array.
type HTTPSink struct {
	endpoint  string
	component string
	client    *http.Client
	buffer    []Event
	batchSize int
	mu        sync.Mutex
}

// NewHTTPSink creates a new HTTP sink.
func NewHTTPSink(endpoint, component string) *HTTPSink {
	return &HTTPSink{
		endpoint:  endpoint,
		component: component,
		client:    &http.Client{Timeout: 10 * time.Second},
		buffer:    make([]Event, 0, 100),
		batchSize: 100,
	}
}

func (s *HTTPSink) Debug(event string, fields ...logging.Fields) {
	s.add(logging.LevelDebug, event, fields)
}
func (s *HTTPSink) Info(event string, fields ...logging.Fields) {
	s.add(logging.LevelInfo, event, fields)
}
func (s *HTTPSink) Warn(event string, fields ...logging.Fields) {
	s.add(logging.LevelWarn, event, fields)
}
func (s *HTTPSink) Error(event string, fields ...logging.Fields) {
	s.add(logging.LevelError, event, fields)
}

func (s *HTTPSink) add(level logging.Level, name string, fields []logging.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, newEvent(level, s.component, name, fields))
	if len(s.buffer) >= s.batchSize {
		s.flush()
	}
}

// Flush POSTs buffered events.
func (s *HTTPSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *HTTPSink) flush() error {
	if len(s.buffer) == 0 {
		return nil
	}

	data, err := json.Marshal(s.buffer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telemetry endpoint returned %d", resp.StatusCode)
	}

	s.buffer = s.buffer[:0]
	return nil
}

// Close flushes remaining events.
func (s *HTTPSink) Close() error {
	return s.Flush()
}

// --- File Sink ---

// FileSink appends events to a file as JSON lines.
type FileSink struct {
	component string
	file      *os.File
	mu        sync.Mutex
}

// NewFileSink opens (or creates) path for appending.
func NewFileSink(path, component string) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}
	return &FileSink{component: component, file: file}, nil
}

func (s *FileSink) Debug(event string, fields ...logging.Fields) {
	s.write(logging.LevelDebug, event, fields)
}
func (s *FileSink) Info(event string, fields ...logging.Fields) {
	s.write(logging.LevelInfo, event, fields)
}
func (s *FileSink) Warn(event string, fields ...logging.Fields) {
	s.write(logging.LevelWarn, event, fields)
}
func (s *FileSink) Error(event string, fields ...logging.Fields) {
	s.write(logging.LevelError, event, fields)
}

func (s *FileSink) write(level logging.Level, name string, fields []logging.Fields) {
	data, err := json.Marshal(newEvent(level, s.component, name, fields))
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Write(append(data, '\n'))
}

// Flush syncs the file.
func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Sync()
}

// Close syncs and closes the file.
func (s *FileSink) Close() error {
	s.Flush()
	return s.file.Close()
}

// --- Noop Sink ---

// NoopSink discards all events.
type NoopSink struct{}

func (NoopSink) Debug(string, ...logging.Fields) {}
func (NoopSink) Info(string, ...logging.Fields)  {}
func (NoopSink) Warn(string, ...logging.Fields)  {}
func (NoopSink) Error(string, ...logging.Fields) {}
func (NoopSink) Flush() error                    { return nil }
func (NoopSink) Close() error                    { return nil }

func newEvent(level logging.Level, component, name string, fields []logging.Fields) Event {
	e := Event{
		Name:      name,
		Level:     level,
		Component: component,
		Timestamp: time.Now().UTC(),
	}
	if len(fields) > 0 && fields[0] != nil {
		e.Data = make(map[string]interface{}, len(fields[0]))
		for k, v := range fields[0] {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			e.Data[k] = v
		}
	}
	return e
}
