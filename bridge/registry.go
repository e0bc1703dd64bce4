package bridge

import (
	"sync"
	"time"

	"github.com/vinayprograms/mcpbridge/errors"
)

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventRemoved EventType = "removed"
)

// Event represents a change in the registry.
type Event struct {
	Type     EventType
	Executor ExecutorInfo
}

// ExecutorInfo describes a connected executor.
type ExecutorInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Registry tracks connected executors in registration order. Select always
// returns the earliest one still connected.
type Registry struct {
	mu        sync.RWMutex
	executors []*Executor
	watchers  []chan Event
	closed    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends an executor.
func (r *Registry) Register(e *Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.Closed("registry closed")
	}
	for _, existing := range r.executors {
		if existing.ID() == e.ID() {
			return errors.Conflict("executor " + e.ID() + " already registered")
		}
	}

	r.executors = append(r.executors, e)
	r.notifyWatchers(Event{Type: EventAdded, Executor: e.Info()})
	return nil
}

// Deregister removes the executor with id. It reports whether it was present.
// Other executors and their in-flight commands are untouched.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.executors {
		if e.ID() != id {
			continue
		}
		r.executors = append(r.executors[:i:i], r.executors[i+1:]...)
		r.notifyWatchers(Event{Type: EventRemoved, Executor: e.Info()})
		return true
	}
	return false
}

// Select returns the first-registered executor.
func (r *Registry) Select() (*Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.executors) == 0 {
		return nil, false
	}
	return r.executors[0], true
}

// Get returns the executor with id.
func (r *Registry) Get(id string) (*Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.executors {
		if e.ID() == id {
			return e, true
		}
	}
	return nil, false
}

// Len returns the number of connected executors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// List returns connected executors in registration order.
func (r *Registry) List() []ExecutorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ExecutorInfo, len(r.executors))
	for i, e := range r.executors {
		out[i] = e.Info()
	}
	return out
}

func (r *Registry) snapshot() []*Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Executor(nil), r.executors...)
}

// Watch returns a channel of registry events.
func (r *Registry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.Closed("registry closed")
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

// Close empties the registry and closes watcher channels.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.executors = nil

	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	return nil
}

// notifyWatchers sends an event to all watchers.
// Must be called with lock held.
func (r *Registry) notifyWatchers(event Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}
