// Package correlation matches asynchronous replies to the requests that
// caused them.
//
// A Table holds one entry per outstanding identifier. Each entry settles
// exactly once: by Resolve, by Reject, or by its timer. Whichever comes first
// removes the entry under the lock, so a late reply or a second timer fire
// finds nothing and does nothing.
package correlation

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/vinayprograms/mcpbridge/errors"
)

// Outcome is the terminal result of a pending request.
type Outcome struct {
	Value json.RawMessage
	Err   error
}

type entry struct {
	onSuccess func(json.RawMessage)
	onFailure func(error)
	timer     *time.Timer
}

// Table maps outstanding request identifiers to completion callbacks.
// It is safe for concurrent use. Callbacks run outside the table lock.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
	label   func(id string) string
}

// Option configures a Table.
type Option func(*Table)

// WithLabel sets how an identifier is shown in TIMEOUT errors. Use it when
// table keys are an internal encoding of the caller-visible identifier.
func WithLabel(label func(id string) string) Option {
	return func(t *Table) {
		t.label = label
	}
}

// NewTable creates an empty table.
func NewTable(opts ...Option) *Table {
	t := &Table{entries: make(map[string]*entry)}
	for _, opt := range opts {
		opt(t)
	}
	if t.label == nil {
		t.label = func(id string) string { return id }
	}
	return t
}

// Register stores callbacks for id and, when timeout > 0, starts a timer
// that rejects the entry with a TIMEOUT error. Registering an id that is
// already pending returns a CONFLICT error and leaves the existing entry alone.
func (t *Table) Register(id string, onSuccess func(json.RawMessage), onFailure func(error), timeout time.Duration) error {
	if onSuccess == nil || onFailure == nil {
		return errors.InvalidInput("correlation: both callbacks are required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		return errors.Conflict("correlation: identifier "+id+" is already pending",
			errors.WithMetadata(errors.MetaID, id))
	}

	e := &entry{onSuccess: onSuccess, onFailure: onFailure}
	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() {
			t.expire(id, e, timeout)
		})
	}
	t.entries[id] = e
	return nil
}

// Expect registers id and returns a channel that receives its single Outcome.
func (t *Table) Expect(id string, timeout time.Duration) (<-chan Outcome, error) {
	ch := make(chan Outcome, 1)
	err := t.Register(id,
		func(v json.RawMessage) { ch <- Outcome{Value: v} },
		func(err error) { ch <- Outcome{Err: err} },
		timeout,
	)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Resolve settles id successfully. It reports whether an entry was pending.
func (t *Table) Resolve(id string, value json.RawMessage) bool {
	e := t.take(id)
	if e == nil {
		return false
	}
	e.onSuccess(value)
	return true
}

// Reject settles id with err. It reports whether an entry was pending.
func (t *Table) Reject(id string, err error) bool {
	e := t.take(id)
	if e == nil {
		return false
	}
	e.onFailure(err)
	return true
}

// RejectAll settles every pending entry with err and returns how many there were.
func (t *Table) RejectAll(err error) int {
	t.mu.Lock()
	drained := make([]*entry, 0, len(t.entries))
	for id, e := range t.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(t.entries, id)
		drained = append(drained, e)
	}
	t.mu.Unlock()

	for _, e := range drained {
		e.onFailure(err)
	}
	return len(drained)
}

// Pending reports whether id is awaiting an outcome.
func (t *Table) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// Len returns the number of pending entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// take removes id and stops its timer.
func (t *Table) take(id string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e
}

// expire runs on the timer goroutine. The entry pointer check guards against
// an id that was settled and re-registered before this timer's callback ran.
func (t *Table) expire(id string, e *entry, after time.Duration) {
	t.mu.Lock()
	current, ok := t.entries[id]
	if !ok || current != e {
		t.mu.Unlock()
		return
	}
	delete(t.entries, id)
	t.mu.Unlock()

	e.onFailure(errors.Timeout(t.label(id), after))
}
