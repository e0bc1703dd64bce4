package correlation

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/mcpbridge/errors"
)

func TestTable_ResolveOutOfOrder(t *testing.T) {
	table := NewTable()

	first, err := table.Expect("1", time.Minute)
	if err != nil {
		t.Fatalf("Expect(1): %v", err)
	}
	second, err := table.Expect("2", time.Minute)
	if err != nil {
		t.Fatalf("Expect(2): %v", err)
	}

	if !table.Resolve("2", json.RawMessage(`"two"`)) {
		t.Fatal("Resolve(2) should find entry")
	}
	if !table.Resolve("1", json.RawMessage(`"one"`)) {
		t.Fatal("Resolve(1) should find entry")
	}

	if got := string((<-first).Value); got != `"one"` {
		t.Errorf("first = %s, want \"one\"", got)
	}
	if got := string((<-second).Value); got != `"two"` {
		t.Errorf("second = %s, want \"two\"", got)
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0", table.Len())
	}
}

func TestTable_UnknownIDIsNoop(t *testing.T) {
	table := NewTable()
	ch, _ := table.Expect("known", time.Minute)

	if table.Resolve("unknown", json.RawMessage(`1`)) {
		t.Error("Resolve(unknown) should report miss")
	}
	if table.Reject("unknown", errors.Internal("x")) {
		t.Error("Reject(unknown) should report miss")
	}
	if !table.Pending("known") {
		t.Error("unrelated entry should remain pending")
	}

	select {
	case out := <-ch:
		t.Fatalf("known entry settled unexpectedly: %+v", out)
	default:
	}
}

func TestTable_SettlesExactlyOnce(t *testing.T) {
	table := NewTable()
	var successes, failures atomic.Int32

	err := table.Register("x",
		func(json.RawMessage) { successes.Add(1) },
		func(error) { failures.Add(1) },
		time.Minute,
	)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	table.Resolve("x", json.RawMessage(`true`))
	table.Resolve("x", json.RawMessage(`true`))
	table.Reject("x", errors.Internal("late"))

	if successes.Load() != 1 || failures.Load() != 0 {
		t.Errorf("successes=%d failures=%d, want 1/0", successes.Load(), failures.Load())
	}
}

func TestTable_TimeoutThenLateReply(t *testing.T) {
	table := NewTable()
	var failures atomic.Int32
	var successes atomic.Int32
	gotErr := make(chan error, 1)

	err := table.Register("slow",
		func(json.RawMessage) { successes.Add(1) },
		func(err error) {
			failures.Add(1)
			gotErr <- err
		},
		20*time.Millisecond,
	)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	select {
	case err := <-gotErr:
		if !errors.Is(err, errors.ErrCodeTimeout) {
			t.Errorf("err = %v, want TIMEOUT", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}

	if table.Resolve("slow", json.RawMessage(`"late"`)) {
		t.Error("late reply should find no entry")
	}
	if failures.Load() != 1 || successes.Load() != 0 {
		t.Errorf("failures=%d successes=%d, want 1/0", failures.Load(), successes.Load())
	}
}

func TestTable_ResolveStopsTimer(t *testing.T) {
	table := NewTable()
	var failures atomic.Int32

	table.Register("fast",
		func(json.RawMessage) {},
		func(error) { failures.Add(1) },
		20*time.Millisecond,
	)
	table.Resolve("fast", nil)

	time.Sleep(50 * time.Millisecond)
	if failures.Load() != 0 {
		t.Error("timer should have been cancelled on resolve")
	}
}

func TestTable_DuplicateID(t *testing.T) {
	table := NewTable()
	ch, _ := table.Expect("dup", time.Minute)

	_, err := table.Expect("dup", time.Minute)
	if !errors.Is(err, errors.ErrCodeConflict) {
		t.Fatalf("err = %v, want CONFLICT", err)
	}

	table.Resolve("dup", json.RawMessage(`1`))
	if out := <-ch; string(out.Value) != "1" {
		t.Errorf("original entry got %s", out.Value)
	}
}

func TestTable_RejectAll(t *testing.T) {
	table := NewTable()
	const n = 5
	chans := make([]<-chan Outcome, n)
	for i := 0; i < n; i++ {
		ch, err := table.Expect(string(rune('a'+i)), time.Minute)
		if err != nil {
			t.Fatalf("Expect: %v", err)
		}
		chans[i] = ch
	}

	if got := table.RejectAll(errors.Canceled("closed")); got != n {
		t.Errorf("RejectAll = %d, want %d", got, n)
	}
	for i, ch := range chans {
		out := <-ch
		if !errors.Is(out.Err, errors.ErrCodeCanceled) {
			t.Errorf("entry %d err = %v, want CANCELED", i, out.Err)
		}
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0", table.Len())
	}
}

func TestTable_TimeoutUsesLabel(t *testing.T) {
	table := NewTable(WithLabel(strings.ToUpper))
	ch, _ := table.Expect("req-7", 10*time.Millisecond)

	out := <-ch
	if !errors.Is(out.Err, errors.ErrCodeTimeout) {
		t.Fatalf("err = %v, want TIMEOUT", out.Err)
	}
	if !strings.Contains(out.Err.Error(), "request REQ-7 timed out") {
		t.Errorf("err = %v, want labelled id", out.Err)
	}
	if got := errors.GetMetadata(out.Err)[errors.MetaID]; got != "REQ-7" {
		t.Errorf("id metadata = %q", got)
	}
}

func TestTable_NoTimeoutNeverExpires(t *testing.T) {
	table := NewTable()
	ch, _ := table.Expect("forever", 0)

	select {
	case out := <-ch:
		t.Fatalf("entry without timeout settled: %+v", out)
	case <-time.After(30 * time.Millisecond):
	}
	if !table.Pending("forever") {
		t.Error("entry should still be pending")
	}
}

func TestTable_MissingCallbacks(t *testing.T) {
	table := NewTable()
	err := table.Register("x", nil, func(error) {}, 0)
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestTable_ConcurrentSettle(t *testing.T) {
	table := NewTable()
	var calls atomic.Int32
	table.Register("race",
		func(json.RawMessage) { calls.Add(1) },
		func(error) { calls.Add(1) },
		time.Millisecond,
	)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); table.Resolve("race", nil) }()
		go func() { defer wg.Done(); table.Reject("race", errors.Internal("x")) }()
	}
	wg.Wait()
	time.Sleep(10 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("callbacks invoked %d times, want 1", calls.Load())
	}
}
