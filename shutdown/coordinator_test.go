package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBasicShutdownWithSingleHandler(t *testing.T) {
	coord := NewCoordinator(DefaultConfig(), nil)

	called := false
	coord.RegisterFunc("test", PhaseBridge, func(ctx context.Context) error {
		called = true
		return nil
	})

	if err := coord.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected handler to be called")
	}

	select {
	case <-coord.Done():
	default:
		t.Fatal("expected Done channel to be closed")
	}
	if coord.Err() != nil {
		t.Fatalf("expected Err() to be nil, got %v", coord.Err())
	}

	result := coord.Result()
	if result == nil || len(result.Results) != 1 || result.Results[0].Name != "test" {
		t.Fatalf("Result() = %+v", result)
	}
	if result.Failed() {
		t.Fatal("expected result.Failed() to be false")
	}
}

func TestPhasesRunInOrder(t *testing.T) {
	coord := NewCoordinator(DefaultConfig(), nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	coord.RegisterFunc("telemetry", PhaseTelemetry, record("telemetry"))
	coord.RegisterFunc("mcp", PhaseClients, record("mcp"))
	coord.RegisterFunc("listener", PhaseListener, record("listener"))
	coord.RegisterFunc("bridge", PhaseBridge, record("bridge"))

	if err := coord.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatal(err)
	}

	want := []string{"listener", "bridge", "mcp", "telemetry"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

func TestSamePhaseRunsConcurrently(t *testing.T) {
	coord := NewCoordinator(DefaultConfig(), nil)

	var running, peak int32
	for _, name := range []string{"a", "b", "c"} {
		coord.RegisterFunc(name, PhaseClients, func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}

	if err := coord.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatal(err)
	}
	if peak < 2 {
		t.Errorf("peak concurrency = %d, want >= 2", peak)
	}
}

func TestHandlerFailure(t *testing.T) {
	tests := []struct {
		name            string
		continueOnError bool
		wantLaterRun    bool
	}{
		{"continue", true, true},
		{"stop", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ContinueOnError = tt.continueOnError
			coord := NewCoordinator(cfg, nil)

			coord.RegisterFunc("bridge", PhaseBridge, func(context.Context) error {
				return errors.New("close failed")
			})
			laterRan := false
			coord.RegisterFunc("telemetry", PhaseTelemetry, func(context.Context) error {
				laterRan = true
				return nil
			})

			err := coord.ShutdownWithTimeout(time.Second)
			if !errors.Is(err, ErrHandlerFailed) {
				t.Fatalf("err = %v, want ErrHandlerFailed", err)
			}
			if laterRan != tt.wantLaterRun {
				t.Errorf("later phase ran = %v, want %v", laterRan, tt.wantLaterRun)
			}
			if failed := coord.Result().FailedHandlers(); len(failed) != 1 || failed[0] != "bridge" {
				t.Errorf("FailedHandlers() = %v", failed)
			}
		})
	}
}

func TestTimeoutStopsLaterPhases(t *testing.T) {
	coord := NewCoordinator(DefaultConfig(), nil)

	coord.RegisterFunc("slow", PhaseListener, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	laterRan := false
	coord.RegisterFunc("later", PhaseTelemetry, func(context.Context) error {
		laterRan = true
		return nil
	})

	err := coord.ShutdownWithTimeout(50 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if laterRan {
		t.Error("phases after the deadline should not run")
	}
}

func TestDoubleShutdown(t *testing.T) {
	coord := NewCoordinator(DefaultConfig(), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	coord.RegisterFunc("blocking", PhaseBridge, func(context.Context) error {
		close(started)
		<-release
		return nil
	})

	first := make(chan error, 1)
	go func() { first <- coord.ShutdownWithTimeout(time.Second) }()
	<-started

	if err := coord.Shutdown(context.Background()); !errors.Is(err, ErrAlreadyShutdown) {
		t.Fatalf("second Shutdown = %v, want ErrAlreadyShutdown", err)
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first Shutdown = %v", err)
	}
	if err := coord.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown after completion = %v, want first result", err)
	}
}

func TestSignalHandling(t *testing.T) {
	coord := NewCoordinator(Config{Timeout: time.Second}, nil)

	var called atomic.Bool
	coord.RegisterFunc("test", PhaseBridge, func(ctx context.Context) error {
		called.Store(true)
		return nil
	})

	coord.HandleSignals()
	coord.Trigger()

	select {
	case <-coord.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete after signal trigger")
	}
	if !called.Load() {
		t.Fatal("expected handler to be called")
	}
}

func TestResultBeforeDone(t *testing.T) {
	coord := NewCoordinator(DefaultConfig(), nil)
	if coord.Result() != nil || coord.Err() != nil {
		t.Error("Result and Err should be empty before shutdown")
	}
}

func TestEmptyShutdown(t *testing.T) {
	coord := NewCoordinator(DefaultConfig(), nil)
	if err := coord.ShutdownWithTimeout(0); err != nil {
		t.Fatal(err)
	}
	if r := coord.Result(); r == nil || len(r.Results) != 0 {
		t.Errorf("Result() = %+v", r)
	}
}

func TestDefaultPhaseUsedWhenNotSpecified(t *testing.T) {
	coord := NewCoordinator(Config{}, nil)
	coord.Register("x", HandlerFunc(func(context.Context) error { return nil }))
	coord.ShutdownWithTimeout(time.Second)
	if got := coord.Result().Results[0].Phase; got != 100 {
		t.Errorf("phase = %d, want 100", got)
	}
}

func TestGroupByPhase(t *testing.T) {
	if groupByPhase(nil) != nil {
		t.Error("empty input should yield nil")
	}
	groups := groupByPhase([]registration{
		{name: "a", phase: 1}, {name: "b", phase: 1}, {name: "c", phase: 2}, {name: "d", phase: 3},
	})
	if len(groups) != 3 || len(groups[0]) != 2 || groups[2][0].name != "d" {
		t.Errorf("groups = %+v", groups)
	}
}
