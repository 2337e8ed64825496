package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAsyncCallbackSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var calls int32
	cb := NewAsyncCallback(func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
		<-release
	})

	if !cb.Trigger(context.Background(), nil, nil) {
		t.Fatal("first trigger should start")
	}
	if cb.Trigger(context.Background(), nil, nil) {
		t.Fatal("second trigger while running should be skipped")
	}
	close(release)
	cb.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}

	if !cb.Trigger(context.Background(), nil, nil) {
		t.Fatal("trigger after completion should start again")
	}
	cb.Wait()
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls after the second trigger, got %d", calls)
	}
}

func TestDriverRunsStartupBeforeTimers(t *testing.T) {
	t.Parallel()
	var order []string
	d := New(testLogger()).
		OnStartup(func(ctx context.Context) { order = append(order, "startup") }).
		Every(50*time.Millisecond, func(ctx context.Context) { order = append(order, "tick") }).
		OnShutdown(func(ctx context.Context) { order = append(order, "shutdown") })

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	code := d.Run(ctx)
	if code != 0 {
		t.Fatalf("expected exit code 0 for an external cancellation, got %d", code)
	}
	if len(order) < 2 || order[0] != "startup" {
		t.Fatalf("expected startup to run first, got %v", order)
	}
	if order[len(order)-1] != "shutdown" {
		t.Fatalf("expected shutdown to run last, got %v", order)
	}
}

func TestDriverReadinessCheckTimesOutButProceeds(t *testing.T) {
	t.Parallel()
	ranStartup := false
	d := New(testLogger()).
		WaitFor(func(ctx context.Context) bool { return false }, 30*time.Millisecond).
		OnStartup(func(ctx context.Context) { ranStartup = true })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	if !ranStartup {
		t.Fatal("startup hook should run even if a readiness check times out")
	}
}

func TestDriverExitsImmediatelyWithoutTimers(t *testing.T) {
	t.Parallel()
	d := New(testLogger())
	done := make(chan int, 1)
	go func() { done <- d.Run(context.Background()) }()

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("expected exit code 0, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run should return immediately when no timers are registered")
	}
}

func TestDriverTerminateInternallyReturnsExitCode10(t *testing.T) {
	t.Parallel()
	var d *Driver
	d = New(testLogger()).
		Every(10*time.Millisecond, func(ctx context.Context) { d.Terminate("fatal condition") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	code := d.Run(ctx)
	if code != 10 {
		t.Fatalf("expected exit code 10 after internal termination, got %d", code)
	}
}

func TestDriverWaitForReadinessSucceedsBeforeTimeout(t *testing.T) {
	t.Parallel()
	var ready int32
	go func() {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&ready, 1)
	}()

	d := New(testLogger()).
		WaitFor(func(ctx context.Context) bool { return atomic.LoadInt32(&ready) == 1 }, 2*time.Second)

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	if time.Since(started) > 400*time.Millisecond {
		t.Error("readiness check should have succeeded quickly once ready flipped true")
	}
}
