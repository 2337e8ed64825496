// Package lifecycle implements the keeper's startup/run/shutdown driver
// (C7): an initial delay, a set of readiness checks each bounded by its own
// timeout, an on-startup hook, periodic timers that skip a tick rather than
// overlap with a still-running previous tick, signal-driven termination, and
// an on-shutdown hook that only runs after every in-flight timer has
// drained.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// AsyncCallback wraps a callback so concurrent Trigger calls never overlap:
// a Trigger while the previous invocation is still running returns false
// immediately instead of queuing or blocking.
type AsyncCallback struct {
	callback func(ctx context.Context)

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewAsyncCallback wraps callback.
func NewAsyncCallback(callback func(ctx context.Context)) *AsyncCallback {
	return &AsyncCallback{callback: callback}
}

// Trigger starts the callback in a new goroutine if no prior invocation is
// still in flight. onStart/onFinish, if non-nil, are called synchronously
// around the callback from within that same goroutine.
func (a *AsyncCallback) Trigger(ctx context.Context, onStart, onFinish func()) bool {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return false
	}
	a.running = true
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()

	go func() {
		defer close(done)
		if onStart != nil {
			onStart()
		}
		a.callback(ctx)
		if onFinish != nil {
			onFinish()
		}
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()
	return true
}

// Wait blocks until the most recently triggered invocation, if any, has
// returned.
func (a *AsyncCallback) Wait() {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done != nil {
		<-done
	}
}

type readinessCheck struct {
	fn      func(ctx context.Context) bool
	maxWait time.Duration
}

type timer struct {
	freq     time.Duration
	callback *AsyncCallback
	stop     chan struct{}
}

// Driver runs the keeper's startup/run/shutdown sequence. Build with New,
// register hooks, then call Run.
type Driver struct {
	delay    time.Duration
	checks   []readinessCheck
	onStart  func(ctx context.Context)
	onStop   func(ctx context.Context)
	timers   []*timer
	logger   *slog.Logger

	mu                  sync.Mutex
	terminatedInternal  bool
	terminatedExternal  bool
	terminationMessage  string
}

// New builds a Driver with no delay, checks, or timers registered yet.
func New(logger *slog.Logger) *Driver {
	return &Driver{logger: logger}
}

// InitialDelay sleeps d before readiness checks run.
func (d *Driver) InitialDelay(delay time.Duration) *Driver {
	d.delay = delay
	return d
}

// WaitFor registers a readiness check polled every 100ms, until it reports
// true or maxWait elapses — whichever comes first. A timed-out check is
// logged and skipped, not fatal: startup proceeds regardless.
func (d *Driver) WaitFor(check func(ctx context.Context) bool, maxWait time.Duration) *Driver {
	d.checks = append(d.checks, readinessCheck{fn: check, maxWait: maxWait})
	return d
}

// OnStartup registers the hook run once, after all readiness checks.
func (d *Driver) OnStartup(fn func(ctx context.Context)) *Driver {
	d.onStart = fn
	return d
}

// OnShutdown registers the hook run once, after every timer has drained.
func (d *Driver) OnShutdown(fn func(ctx context.Context)) *Driver {
	d.onStop = fn
	return d
}

// Every registers a periodic callback. A tick is skipped (and logged) if the
// previous tick from this same timer is still running.
func (d *Driver) Every(freq time.Duration, callback func(ctx context.Context)) *Driver {
	d.timers = append(d.timers, &timer{freq: freq, callback: NewAsyncCallback(callback)})
	return d
}

// Terminate requests a graceful internal shutdown, e.g. on an unrecoverable
// configuration or invariant error discovered mid-run.
func (d *Driver) Terminate(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminatedInternal = true
	d.terminationMessage = message
}

func (d *Driver) terminated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.terminatedInternal || d.terminatedExternal
}

// Run executes the full sequence and returns the process exit code: 0 for a
// clean shutdown, 10 if termination was triggered internally (a fatal
// condition, as opposed to an operator SIGINT/SIGTERM).
func (d *Driver) Run(ctx context.Context) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.logger.Info("lifecycle: starting")

	if d.delay > 0 {
		d.logger.Info("lifecycle: initial delay", "delay", d.delay)
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
		}
	}

	for i, check := range d.checks {
		d.logger.Info("lifecycle: running readiness check", "index", i+1)
		deadline := time.Now().Add(check.maxWait)
		ok := false
		for {
			func() {
				defer func() { recover() }() // a panicking check counts as not-ready, not fatal
				ok = check.fn(ctx)
			}()
			if ok || time.Now().After(deadline) || ctx.Err() != nil {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		if !ok {
			d.logger.Warn("lifecycle: readiness check timed out, proceeding anyway", "index", i+1)
		}
	}

	if d.onStart != nil {
		d.logger.Info("lifecycle: running on-startup hook")
		d.onStart(ctx)
	}

	d.startTimers(ctx)
	d.mainLoop(ctx)

	for _, t := range d.timers {
		t.callback.Wait()
	}

	if d.onStop != nil {
		d.logger.Info("lifecycle: running on-shutdown hook")
		d.onStop(ctx)
	}

	d.logger.Info("lifecycle: terminated")

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.terminatedInternal {
		return 10
	}
	return 0
}

func (d *Driver) startTimers(ctx context.Context) {
	if len(d.timers) == 0 {
		return
	}
	d.logger.Info("lifecycle: starting periodic timers", "count", len(d.timers))
	for i, t := range d.timers {
		t.stop = make(chan struct{})
		go d.runTimer(ctx, i, t)
	}
}

// runTimer reschedules itself on every tick regardless of termination state
// — it just skips the actual work once terminated — and stops only when
// mainLoop closes t.stop.
func (d *Driver) runTimer(ctx context.Context, index int, t *timer) {
	ticker := time.NewTicker(t.freq)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if d.terminated() {
				d.logger.Debug("lifecycle: timer ignoring tick, already terminating", "index", index)
				continue
			}
			started := d.timers[index].callback.Trigger(ctx,
				func() { d.logger.Debug("lifecycle: timer tick starting", "index", index) },
				func() { d.logger.Debug("lifecycle: timer tick finished", "index", index) },
			)
			if !started {
				d.logger.Debug("lifecycle: timer tick skipped, previous tick still running", "index", index)
			}
		}
	}
}

// mainLoop blocks at 1s granularity until an internal or external
// termination is observed. If no timers were ever registered, the loop
// exits immediately: there is nothing it is waiting to drain.
func (d *Driver) mainLoop(ctx context.Context) {
	defer func() {
		for _, t := range d.timers {
			close(t.stop)
		}
	}()

	if len(d.timers) == 0 {
		return
	}

	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.terminatedExternal = true
			d.mu.Unlock()
			d.logger.Info("lifecycle: termination signal received")
			return
		case <-time.After(1 * time.Second):
		}
		if d.terminated() {
			d.mu.Lock()
			msg := d.terminationMessage
			d.mu.Unlock()
			d.logger.Info("lifecycle: terminating", "reason", msg)
			return
		}
	}
}
