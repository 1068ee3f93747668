// Package stopper implements the global deadline and interrupt controller:
// a wall-or-CPU time budget plus an atomic interrupt flag, polled at
// generation, decode, and MIP-search boundaries. There is no package-level
// state; a Controller is constructed per run and passed by reference to
// every component that needs it.
package stopper

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"time"
)

// ClockKind selects which clock a Controller's deadline is measured
// against.
type ClockKind int

const (
	Wall ClockKind = iota
	CPU
)

// Controller is one run's global deadline plus interrupt flag. The zero
// value is not usable; construct with New. Safe for concurrent use: every
// field a query touches is either immutable after New or atomic.
type Controller struct {
	maxTime  time.Duration
	clock    ClockKind
	start    time.Time
	cpuStart time.Duration

	interrupted atomic.Bool

	sigCh      chan os.Signal
	restoreSig func()
}

// New starts a Controller's timer immediately.
func New(maxTime time.Duration, clock ClockKind) *Controller {
	c := &Controller{
		maxTime:  maxTime,
		clock:    clock,
		start:    time.Now(),
		cpuStart: cpuTime(),
	}
	return c
}

// MustStop reports whether the configured deadline has elapsed (measured
// by the chosen clock) or the interrupt flag is set.
func (c *Controller) MustStop() bool {
	if c.interrupted.Load() {
		return true
	}
	if c.maxTime <= 0 {
		return false
	}
	return c.Elapsed() > c.maxTime
}

// Elapsed returns time passed on the controller's chosen clock since New.
func (c *Controller) Elapsed() time.Duration {
	if c.clock == CPU {
		return cpuTime() - c.cpuStart
	}
	return time.Since(c.start)
}

// Remaining returns how much budget is left (never negative); zero
// maxTime means unbounded and Remaining reports the largest representable
// duration.
func (c *Controller) Remaining() time.Duration {
	if c.maxTime <= 0 {
		return time.Duration(1<<63 - 1)
	}
	remaining := c.maxTime - c.Elapsed()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Interrupt sets the stop flag directly, e.g. from a caller that wants to
// cancel a run programmatically rather than via Ctrl-C.
func (c *Controller) Interrupt() {
	c.interrupted.Store(true)
}

// Interrupted reports whether the stop flag has been set, by any means.
func (c *Controller) Interrupted() bool {
	return c.interrupted.Load()
}

// WatchInterrupts installs a SIGINT handler: the first interrupt sets the
// stop flag for a graceful shutdown (MustStop starts returning true); a
// second interrupt restores the default disposition and resends the
// signal, so the process dies immediately. Call StopWatchingInterrupts to uninstall the handler
// (e.g. at the end of a run, or in tests).
func (c *Controller) WatchInterrupts() {
	c.sigCh = make(chan os.Signal, 2)
	signal.Notify(c.sigCh, os.Interrupt)

	done := make(chan struct{})
	c.restoreSig = func() { close(done) }

	go func() {
		for {
			select {
			case _, ok := <-c.sigCh:
				if !ok {
					return
				}
				if c.interrupted.Swap(true) {
					// Second interrupt: stop intercepting and resend it,
					// so the default handler terminates the process.
					signal.Stop(c.sigCh)
					if p, err := os.FindProcess(os.Getpid()); err == nil {
						_ = p.Signal(os.Interrupt)
					}
					return
				}
			case <-done:
				return
			}
		}
	}()
}

// StopWatchingInterrupts uninstalls the SIGINT handler installed by
// WatchInterrupts. A no-op if WatchInterrupts was never called.
func (c *Controller) StopWatchingInterrupts() {
	if c.sigCh == nil {
		return
	}
	signal.Stop(c.sigCh)
	if c.restoreSig != nil {
		c.restoreSig()
	}
	close(c.sigCh)
	c.sigCh = nil
}

// Context returns a context.Context that is cancelled when either ctx
// itself is cancelled or the deadline elapses, letting long-running
// solver calls (LP projections, MILP probes, MILP local search) select on
// one cancellation signal instead of polling MustStop in a busy loop. The
// returned cancel must be called to release resources.
func (c *Controller) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.maxTime > 0 {
		deadline := c.start.Add(c.maxTime)
		return context.WithDeadline(ctx, deadline)
	}
	return context.WithCancel(ctx)
}
