package handler

import (
	"context"
	"sync/atomic"
	"time"

	errs "github.com/frankli0324/go-networking/internal/errors"
)

type inactiveError struct{}

func (inactiveError) Error() string   { return "no activity within the timeout" }
func (inactiveError) Timeout() bool   { return true }
func (inactiveError) Temporary() bool { return true }

// ErrInactive is the cause of a context canceled by a [Watchdog].
var ErrInactive error = inactiveError{}

// Watchdog cancels its context once an operation made no progress for the
// timeout. It only runs while something waits on the network: connection
// setup, the response header and each body read. Time the caller spends
// between two reads is not counted.
type Watchdog struct {
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelCauseFunc
	fired   atomic.Bool
	stopped atomic.Bool
}

// NewWatchdog returns a context canceled with [ErrInactive] after timeout
// without a Kick. The timer starts armed. A zero timeout only ties the
// context to parent.
func NewWatchdog(parent context.Context, timeout time.Duration) (context.Context, *Watchdog) {
	ctx, cancel := context.WithCancelCause(parent)
	w := &Watchdog{timeout: timeout, cancel: cancel}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			w.fired.Store(true)
			cancel(ErrInactive)
		})
	}
	return ctx, w
}

// Kick arms the timer for a full timeout.
func (w *Watchdog) Kick() {
	if w.timer != nil && !w.fired.Load() && !w.stopped.Load() {
		w.timer.Reset(w.timeout)
	}
}

// Pause disarms the timer until the next Kick.
func (w *Watchdog) Pause() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Stop releases the context. It is safe to call more than once.
func (w *Watchdog) Stop() {
	w.stopped.Store(true)
	w.Pause()
	w.cancel(context.Canceled)
}

// Fired reports whether the timeout elapsed.
func (w *Watchdog) Fired() bool { return w.fired.Load() }

// Translate is [TranslateTransfer] aware of the watchdog: once it fired,
// any error is reported as a timeout.
func (w *Watchdog) Translate(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := asTaxonomy(err); !ok && w.Fired() {
		return errs.NewTransportError("timed out", &timeoutError{err})
	}
	return TranslateTransfer(err)
}

type timeoutError struct{ err error }

func (e *timeoutError) Error() string { return e.err.Error() + " (" + ErrInactive.Error() + ")" }
func (e *timeoutError) Unwrap() []error { return []error{e.err, ErrInactive} }
