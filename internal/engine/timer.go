package engine

import (
	"context"
	"time"

	"dogengine/internal/lookup"
	"dogengine/internal/timerpool"
)

// timeoutFor implements spec.md §4.4's timeout selection: an explicit
// override always wins; otherwise a query with a successor (another
// server still to try) gets the shorter server-rotation timeout, and the
// terminal query in the list gets the transport-appropriate default. An
// in-progress zone transfer multiplies whichever timeout applies by 4,
// matching the original's stall tolerance for long-running transfers.
func timeoutFor(l *lookup.Lookup, hasSuccessor bool, t Timeouts) time.Duration {
	var d time.Duration
	switch {
	case t.Override > 0:
		d = t.Override
	case hasSuccessor:
		d = t.Server
	case l.Policy.TCPMode:
		d = t.TCP
	default:
		d = t.UDP
	}
	if l.IsXFR() {
		d *= 4
	}
	return d
}

// errTimerExpired is the context.Cause set when armedContext's deadline
// fires, so callers can tell a timer expiry apart from outer
// cancellation (spec.md §4.4's "on expiry" branch vs. a lookup-wide
// cancel).
var errTimerExpired = context.DeadlineExceeded

// armedContext derives a context from parent that is canceled either
// when parent is done or when tm's one-shot timer fires after d,
// whichever comes first — the goroutine-and-channel realization of the
// per-query timer event in spec.md §4.4.
func armedContext(parent context.Context, tm *timerpool.Timer, d time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	fire := tm.Arm(d)
	stop := make(chan struct{})
	go func() {
		select {
		case <-fire:
			cancel(errTimerExpired)
		case <-stop:
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		close(stop)
		tm.Stop()
		cancel(nil)
	}
}
