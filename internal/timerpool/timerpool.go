// Package timerpool provides the one-shot, resettable, cancellable timer
// that drives each Lookup's timeout policy (spec.md §4.4). It is a thin
// wrapper over time.Timer; no teacher example library was found covering
// this concern (a plain timer is the idiomatic stdlib primitive every
// repo in the retrieval pack reaches for directly), so it stays on the
// standard library rather than adopting a scheduler dependency.
package timerpool

import "time"

// Timer is a single-shot timer that can be rearmed for a new duration.
// Unlike a bare time.Timer's Reset, Arm is safe to call even if the previous
// fire has already been consumed or the timer was never started.
type Timer struct {
	t *time.Timer
}

// New creates an unarmed Timer.
func New() *Timer {
	return &Timer{}
}

// Arm (re)starts the timer to fire after d, canceling any previous
// pending fire first.
func (tm *Timer) Arm(d time.Duration) <-chan time.Time {
	tm.Stop()
	tm.t = time.NewTimer(d)
	return tm.t.C
}

// Stop cancels the timer if it is armed and drains a pending fire so a
// subsequent Arm cannot observe a stale tick. Safe to call on an unarmed
// or already-stopped Timer.
func (tm *Timer) Stop() {
	if tm.t == nil {
		return
	}
	if !tm.t.Stop() {
		select {
		case <-tm.t.C:
		default:
		}
	}
}
