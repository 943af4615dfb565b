package taskpool

import "time"

// Timer represents a single, cancellable deferred callback, as armed by
// [Clock.AfterFunc].
type Timer interface {
	// Stop prevents the timer's callback from firing, if it hasn't already.
	// Returns true if the stop prevented a pending fire.
	Stop() bool
}

// Clock is the external collaborator supplying the current time, and
// one-shot deferred wake-ups. It is injectable (see [WithClock]), so tests
// can drive the scheduler deterministically, without real sleeps.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc arranges for f to be called once, at or after d has
	// elapsed. The returned Timer can cancel the call, if it hasn't fired.
	AfterFunc(d time.Duration, f func()) Timer
}

// realClock is the default [Clock], backed by the standard library.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
