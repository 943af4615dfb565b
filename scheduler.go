package taskpool

import (
	"time"

	"golang.org/x/exp/slices"
)

// run is the pool's scheduling goroutine. It owns invocation of generators;
// everything else (task construction, limit mutation, completions, timer
// fires) merely nudges it via wakeup. Separating construction from the
// first invocation this way guarantees callers a cooperative step in which
// to attach waiters before any work (or failure) happens.
func (x *Pool) run() {
	for {
		select {
		case <-x.done:
			return
		case <-x.wake:
			x.pass()
		}
	}
}

// wakeup nudges the scheduling goroutine, coalescing with any nudge already
// pending. Safe to call with or without the pool's lock held.
func (x *Pool) wakeup() {
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

// pass starts as many ready invocations as possible without violating any
// constraint, repeating while progress is made (an invocation shifts
// readiness, e.g. by ending a task). If nothing is ready, but a frequency
// window would admit work at a known future time, a single wake-up is armed
// at the soonest such time.
func (x *Pool) pass() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for {
		var soonest time.Time
		progress := false
		for _, t := range slices.Clone(x.tasks) {
			now := x.clock.Now()

			// the global group gates every task: once it is saturated,
			// nothing later in registration order can start either
			switch state, at := x.global.busyTimeLocked(now); state {
			case busyIndefinite:
				return
			case busyUntil:
				x.armTimerLocked(at)
				return
			}

			if t.state != TaskActive {
				continue
			}

			worst, worstAt := busyReady, time.Time{}
			for _, g := range t.groups {
				state, at := g.busyTimeLocked(now)
				if state > worst {
					worst = state
				}
				if state == busyUntil && at.After(worstAt) {
					worstAt = at
				}
			}
			switch worst {
			case busyIndefinite:
				continue
			case busyUntil:
				if soonest.IsZero() || worstAt.Before(soonest) {
					soonest = worstAt
				}
				continue
			}

			x.invokeLocked(t)
			progress = true
		}
		if progress {
			continue
		}
		if !soonest.IsZero() {
			x.armTimerLocked(soonest)
		}
		return
	}
}

// invokeLocked runs one invocation of t: the generator is called with the
// pool's lock released (it may re-enter the public API, e.g. to submit
// another task, which will not be invoked before the current pass round
// completes), then the produced operation is accounted and its completion
// handler attached.
func (x *Pool) invokeLocked(t *Task) {
	if t.invocations >= t.invocationLimit {
		t.endLocked()
		return
	}
	idx := t.invocations

	x.mu.Unlock()
	v, ok, err := callGenerator(t.generator, t, idx)
	x.mu.Lock()

	if err != nil {
		t.failLocked(err)
		t.endLocked()
		return
	}
	if !ok {
		// the null sentinel: exhausted, unless the generator paused or
		// ended the task itself during the call
		if t.state == TaskActive {
			t.endLocked()
		}
		return
	}
	if t.state == TaskTerminated {
		// ended externally while the generator ran; the produced operation
		// is dropped rather than attached to a detached task
		return
	}

	t.invocations++
	t.pending++
	now := x.clock.Now()
	for _, g := range t.groups {
		g.recordStartLocked(now)
	}
	if t.invocations >= t.invocationLimit {
		// the last permitted invocation: exhausted, terminating once it completes
		t.endLocked()
	}
	x.logger.Trace().
		Str(`task`, t.id).
		Int(`invocation`, idx).
		Log(`invocation started`)

	fut, isFut := v.(*Future)
	if !isFut {
		// the operation completed synchronously
		t.completeLocked(idx, v, nil)
		return
	}
	go func() {
		<-fut.Done()
		v, err, _ := fut.Peek()
		x.mu.Lock()
		t.completeLocked(idx, v, err)
		x.mu.Unlock()
		x.wakeup()
	}()
}

func callGenerator(gen GeneratorFunc, t *Task, idx int) (v Result, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, ok = nil, false
			err = GeneratorPanicError{Value: r}
		}
	}()
	v, ok = gen(t, idx)
	return
}

// armTimerLocked arranges a scheduler wake-up at or after the given time,
// keeping at most one timer armed: an existing timer firing no later than
// at is left alone.
func (x *Pool) armTimerLocked(at time.Time) {
	if x.timer != nil {
		if !x.timerAt.After(at) {
			return
		}
		x.timer.Stop()
	}
	x.timerAt = at
	d := at.Sub(x.clock.Now())
	if d < 0 {
		d = 0
	}
	x.timer = x.clock.AfterFunc(d, func() {
		x.mu.Lock()
		x.timer = nil
		x.mu.Unlock()
		x.wakeup()
	})
}
