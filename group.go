package taskpool

import (
	"math"
	"time"
)

// Unbounded disables a limit, where accepted. It is the default for every
// concurrency and invocation limit.
const Unbounded = math.MaxInt

// GroupOptions models optional configuration, for [Pool.AddGroup].
type GroupOptions struct {
	// ConcurrencyLimit restricts the number of concurrently active
	// invocations across all tasks in the group, if positive.
	// Defaults to [Unbounded], if 0.
	ConcurrencyLimit int

	// FrequencyLimit restricts the number of invocation starts per sliding
	// window of FrequencyWindow, if positive. Defaults to disabled, if 0.
	FrequencyLimit int

	// FrequencyWindow is the length of the sliding window FrequencyLimit
	// applies to. Required (positive) iff FrequencyLimit is set.
	FrequencyWindow time.Duration
}

// Group is a constraint bundle (concurrency limit, sliding-window frequency
// limit) shared by one or more tasks. Every task belongs to at least two
// groups: the pool's global group and a private group carrying the task's
// own limits. Additional groups are created via [Pool.AddGroup] and may only
// be used with tasks of the same pool.
//
// All fields are guarded by the owning pool's scheduling context.
type Group struct {
	pool               *Pool
	concurrencyLimit   int
	frequencyLimit     int // 0 = disabled
	frequencyWindow    time.Duration
	activePromiseCount int
	activeTaskCount    int
	frequencyStarts    ring[int64] // unix nanos, non-decreasing; empty while disabled
	idleWaiters        []settler
	rejection          *rejection
}

// rejection is a task's recorded failure. The same record is shared between
// the task and every group the failure propagated to, so that marking it
// handled anywhere (a completion waiter, a group idle waiter, a later
// Promise or WaitForIdle call) suppresses the deferred unhandled report.
type rejection struct {
	err      error
	handled  bool
	reported bool // surfaced via RejectionObserver.UnhandledRejection
}

// settler is the write half of a pending [Future].
type settler struct {
	resolve func(Result)
	reject  func(error)
}

// busyState classifies a group's readiness to start another invocation.
// The order matters: the scheduler takes the max across a task's groups.
type busyState int8

const (
	busyReady busyState = iota
	busyUntil
	busyIndefinite
)

func validateGroupOptions(opts GroupOptions) {
	if opts.ConcurrencyLimit < 0 {
		panic(validationErrorf(`taskpool: invalid concurrency limit: %d`, opts.ConcurrencyLimit))
	}
	validateFrequency(opts.FrequencyLimit, opts.FrequencyWindow)
}

func validateFrequency(limit int, window time.Duration) {
	if limit < 0 {
		panic(validationErrorf(`taskpool: invalid frequency limit: %d`, limit))
	}
	if limit > 0 && window <= 0 {
		panic(validationErrorf(`taskpool: frequency limit requires a positive frequency window, got: %s`, window))
	}
	if limit == 0 && window != 0 {
		panic(validationErrorf(`taskpool: frequency window requires a frequency limit`))
	}
}

func newGroup(pool *Pool, opts GroupOptions) *Group {
	validateGroupOptions(opts)
	g := &Group{
		pool:             pool,
		concurrencyLimit: opts.ConcurrencyLimit,
		frequencyLimit:   opts.FrequencyLimit,
		frequencyWindow:  opts.FrequencyWindow,
	}
	if g.concurrencyLimit == 0 {
		g.concurrencyLimit = Unbounded
	}
	return g
}

// busyTimeLocked reports whether the group can start an invocation now,
// will be able to at a known future time (a frequency window draining), or
// is blocked with no time-based resolution (concurrency).
func (x *Group) busyTimeLocked(now time.Time) (busyState, time.Time) {
	if x.activePromiseCount >= x.concurrencyLimit {
		return busyIndefinite, time.Time{}
	}
	if x.frequencyLimit > 0 {
		x.cleanFrequencyStartsLocked(now)
		if x.frequencyStarts.Len() >= x.frequencyLimit {
			return busyUntil, time.Unix(0, x.frequencyStarts.Get(0)).Add(x.frequencyWindow)
		}
	}
	return busyReady, time.Time{}
}

// cleanFrequencyStartsLocked purges starts with timestamp <= now - window.
func (x *Group) cleanFrequencyStartsLocked(now time.Time) {
	boundary := now.Add(-x.frequencyWindow).UnixNano()
	var n int
	for n < x.frequencyStarts.Len() && x.frequencyStarts.Get(n) <= boundary {
		n++
	}
	x.frequencyStarts.RemoveBefore(n)
}

func (x *Group) recordStartLocked(now time.Time) {
	x.activePromiseCount++
	if x.frequencyLimit > 0 {
		x.frequencyStarts.Append(now.UnixNano())
	}
}

func (x *Group) incrementTasksLocked() {
	x.activeTaskCount++
}

// decrementTasksLocked detaches a terminated task. Reaching zero clears any
// recorded rejection (its waiters were rejected when it was recorded) and
// resolves the remaining idle waiters.
func (x *Group) decrementTasksLocked() {
	x.activeTaskCount--
	if x.activeTaskCount > 0 {
		return
	}
	x.rejection = nil
	waiters := x.idleWaiters
	x.idleWaiters = nil
	for _, w := range waiters {
		w.resolve(nil)
	}
}

// rejectLocked adopts a task's rejection record, unless one is already
// recorded, rejecting any pending idle waiters (which marks the record
// handled).
func (x *Group) rejectLocked(rec *rejection) {
	if x.rejection != nil {
		return
	}
	x.rejection = rec
	if len(x.idleWaiters) == 0 {
		return
	}
	rec.handled = true
	waiters := x.idleWaiters
	x.idleWaiters = nil
	for _, w := range waiters {
		w.reject(rec.err)
	}
}

func (x *Group) waitForIdleLocked() *Future {
	if x.rejection != nil {
		x.pool.claimLocked(x.rejection)
		return Rejected(x.rejection.err)
	}
	if x.activeTaskCount == 0 {
		return Resolved(nil)
	}
	fut, resolveFn, rejectFn := NewFuture()
	x.idleWaiters = append(x.idleWaiters, settler{resolveFn, rejectFn})
	return fut
}

// WaitForIdle returns a future resolved once the group has no active tasks,
// or rejected with the group's recorded rejection, if any. Rejection is
// immediate when a rejection is already recorded.
func (x *Group) WaitForIdle() *Future {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	return x.waitForIdleLocked()
}

// ActiveTaskCount returns the number of tasks currently attached.
func (x *Group) ActiveTaskCount() int {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	return x.activeTaskCount
}

// ActivePromiseCount returns the number of in-flight invocations counted
// against the group.
func (x *Group) ActivePromiseCount() int {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	return x.activePromiseCount
}

// ConcurrencyLimit returns the group's concurrency limit, [Unbounded] if
// none applies.
func (x *Group) ConcurrencyLimit() int {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	return x.concurrencyLimit
}

// SetConcurrencyLimit replaces the group's concurrency limit, triggering a
// scheduler re-evaluation. Panics with a [ValidationError] unless limit is
// positive ([Unbounded] included).
func (x *Group) SetConcurrencyLimit(limit int) {
	if limit < 1 {
		panic(validationErrorf(`taskpool: invalid concurrency limit: %d`, limit))
	}
	x.pool.mu.Lock()
	x.concurrencyLimit = limit
	x.pool.mu.Unlock()
	x.pool.wakeup()
}

// FrequencyLimit returns the group's frequency limit, 0 if disabled.
func (x *Group) FrequencyLimit() int {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	return x.frequencyLimit
}

// FrequencyWindow returns the group's frequency window, 0 if disabled.
func (x *Group) FrequencyWindow() time.Duration {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	return x.frequencyWindow
}

// SetFrequencyLimit replaces the group's frequency limit and window,
// triggering a scheduler re-evaluation. A limit of 0 (with a 0 window)
// disables frequency limiting, discarding any recorded start timestamps.
func (x *Group) SetFrequencyLimit(limit int, window time.Duration) {
	validateFrequency(limit, window)
	x.pool.mu.Lock()
	x.frequencyLimit = limit
	x.frequencyWindow = window
	if limit == 0 {
		x.frequencyStarts.RemoveBefore(x.frequencyStarts.Len())
	}
	x.pool.mu.Unlock()
	x.pool.wakeup()
}
