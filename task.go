package taskpool

import "time"

// TaskState models a task's lifecycle. States are totally ordered, and only
// ever increase, with the exception of the reversible
// [TaskActive] <-> [TaskPaused] transition.
type TaskState int32

const (
	// TaskActive tasks are eligible for invocation.
	TaskActive TaskState = iota
	// TaskPaused tasks start no new invocations until resumed.
	TaskPaused
	// TaskExhausted tasks have produced their final invocation, but still
	// have in-flight work.
	TaskExhausted
	// TaskTerminated tasks have no in-flight work and are detached from
	// their groups and removed from the pool.
	TaskTerminated
)

func (s TaskState) String() string {
	switch s {
	case TaskActive:
		return `active`
	case TaskPaused:
		return `paused`
	case TaskExhausted:
		return `exhausted`
	case TaskTerminated:
		return `terminated`
	}
	return `unknown`
}

// GeneratorFunc produces one invocation's worth of work, given the task
// handle and the zero-based invocation index. The returned value may be a
// *[Future] (an in-flight operation), or any other value (an operation that
// completed synchronously, stored as the invocation's result unless nil).
// Returning ok == false signals exhaustion: no more work exists, and the
// task ends, unless the generator paused or ended the task itself.
//
// Generators are invoked one at a time, by the pool's scheduling goroutine,
// and must not block; long-running work belongs in the returned operation
// (see [Go]). A panic is recorded as the task's failure, wrapped in
// [GeneratorPanicError].
type GeneratorFunc func(task *Task, invocation int) (_ Result, ok bool)

// ResultConverter post-processes a task's collected result sequence into the
// value its promise resolves with.
type ResultConverter func(results []Result) Result

// GenericTaskOptions models configuration, for [Pool.AddGenericTask].
type GenericTaskOptions struct {
	// Generator produces the task's work. Required.
	Generator GeneratorFunc

	// ConcurrencyLimit restricts this task's concurrently active
	// invocations, if positive. Defaults to [Unbounded], if 0.
	ConcurrencyLimit int

	// FrequencyLimit restricts this task's invocation starts per sliding
	// window of FrequencyWindow, if positive. Defaults to disabled, if 0.
	FrequencyLimit int

	// FrequencyWindow is the length of the sliding window FrequencyLimit
	// applies to. Required (positive) iff FrequencyLimit is set.
	FrequencyWindow time.Duration

	// InvocationLimit caps the number of invocations, if positive.
	// Defaults to [Unbounded], if 0. A negative value is treated as a
	// limit of zero: the task terminates without invoking its generator.
	InvocationLimit int

	// Groups are additional groups the task belongs to, beyond the pool's
	// global group and the task's own private group. All must have been
	// created by the same pool's AddGroup.
	Groups []*Group

	// Paused creates the task in [TaskPaused] state.
	Paused bool

	// ID identifies the task, e.g. for Pool.GetTaskStatus. Defaults to a
	// generated id. Must be unique within the pool.
	ID string
}

// Task is a unit of work, defined by a generator that is repeatedly invoked
// by the owning pool's scheduler, subject to the limits of every group the
// task belongs to, and its own invocation limit. Results are collected at
// their invocation index, and delivered via [Task.Promise] once the task
// terminates.
type Task struct {
	pool            *Pool
	id              string
	generator       GeneratorFunc
	converter       ResultConverter
	groups          []*Group // [0] global, [1] private, then user-supplied
	results         []Result
	waiters         []settler
	rejection       *rejection
	final           Result
	invocations     int
	invocationLimit int
	pending         int // in-flight invocations
	state           TaskState
}

// ID returns the task's identifier.
func (x *Task) ID() string {
	return x.id
}

// State returns the task's current lifecycle state.
func (x *Task) State() TaskState {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	return x.state
}

// Invocations returns the number of invocations started so far.
func (x *Task) Invocations() int {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	return x.invocations
}

// ActivePromiseCount returns the number of in-flight invocations.
func (x *Task) ActivePromiseCount() int {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	return x.pending
}

// InvocationLimit returns the task's invocation limit, [Unbounded] if none
// applies.
func (x *Task) InvocationLimit() int {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	return x.invocationLimit
}

// SetInvocationLimit replaces the task's invocation limit, triggering a
// scheduler re-evaluation (a previously-reached cap may have been raised).
// A limit at or below the current invocation count ends the task. Panics
// with a [ValidationError] if limit is negative.
//
// Note that 0 is taken literally here, ending the task — unlike the zero
// value of [GenericTaskOptions.InvocationLimit], which means [Unbounded].
func (x *Task) SetInvocationLimit(limit int) {
	if limit < 0 {
		panic(validationErrorf(`taskpool: invalid invocation limit: %d`, limit))
	}
	x.pool.mu.Lock()
	x.invocationLimit = limit
	if x.invocations >= limit {
		x.endLocked()
	}
	x.pool.mu.Unlock()
	x.pool.wakeup()
}

// ConcurrencyLimit returns the task's own concurrency limit, [Unbounded] if
// none applies.
func (x *Task) ConcurrencyLimit() int {
	return x.groups[1].ConcurrencyLimit()
}

// SetConcurrencyLimit replaces the task's own concurrency limit.
func (x *Task) SetConcurrencyLimit(limit int) {
	x.groups[1].SetConcurrencyLimit(limit)
}

// FrequencyLimit returns the task's own frequency limit, 0 if disabled.
func (x *Task) FrequencyLimit() int {
	return x.groups[1].FrequencyLimit()
}

// FrequencyWindow returns the task's own frequency window, 0 if disabled.
func (x *Task) FrequencyWindow() time.Duration {
	return x.groups[1].FrequencyWindow()
}

// SetFrequencyLimit replaces the task's own frequency limit and window.
func (x *Task) SetFrequencyLimit(limit int, window time.Duration) {
	x.groups[1].SetFrequencyLimit(limit, window)
}

// FreeSlots returns the number of invocations that could start immediately,
// as far as concurrency limits and the remaining invocation budget are
// concerned: the minimum, across the task's groups, of each group's spare
// concurrency, further capped by the remaining invocations.
func (x *Task) FreeSlots() int {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	return x.freeSlotsLocked()
}

func (x *Task) freeSlotsLocked() int {
	free := x.invocationLimit - x.invocations
	for _, g := range x.groups {
		if v := g.concurrencyLimit - g.activePromiseCount; v < free {
			free = v
		}
	}
	if free < 0 {
		free = 0
	}
	return free
}

// Pause suspends new invocations. In-flight invocations continue. No-op
// unless the task is [TaskActive].
func (x *Task) Pause() {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	if x.state == TaskActive {
		x.state = TaskPaused
	}
}

// Resume reverses [Task.Pause], triggering a scheduler re-evaluation.
func (x *Task) Resume() {
	x.pool.mu.Lock()
	if x.state == TaskPaused {
		x.state = TaskActive
	}
	x.pool.mu.Unlock()
	x.pool.wakeup()
}

// End prevents further invocations. With no in-flight work the task
// terminates immediately; otherwise it is exhausted, and terminates once
// the last in-flight invocation completes.
func (x *Task) End() {
	x.pool.mu.Lock()
	x.endLocked()
	x.pool.mu.Unlock()
	x.pool.wakeup()
}

// Promise returns a future completing with the task's final result
// sequence (converted, if a converter applies), or rejected with the task's
// recorded failure. Calling Promise after a failure was recorded claims the
// rejection, suppressing the deferred unhandled-rejection report.
func (x *Task) Promise() *Future {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	if x.rejection != nil {
		x.pool.claimLocked(x.rejection)
		return Rejected(x.rejection.err)
	}
	if x.state == TaskTerminated {
		return Resolved(x.final)
	}
	fut, resolveFn, rejectFn := NewFuture()
	x.waiters = append(x.waiters, settler{resolveFn, rejectFn})
	return fut
}

func (x *Task) endLocked() {
	if x.state == TaskTerminated {
		return
	}
	if x.pending > 0 {
		if x.state < TaskExhausted {
			x.state = TaskExhausted
		}
		return
	}
	x.terminateLocked()
}

// terminateLocked detaches the task from every group, removes it from the
// pool, and settles its completion waiters.
func (x *Task) terminateLocked() {
	x.state = TaskTerminated
	for _, g := range x.groups {
		g.decrementTasksLocked()
	}
	x.pool.removeTaskLocked(x)
	waiters := x.waiters
	x.waiters = nil
	if x.rejection != nil {
		// waiters present at failure time were already rejected
		for _, w := range waiters {
			w.reject(x.rejection.err)
		}
		return
	}
	x.final = Result(x.results)
	if x.converter != nil {
		x.final = x.converter(x.results)
	}
	for _, w := range waiters {
		w.resolve(x.final)
	}
}

// failLocked implements the failure protocol: record at most one rejection,
// reject completion waiters (marking the rejection handled), propagate to
// every group, and arrange the deferred unhandled-rejection check.
// Subsequent failures bypass all of that, surfacing directly as unobserved.
func (x *Task) failLocked(err error) {
	if x.rejection != nil {
		x.pool.reportUnobservedLocked(&TaskError{TaskID: x.id, Cause: err})
		return
	}
	rec := &rejection{err: err}
	x.rejection = rec
	if len(x.waiters) > 0 {
		rec.handled = true
		waiters := x.waiters
		x.waiters = nil
		for _, w := range waiters {
			w.reject(err)
		}
	}
	for _, g := range x.groups {
		g.rejectLocked(rec)
	}
	x.pool.logger.Debug().
		Str(`task`, x.id).
		Err(err).
		Log(`task failed`)
	x.pool.scheduleRejectionCheckLocked(x.id, rec)
}

// completeLocked settles the invocation at index idx, storing its result
// (unless nil), releasing its concurrency slots, and finalizing the task if
// it was exhausted and this was the last in-flight invocation.
func (x *Task) completeLocked(idx int, v Result, err error) {
	x.pending--
	for _, g := range x.groups {
		g.activePromiseCount--
	}
	if err != nil {
		x.failLocked(err)
		x.endLocked()
	} else if v != nil {
		x.setResultLocked(idx, v)
	}
	if x.state == TaskExhausted && x.pending == 0 {
		x.terminateLocked()
	}
}

func (x *Task) setResultLocked(idx int, v Result) {
	for len(x.results) <= idx {
		x.results = append(x.results, nil)
	}
	x.results[idx] = v
}
