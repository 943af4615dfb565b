package taskpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

const defaultRejectionCheckDelay = time.Millisecond * 10

// PoolOption models optional configuration, for [NewPool].
type PoolOption func(*Pool)

// WithClock replaces the pool's time source, e.g. for deterministic tests.
func WithClock(clock Clock) PoolOption {
	return func(p *Pool) {
		if clock == nil {
			panic(validationErrorf(`taskpool: nil clock`))
		}
		p.clock = clock
	}
}

// WithLogger configures structured logging. The logger may be nil (the
// default), which disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithConcurrencyLimit restricts the number of concurrently active
// invocations across the whole pool. Panics with a [ValidationError] unless
// limit is positive ([Unbounded] included).
func WithConcurrencyLimit(limit int) PoolOption {
	return func(p *Pool) {
		if limit < 1 {
			panic(validationErrorf(`taskpool: invalid concurrency limit: %d`, limit))
		}
		p.global.concurrencyLimit = limit
	}
}

// WithFrequencyLimit restricts the number of invocation starts across the
// whole pool, per sliding window of the given length.
func WithFrequencyLimit(limit int, window time.Duration) PoolOption {
	return func(p *Pool) {
		if limit < 1 {
			panic(validationErrorf(`taskpool: invalid frequency limit: %d`, limit))
		}
		validateFrequency(limit, window)
		p.global.frequencyLimit = limit
		p.global.frequencyWindow = window
	}
}

// WithRejectionObserver replaces the sink for unobserved task rejections
// (see [RejectionObserver]).
func WithRejectionObserver(observer RejectionObserver) PoolOption {
	return func(p *Pool) {
		if observer == nil {
			panic(validationErrorf(`taskpool: nil rejection observer`))
		}
		p.observer = observer
	}
}

// Pool owns a registry of tasks, the global group every task belongs to,
// and the scheduling goroutine that invokes ready tasks, subject to every
// applicable constraint. Instances must be initialized using the [NewPool]
// factory, and released using [Pool.Close].
type Pool struct {
	clock    Clock
	logger   *logiface.Logger[logiface.Event]
	observer RejectionObserver

	// rejectionCheckDelay is how long a recorded rejection may go unclaimed
	// before it is surfaced via the observer.
	rejectionCheckDelay time.Duration

	mu      sync.Mutex
	global  *Group
	tasks   []*Task
	byID    map[string]*Task
	seq     int
	timer   Timer
	timerAt time.Time

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewPool initializes a new [Pool]. Invalid options panic with a
// *[ValidationError].
//
// The [Pool.Close] method should be called when the pool is no longer
// needed.
func NewPool(options ...PoolOption) *Pool {
	p := &Pool{
		clock:               realClock{},
		rejectionCheckDelay: defaultRejectionCheckDelay,
		byID:                make(map[string]*Task),
		wake:                make(chan struct{}, 1),
		done:                make(chan struct{}),
	}
	p.global = newGroup(p, GroupOptions{})
	p.observer = defaultObserver{pool: p}
	for _, option := range options {
		option(p)
	}
	go p.run()
	return p
}

// Close stops the scheduling goroutine: no further invocations start, but
// in-flight invocations still complete and settle their waiters. Close does
// not wait for in-flight work; use [Pool.WaitForIdle] first, if required.
func (x *Pool) Close() error {
	x.closeOnce.Do(func() {
		close(x.done)
		x.mu.Lock()
		if x.timer != nil {
			x.timer.Stop()
			x.timer = nil
		}
		x.mu.Unlock()
	})
	return nil
}

// AddGroup creates a group belonging to this pool, for use with this pool's
// tasks. Invalid options panic with a *[ValidationError].
func (x *Pool) AddGroup(opts GroupOptions) *Group {
	return newGroup(x, opts)
}

// AddGenericTask validates opts, creates the task, registers it with its
// groups, and schedules a re-evaluation. The task's generator will not be
// invoked before AddGenericTask returns, guaranteeing the caller a chance
// to attach a waiter via [Task.Promise] first.
func (x *Pool) AddGenericTask(opts GenericTaskOptions) *Task {
	return x.addTask(opts, nil)
}

func (x *Pool) addTask(opts GenericTaskOptions, converter ResultConverter) *Task {
	if opts.Generator == nil {
		panic(validationErrorf(`taskpool: nil generator`))
	}
	validateGroupOptions(GroupOptions{
		ConcurrencyLimit: opts.ConcurrencyLimit,
		FrequencyLimit:   opts.FrequencyLimit,
		FrequencyWindow:  opts.FrequencyWindow,
	})
	for _, g := range opts.Groups {
		if g == nil || g.pool != x {
			panic(validationErrorf(`taskpool: group belongs to a different pool`))
		}
	}

	t := &Task{
		pool:            x,
		generator:       opts.Generator,
		converter:       converter,
		invocationLimit: opts.InvocationLimit,
	}
	if t.invocationLimit == 0 {
		t.invocationLimit = Unbounded
	} else if t.invocationLimit < 0 {
		t.invocationLimit = 0
	}
	if opts.Paused {
		t.state = TaskPaused
	}

	x.mu.Lock()
	t.id = opts.ID
	if t.id == `` {
		x.seq++
		t.id = fmt.Sprintf(`task-%d`, x.seq)
	}
	if _, ok := x.byID[t.id]; ok {
		x.mu.Unlock()
		panic(validationErrorf(`taskpool: duplicate task id: %s`, t.id))
	}
	private := newGroup(x, GroupOptions{
		ConcurrencyLimit: opts.ConcurrencyLimit,
		FrequencyLimit:   opts.FrequencyLimit,
		FrequencyWindow:  opts.FrequencyWindow,
	})
	t.groups = append(make([]*Group, 0, len(opts.Groups)+2), x.global, private)
	t.groups = append(t.groups, opts.Groups...)
	for _, g := range t.groups {
		g.incrementTasksLocked()
	}
	x.tasks = append(x.tasks, t)
	x.byID[t.id] = t
	x.mu.Unlock()

	x.logger.Debug().
		Str(`task`, t.id).
		Log(`task added`)
	x.wakeup()
	return t
}

func (x *Pool) removeTaskLocked(t *Task) {
	for i, v := range x.tasks {
		if v == t {
			x.tasks = append(x.tasks[:i], x.tasks[i+1:]...)
			break
		}
	}
	delete(x.byID, t.id)
}

// TaskStatus is a point-in-time snapshot of a task, see
// [Pool.GetTaskStatus].
type TaskStatus struct {
	ID                 string
	State              TaskState
	Invocations        int
	InvocationLimit    int
	ActivePromiseCount int
	ConcurrencyLimit   int
	FreeSlots          int
}

// GetTaskStatus returns a snapshot of the identified task, or false if no
// such task exists (terminated tasks are removed from the pool).
func (x *Pool) GetTaskStatus(id string) (TaskStatus, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	t, ok := x.byID[id]
	if !ok {
		return TaskStatus{}, false
	}
	return TaskStatus{
		ID:                 t.id,
		State:              t.state,
		Invocations:        t.invocations,
		InvocationLimit:    t.invocationLimit,
		ActivePromiseCount: t.pending,
		ConcurrencyLimit:   t.groups[1].concurrencyLimit,
		FreeSlots:          t.freeSlotsLocked(),
	}, true
}

// StopTask ends the identified task (see [Task.End]), returning false if no
// such task exists.
func (x *Pool) StopTask(id string) bool {
	x.mu.Lock()
	t, ok := x.byID[id]
	if ok {
		t.endLocked()
	}
	x.mu.Unlock()
	if ok {
		x.wakeup()
	}
	return ok
}

// WaitForIdle returns a future resolved once the pool has no active tasks,
// or rejected if any task recorded a rejection since the pool was last
// idle. Equivalent to WaitForIdle on the pool's global group.
func (x *Pool) WaitForIdle() *Future {
	return x.global.WaitForIdle()
}

// ConcurrencyLimit returns the pool-wide concurrency limit, [Unbounded] if
// none applies.
func (x *Pool) ConcurrencyLimit() int {
	return x.global.ConcurrencyLimit()
}

// SetConcurrencyLimit replaces the pool-wide concurrency limit.
func (x *Pool) SetConcurrencyLimit(limit int) {
	x.global.SetConcurrencyLimit(limit)
}

// FrequencyLimit returns the pool-wide frequency limit, 0 if disabled.
func (x *Pool) FrequencyLimit() int {
	return x.global.FrequencyLimit()
}

// SetFrequencyLimit replaces the pool-wide frequency limit and window.
func (x *Pool) SetFrequencyLimit(limit int, window time.Duration) {
	x.global.SetFrequencyLimit(limit, window)
}

// claimLocked marks a rejection handled. If it had already been surfaced as
// unobserved, the observer is additionally notified that it now has a
// reader.
func (x *Pool) claimLocked(rec *rejection) {
	if rec.handled {
		return
	}
	rec.handled = true
	if rec.reported {
		err := rec.err
		observer := x.observer
		go observer.RejectionHandled(err)
	}
}

// reportUnobservedLocked surfaces an error that will never reach a waiter,
// e.g. a second failure of an already-failed task.
func (x *Pool) reportUnobservedLocked(err error) {
	observer := x.observer
	go observer.UnhandledRejection(err)
}

// scheduleRejectionCheckLocked arranges the deferred unobserved-rejection
// check: if nothing claims the rejection before the check fires, it is
// surfaced via the pool's observer.
func (x *Pool) scheduleRejectionCheckLocked(taskID string, rec *rejection) {
	x.clock.AfterFunc(x.rejectionCheckDelay, func() {
		x.mu.Lock()
		unhandled := !rec.handled
		if unhandled {
			rec.reported = true
		}
		observer := x.observer
		x.mu.Unlock()
		if unhandled {
			observer.UnhandledRejection(&TaskError{TaskID: taskID, Cause: rec.err})
		}
	})
}
