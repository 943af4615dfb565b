package taskpool

import (
	"time"

	"golang.org/x/exp/slices"
)

const defaultQueuingDelay = time.Millisecond

// BatchGeneratorFunc produces one batch's worth of work: given the batched
// inputs, in queue order, it returns an operation completing with the
// outputs, as a []Result of exactly the same length. Return [Resolved] for
// work that completes synchronously. Each output is, positionally: [Retry]
// (requeue that input for the next batch), an error (reject that input's
// waiter), or any other value (resolve that input's waiter).
//
// An output sequence of the wrong length rejects every waiter in the batch
// with a *[BatchShapeError]; a panic, or a rejected operation, rejects
// every waiter in the batch with that error.
type BatchGeneratorFunc func(inputs []Result) *Future

// PersistentBatchTaskOptions models configuration, for
// [Pool.AddPersistentBatchTask].
type PersistentBatchTaskOptions struct {
	// Generator runs one batch. Required.
	Generator BatchGeneratorFunc

	// MaxBatchSize caps the number of inputs per batch, if positive.
	// Defaults to [Unbounded], if 0. Reaching it fires the queue
	// immediately, without waiting out the queuing delay.
	MaxBatchSize int

	// QueuingDelay is how long the queue coalesces inputs before firing,
	// measured from the queue becoming non-empty (or from the last batch
	// start, for inputs left behind by it). Defaults to 1ms, if 0.
	QueuingDelay time.Duration

	// QueuingThresholds caps concurrent-batch pressure: with n batches
	// already running, a new batch may only start once the queue holds at
	// least QueuingThresholds[min(n, len-1)] inputs. Defaults to [1]
	// (always allow). E.g. [1, 2] allows a second concurrent batch only
	// with at least 2 inputs queued; [1, Unbounded] never allows one.
	QueuingThresholds []int

	// ConcurrencyLimit restricts the number of concurrently running
	// batches, if positive. Defaults to [Unbounded], if 0.
	ConcurrencyLimit int

	// FrequencyLimit restricts the number of batch starts per sliding
	// window of FrequencyWindow, if positive. Defaults to disabled, if 0.
	FrequencyLimit int

	// FrequencyWindow is the length of the sliding window FrequencyLimit
	// applies to. Required (positive) iff FrequencyLimit is set.
	FrequencyWindow time.Duration

	// ID identifies the backing task. Defaults to a generated id.
	ID string
}

// PersistentBatchTask coalesces individual inputs, submitted via
// [PersistentBatchTask.GetResult], into batched generator invocations, run
// through the owning pool (and therefore subject to any configured
// concurrency and frequency limits). Instances must be initialized using
// the [Pool.AddPersistentBatchTask] factory.
type PersistentBatchTask struct {
	pool      *Pool
	task      *Task // re-armable backing task; paused while nothing may start
	generator BatchGeneratorFunc

	maxBatchSize int
	queuingDelay time.Duration
	thresholds   []int

	// guarded by pool.mu
	queue      []batchItem
	running    int
	timer      Timer
	timerSeq   int // invalidates fires from superseded timers
	timerArmed bool
	ready      bool // delay elapsed, or Send called, since the last batch start
	ended      bool
}

type batchItem struct {
	input Result
	out   settler
}

// AddPersistentBatchTask validates opts and creates the batching
// coordinator, backed by a task registered with this pool. Invalid options
// panic with a *[ValidationError].
func (x *Pool) AddPersistentBatchTask(opts PersistentBatchTaskOptions) *PersistentBatchTask {
	if opts.Generator == nil {
		panic(validationErrorf(`taskpool: nil generator`))
	}
	if opts.MaxBatchSize < 0 {
		panic(validationErrorf(`taskpool: invalid max batch size: %d`, opts.MaxBatchSize))
	}
	if opts.QueuingDelay < 0 {
		panic(validationErrorf(`taskpool: invalid queuing delay: %s`, opts.QueuingDelay))
	}
	for _, v := range opts.QueuingThresholds {
		if v < 1 {
			panic(validationErrorf(`taskpool: invalid queuing threshold: %d`, v))
		}
	}

	b := &PersistentBatchTask{
		pool:         x,
		generator:    opts.Generator,
		maxBatchSize: opts.MaxBatchSize,
		queuingDelay: opts.QueuingDelay,
		thresholds:   slices.Clone(opts.QueuingThresholds),
	}
	if b.maxBatchSize == 0 {
		b.maxBatchSize = Unbounded
	}
	if b.queuingDelay == 0 {
		b.queuingDelay = defaultQueuingDelay
	}
	if len(b.thresholds) == 0 {
		b.thresholds = []int{1}
	}
	b.task = x.addTask(GenericTaskOptions{
		Generator:        b.generate,
		ConcurrencyLimit: opts.ConcurrencyLimit,
		FrequencyLimit:   opts.FrequencyLimit,
		FrequencyWindow:  opts.FrequencyWindow,
		Paused:           true,
		ID:               opts.ID,
	}, nil)
	return b
}

// GetResult queues an input, returning a future completing with that
// input's output once a batch containing it has run. Rejected immediately
// with [ErrEnded] if the batcher has ended.
func (x *PersistentBatchTask) GetResult(input Result) *Future {
	x.pool.mu.Lock()
	if x.ended {
		x.pool.mu.Unlock()
		return Rejected(ErrEnded)
	}
	fut, resolveFn, rejectFn := NewFuture()
	x.queue = append(x.queue, batchItem{input, settler{resolveFn, rejectFn}})
	if !x.ready {
		x.armTimerLocked()
	}
	x.maybeStartLocked()
	x.pool.mu.Unlock()
	return fut
}

// Send fires the queue without waiting out the queuing delay, still subject
// to the queuing thresholds: if they forbid an immediate start, the request
// is remembered, and the queue fires as soon as a threshold is satisfied
// (e.g. by an in-flight batch completing).
func (x *PersistentBatchTask) Send() {
	x.pool.mu.Lock()
	if !x.ended && len(x.queue) > 0 {
		x.ready = true
		x.maybeStartLocked()
	}
	x.pool.mu.Unlock()
}

// End transitions the batcher to terminated: all queued waiters, and any
// future GetResult calls, are rejected with [ErrEnded]. In-flight batches
// still complete.
func (x *PersistentBatchTask) End() {
	x.pool.mu.Lock()
	if !x.ended {
		x.ended = true
		x.stopTimerLocked()
		queued := x.queue
		x.queue = nil
		for _, item := range queued {
			item.out.reject(ErrEnded)
		}
		x.task.endLocked()
	}
	x.pool.mu.Unlock()
	x.pool.wakeup()
}

// State reports the batcher's lifecycle: [TaskActive] until End is called,
// then [TaskExhausted] while batches remain in flight, then
// [TaskTerminated].
func (x *PersistentBatchTask) State() TaskState {
	x.pool.mu.Lock()
	defer x.pool.mu.Unlock()
	switch {
	case !x.ended:
		return TaskActive
	case x.running > 0:
		return TaskExhausted
	}
	return TaskTerminated
}

// thresholdLocked returns the queue depth required to start another batch,
// given the number currently running.
func (x *PersistentBatchTask) thresholdLocked() int {
	i := x.running
	if i >= len(x.thresholds) {
		i = len(x.thresholds) - 1
	}
	return x.thresholds[i]
}

func (x *PersistentBatchTask) startableLocked() bool {
	if x.ended || len(x.queue) == 0 || len(x.queue) < x.thresholdLocked() {
		return false
	}
	return x.ready || len(x.queue) >= x.maxBatchSize
}

// maybeStartLocked resumes the backing task when a batch may start; the
// scheduler then invokes the generator, subject to the backing task's own
// limits.
func (x *PersistentBatchTask) maybeStartLocked() {
	if !x.startableLocked() {
		return
	}
	if x.task.state == TaskPaused {
		x.task.state = TaskActive
	}
	x.pool.wakeup()
}

func (x *PersistentBatchTask) armTimerLocked() {
	if x.timerArmed || x.ended {
		return
	}
	x.timerArmed = true
	x.timerSeq++
	seq := x.timerSeq
	x.timer = x.pool.clock.AfterFunc(x.queuingDelay, func() {
		x.pool.mu.Lock()
		if seq == x.timerSeq {
			x.timerArmed = false
			x.timer = nil
			if !x.ended && len(x.queue) > 0 {
				x.ready = true
				x.maybeStartLocked()
			}
		}
		x.pool.mu.Unlock()
	})
}

func (x *PersistentBatchTask) stopTimerLocked() {
	if x.timer != nil {
		x.timer.Stop()
		x.timer = nil
	}
	x.timerArmed = false
	x.timerSeq++
}

// generate is the backing task's generator. Each invocation starts at most
// one batch; when none may start, it pauses the backing task instead, and
// produces no invocation.
func (x *PersistentBatchTask) generate(t *Task, _ int) (Result, bool) {
	x.pool.mu.Lock()
	if x.ended {
		x.pool.mu.Unlock()
		return nil, false
	}
	if !x.startableLocked() {
		if t.state == TaskActive {
			t.state = TaskPaused
		}
		x.pool.mu.Unlock()
		return nil, false
	}

	n := len(x.queue)
	if n > x.maxBatchSize {
		n = x.maxBatchSize
	}
	items := slices.Clone(x.queue[:n])
	x.queue = slices.Clone(x.queue[n:])
	x.running++
	x.ready = false
	x.stopTimerLocked()
	if len(x.queue) > 0 {
		// the delay restarts for the inputs left behind
		x.armTimerLocked()
	}
	x.pool.logger.Debug().
		Str(`task`, t.id).
		Int(`inputs`, len(items)).
		Int(`queued`, len(x.queue)).
		Log(`batch dispatched`)
	x.pool.mu.Unlock()

	inputs := make([]Result, len(items))
	for i := range items {
		inputs[i] = items[i].input
	}
	operation := x.callGenerator(inputs)

	fut, resolveFn, _ := NewFuture()
	go func() {
		<-operation.Done()
		outputs, err, _ := operation.Peek()
		x.pool.mu.Lock()
		x.dispatchLocked(items, outputs, err)
		x.pool.mu.Unlock()
		// completes the backing invocation; nil, so no result accumulates
		resolveFn(nil)
		x.pool.wakeup()
	}()
	return fut, true
}

func (x *PersistentBatchTask) callGenerator(inputs []Result) (fut *Future) {
	defer func() {
		if r := recover(); r != nil {
			fut = Rejected(GeneratorPanicError{Value: r})
		}
	}()
	fut = x.generator(inputs)
	if fut == nil {
		fut = Rejected(validationErrorf(`taskpool: nil batch operation`))
	}
	return fut
}

// dispatchLocked fans a completed batch's outcome back to the per-input
// waiters, requeueing retried inputs at the head of the queue (ahead of any
// freshly queued inputs, preserving their original relative order).
func (x *PersistentBatchTask) dispatchLocked(items []batchItem, v Result, err error) {
	x.running--
	switch outputs, isOutputs := v.([]Result); {
	case err != nil:
		for _, item := range items {
			item.out.reject(err)
		}
	case !isOutputs || len(outputs) != len(items):
		serr := &BatchShapeError{Inputs: len(items)}
		if isOutputs {
			serr.Outputs = len(outputs)
		} else {
			serr.Outputs = -1
		}
		for _, item := range items {
			item.out.reject(serr)
		}
	default:
		var retries []batchItem
		for i, out := range outputs {
			switch out := out.(type) {
			case retryMarker:
				retries = append(retries, items[i])
			case error:
				items[i].out.reject(out)
			default:
				items[i].out.resolve(out)
			}
		}
		if len(retries) > 0 {
			x.queue = append(retries, x.queue...)
			if !x.ready {
				x.armTimerLocked()
			}
		}
	}
	// a pending Send, or a now-satisfied threshold, may admit a batch
	x.maybeStartLocked()
}
