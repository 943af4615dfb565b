// Package taskpool implements a cooperative, single-threaded concurrency
// pool executor: it schedules the invocation of registered tasks subject to
// simultaneous per-task, per-group concurrency limits, per-group sliding
// window frequency (rate) limits, and per-task invocation limits.
//
// Layered on top is [PersistentBatchTask], a coordinator that coalesces
// individual input requests into batched generator invocations, subject to
// a maximum batch size, a queuing delay, and layered queuing thresholds
// that cap how many batches may run concurrently.
//
// # Model
//
// A [Pool] owns a registry of [Task] values and a global [Group]. Every
// task additionally belongs to a private [Group] (enforcing its own
// concurrency/frequency limits) and, optionally, any number of
// caller-supplied groups shared across tasks. A single scheduling
// goroutine invokes generators, one at a time; all other entry points
// (the public API, operation completions, timed wake-ups) only mutate
// shared state and nudge it. Generators may therefore re-enter the public
// API freely, and a task submitted from inside a generator is never
// invoked before the submitting generator returns.
//
// # Usage
//
//	pool := taskpool.NewPool()
//	defer pool.Close()
//
//	task := pool.AddGenericTask(taskpool.GenericTaskOptions{
//		Generator: func(task *taskpool.Task, invocation int) (taskpool.Result, bool) {
//			if invocation >= 3 {
//				return nil, false // exhausted
//			}
//			return taskpool.Resolved(invocation), true
//		},
//	})
//
//	result, err := task.Promise().Wait(context.Background())
//
// See also [PersistentBatchTask], for coalescing many single-item requests
// into fewer generator invocations.
package taskpool
