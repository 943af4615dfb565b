package taskpool

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestTask_resultsInInvocationOrder(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			if i >= 3 {
				return nil, false
			}
			return i * 10, true
		},
	})

	v, err := waitResult(t, task.Promise())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, Result([]Result{0, 10, 20})) {
		t.Error(v)
	}
	if task.State() != TaskTerminated {
		t.Error(task.State())
	}
}

// results land at their invocation index, regardless of completion order
func TestTask_outOfOrderCompletion(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	settlers := make(chan func(Result), 2)
	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			if i >= 2 {
				return nil, false
			}
			fut, resolveFn, _ := NewFuture()
			settlers <- resolveFn
			return fut, true
		},
	})

	resolve0 := <-settlers
	resolve1 := <-settlers
	resolve1(`second`)
	resolve0(`first`)

	v, err := waitResult(t, task.Promise())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, Result([]Result{`first`, `second`})) {
		t.Error(v)
	}
}

func TestTask_invocationLimit(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			return i, true
		},
		InvocationLimit: 2,
	})

	v, err := waitResult(t, task.Promise())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, Result([]Result{0, 1})) {
		t.Error(v)
	}
}

// a task with a zero invocation limit resolves immediately, with an empty
// result sequence
func TestTask_zeroInvocationLimit(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			panic(`should not be called`)
		},
		InvocationLimit: -1,
	})

	v, err := waitResult(t, task.Promise())
	if err != nil {
		t.Fatal(err)
	}
	if results, ok := v.([]Result); !ok || len(results) != 0 {
		t.Error(v)
	}
}

func TestTask_SetInvocationLimit(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	release := make(chan struct{})
	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			return Go(func() (Result, error) {
				<-release
				return i, nil
			}), true
		},
		ConcurrencyLimit: 1,
	})

	waitCondition(t, func() bool { return task.Invocations() == 1 })
	task.SetInvocationLimit(1)
	close(release)

	v, err := waitResult(t, task.Promise())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, Result([]Result{0})) {
		t.Error(v)
	}

	expectValidationPanic(t, func() { task.SetInvocationLimit(-1) })
}

// pause/resume on an active task must not disturb result ordering
func TestTask_pauseResumeRoundTrip(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			if i >= 4 {
				return nil, false
			}
			return i, true
		},
		ConcurrencyLimit: 1,
	})
	task.Pause()
	task.Resume()

	v, err := waitResult(t, task.Promise())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, Result([]Result{0, 1, 2, 3})) {
		t.Error(v)
	}
}

func TestTask_pausedNeverInvoked(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			panic(`should not be called`)
		},
		Paused: true,
	})

	time.Sleep(time.Millisecond * 50)
	if task.Invocations() != 0 || task.State() != TaskPaused {
		t.Error(task.Invocations(), task.State())
	}
	task.End()
	if _, err := waitResult(t, task.Promise()); err != nil {
		t.Error(err)
	}
}

// ending a task with work in flight exhausts it; termination waits for the
// last in-flight completion
func TestTask_endWithInFlight(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	release := make(chan struct{})
	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			return Go(func() (Result, error) {
				<-release
				return i, nil
			}), true
		},
		ConcurrencyLimit: 1,
	})

	waitCondition(t, func() bool { return task.ActivePromiseCount() == 1 })
	task.End()
	if state := task.State(); state != TaskExhausted {
		t.Fatal(state)
	}

	close(release)
	if _, err := waitResult(t, task.Promise()); err != nil {
		t.Fatal(err)
	}
	if task.State() != TaskTerminated {
		t.Error(task.State())
	}
}

// a paused task still terminates once its in-flight work drains, if it was
// ended while paused
func TestTask_pausedThenExhausted(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	release := make(chan struct{})
	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			return Go(func() (Result, error) {
				<-release
				return i, nil
			}), true
		},
		ConcurrencyLimit: 1,
	})

	waitCondition(t, func() bool { return task.ActivePromiseCount() == 1 })
	task.Pause()
	task.End()
	if state := task.State(); state != TaskExhausted {
		t.Fatal(state)
	}

	close(release)
	if _, err := waitResult(t, task.Promise()); err != nil {
		t.Fatal(err)
	}
	if task.State() != TaskTerminated {
		t.Error(task.State())
	}
}

func TestTask_generatorPanic(t *testing.T) {
	pool, _ := newTestPool(t)

	cause := errors.New(`some error`)
	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			panic(cause)
		},
	})

	_, err := waitResult(t, task.Promise())
	var panicErr GeneratorPanicError
	if !errors.As(err, &panicErr) || panicErr.Value != any(cause) {
		t.Error(err)
	}
	if !errors.Is(err, cause) {
		t.Error(err)
	}
	if task.State() != TaskTerminated {
		t.Error(task.State())
	}
}

func TestTask_asyncRejection(t *testing.T) {
	pool, _ := newTestPool(t)

	cause := errors.New(`some error`)
	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			return Rejected(cause), true
		},
	})

	if _, err := waitResult(t, task.Promise()); err != cause {
		t.Error(err)
	}
}

// nil completion values are deliberately not stored
func TestTask_nilResultsNotStored(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			if i >= 5 {
				return nil, false
			}
			return Resolved(nil), true
		},
	})

	v, err := waitResult(t, task.Promise())
	if err != nil {
		t.Fatal(err)
	}
	if results, ok := v.([]Result); !ok || len(results) != 0 {
		t.Error(v)
	}
	if task.Invocations() != 5 {
		t.Error(task.Invocations())
	}
}

func TestTask_freeSlots(t *testing.T) {
	pool := NewPool(WithConcurrencyLimit(5))
	defer pool.Close()

	release := make(chan struct{})
	defer close(release)
	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			return Go(func() (Result, error) {
				<-release
				return nil, nil
			}), true
		},
		ConcurrencyLimit: 3,
		InvocationLimit:  10,
	})

	waitCondition(t, func() bool { return task.ActivePromiseCount() == 3 })
	if v := task.FreeSlots(); v != 0 {
		t.Error(v)
	}

	other := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) { return nil, false },
		Paused:    true,
	})
	// global: 5 - 3 active = 2; own concurrency and invocation limits unbounded
	if v := other.FreeSlots(); v != 2 {
		t.Error(v)
	}
	other.End()
}

func TestTask_mutatorsProxyPrivateGroup(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) { return nil, false },
		Paused:    true,
	})

	if task.ConcurrencyLimit() != Unbounded {
		t.Error(task.ConcurrencyLimit())
	}
	task.SetConcurrencyLimit(2)
	if task.ConcurrencyLimit() != 2 {
		t.Error(task.ConcurrencyLimit())
	}
	task.SetFrequencyLimit(1, time.Second)
	if task.FrequencyLimit() != 1 || task.FrequencyWindow() != time.Second {
		t.Error(task.FrequencyLimit(), task.FrequencyWindow())
	}
	task.End()
}

func TestTask_promiseAfterTermination(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	task := pool.AddGenericTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			if i >= 1 {
				return nil, false
			}
			return `value`, true
		},
	})

	if _, err := waitResult(t, task.Promise()); err != nil {
		t.Fatal(err)
	}
	// a waiter attached after termination resolves immediately
	v, err := waitResult(t, task.Promise())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, Result([]Result{`value`})) {
		t.Error(v)
	}
}
