package taskpool

import (
	"context"
	"sync"
)

// Result models the value carried by a resolved [Future]. It may be any
// type at all; generators and their waiters agree on the concrete types.
type Result = any

// futureState is the three-state lifecycle of a single-shot resolvable: it
// starts pending and settles exactly once, irreversibly, into resolved or
// rejected.
type futureState int8

const (
	pending futureState = iota
	resolved
	rejected
)

// Future is a read-only view of a single-shot, future value. It may be
// waited on by any number of goroutines, and settles (resolves or rejects)
// at most once.
type Future struct {
	mu     sync.Mutex
	state  futureState
	result Result
	err    error
	done   chan struct{}
}

// NewFuture creates a pending [Future], returning it alongside resolve and
// reject closures that settle it exactly once (subsequent calls are no-ops).
func NewFuture() (fut *Future, resolveFn func(Result), rejectFn func(error)) {
	f := &Future{done: make(chan struct{})}
	return f, f.resolve, f.reject
}

// Resolved returns a [Future] already settled with the given value.
func Resolved(v Result) *Future {
	f := &Future{done: make(chan struct{}), state: resolved, result: v}
	close(f.done)
	return f
}

// Rejected returns a [Future] already settled with the given error.
func Rejected(err error) *Future {
	f := &Future{done: make(chan struct{}), state: rejected, err: err}
	close(f.done)
	return f
}

// Go runs fn on a new goroutine, returning a [Future] that settles with its
// result. Convenience sugar for generators that wrap ordinary blocking work.
func Go(fn func() (Result, error)) *Future {
	fut, resolveFn, rejectFn := NewFuture()
	go func() {
		v, err := fn()
		if err != nil {
			rejectFn(err)
			return
		}
		resolveFn(v)
	}()
	return fut
}

func (f *Future) resolve(v Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != pending {
		return
	}
	f.state = resolved
	f.result = v
	close(f.done)
}

func (f *Future) reject(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != pending {
		return
	}
	f.state = rejected
	f.err = err
	close(f.done)
}

// Done returns a channel closed once the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Peek returns the current result/error without blocking, and whether the
// future has settled yet.
func (f *Future) Peek() (Result, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err, f.state != pending
}

// Wait blocks until the future settles or ctx is done, whichever comes
// first.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
