package taskpool

import (
	"errors"
	"fmt"
)

// ErrEnded is the rejection delivered to queued and future waiters of a
// [PersistentBatchTask] once its End method has been called.
var ErrEnded = errors.New(`taskpool: ended`)

// ValidationError reports invalid configuration: bad limits, a group from
// another pool, a duplicate task id, and similar. Construction entry points
// panic with a *ValidationError rather than returning it.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// TaskError associates a task's recorded rejection with the task it came
// from. It is the value passed to [RejectionObserver.UnhandledRejection];
// waiters themselves receive the underlying cause.
type TaskError struct {
	TaskID string
	Cause  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf(`taskpool: task %s: %v`, e.TaskID, e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// GeneratorPanicError wraps a value recovered from a panicking generator,
// which is recorded as that task's failure.
type GeneratorPanicError struct {
	Value any
}

func (e GeneratorPanicError) Error() string {
	return fmt.Sprintf(`taskpool: generator panic: %v`, e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type,
// enabling [errors.Is] and [errors.As] through the cause chain.
func (e GeneratorPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// BatchShapeError rejects every waiter of a batch whose generator produced
// a number of outputs different to the number of inputs it was given.
type BatchShapeError struct {
	Inputs  int
	Outputs int
}

func (e *BatchShapeError) Error() string {
	return fmt.Sprintf(`taskpool: batch output length %d does not match input length %d`, e.Outputs, e.Inputs)
}

// retryMarker is the type of [Retry]. It deliberately has no other values.
type retryMarker struct{}

// Retry is the distinguished per-item batch output value: returning it at
// index i of a batch generator's outputs requeues input i at the head of the
// queue, ahead of any freshly queued inputs, to be included in the next
// batch.
var Retry retryMarker
