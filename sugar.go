package taskpool

// SingleTaskOptions models configuration, for [Pool.AddSingleTask].
type SingleTaskOptions struct {
	// Data is passed through to the generator, untouched.
	Data Result

	// Generator produces the task's single operation. Required.
	Generator func(data Result) Result

	// ID identifies the task. Defaults to a generated id.
	ID string
}

// AddSingleTask creates a task invoked exactly once, whose promise resolves
// with the result of that single invocation, rather than a result sequence.
func (x *Pool) AddSingleTask(opts SingleTaskOptions) *Task {
	if opts.Generator == nil {
		panic(validationErrorf(`taskpool: nil generator`))
	}
	return x.addTask(GenericTaskOptions{
		Generator: func(*Task, int) (Result, bool) {
			return opts.Generator(opts.Data), true
		},
		InvocationLimit: 1,
		ID:              opts.ID,
	}, func(results []Result) Result {
		if len(results) > 0 {
			return results[0]
		}
		return nil
	})
}

// LinearTaskOptions models configuration, for [Pool.AddLinearTask].
type LinearTaskOptions struct {
	// Generator produces the task's work. Required.
	Generator GeneratorFunc

	// InvocationLimit caps the number of invocations, if positive.
	// Defaults to [Unbounded], if 0.
	InvocationLimit int

	// ID identifies the task. Defaults to a generated id.
	ID string
}

// AddLinearTask creates a task whose invocations run one at a time, in
// order: a generic task with a concurrency limit of 1.
func (x *Pool) AddLinearTask(opts LinearTaskOptions) *Task {
	return x.addTask(GenericTaskOptions{
		Generator:        opts.Generator,
		ConcurrencyLimit: 1,
		InvocationLimit:  opts.InvocationLimit,
		ID:               opts.ID,
	}, nil)
}

// EachTaskOptions models configuration, for [Pool.AddEachTask].
type EachTaskOptions struct {
	// Data supplies one element per invocation.
	Data []Result

	// Generator produces the operation for one element. Required.
	Generator func(datum Result, index int) Result

	// ConcurrencyLimit restricts this task's concurrently active
	// invocations, if positive. Defaults to [Unbounded], if 0.
	ConcurrencyLimit int

	// InvocationLimit caps the number of invocations, if positive.
	// Defaults to [Unbounded], if 0.
	InvocationLimit int

	// ID identifies the task. Defaults to a generated id.
	ID string
}

// AddEachTask creates a task that applies the generator to each element of
// Data, in order, exhausting once every element has been consumed. Results
// are collected at the element's index.
func (x *Pool) AddEachTask(opts EachTaskOptions) *Task {
	if opts.Generator == nil {
		panic(validationErrorf(`taskpool: nil generator`))
	}
	data := opts.Data
	return x.addTask(GenericTaskOptions{
		Generator: func(_ *Task, i int) (Result, bool) {
			if i >= len(data) {
				return nil, false
			}
			return opts.Generator(data[i], i), true
		},
		ConcurrencyLimit: opts.ConcurrencyLimit,
		InvocationLimit:  opts.InvocationLimit,
		ID:               opts.ID,
	}, nil)
}

// BatchTaskOptions models configuration, for [Pool.AddBatchTask].
type BatchTaskOptions struct {
	// Data supplies the elements, consumed in contiguous chunks.
	Data []Result

	// BatchSize fixes the chunk size, if positive. Exactly one of
	// BatchSize and BatchSizer must be set.
	BatchSize int

	// BatchSizer determines the next chunk size dynamically, given the
	// number of remaining elements and the task's current free slots. A
	// non-positive return value is a task failure.
	BatchSizer func(remaining, freeSlots int) int

	// Generator produces the operation for one chunk. Required. The chunk
	// aliases Data; startIndex is the chunk's offset within it.
	Generator func(chunk []Result, startIndex int) Result

	// ConcurrencyLimit restricts this task's concurrently active
	// invocations, if positive. Defaults to [Unbounded], if 0.
	ConcurrencyLimit int

	// InvocationLimit caps the number of invocations, if positive.
	// Defaults to [Unbounded], if 0.
	InvocationLimit int

	// ID identifies the task. Defaults to a generated id.
	ID string
}

// AddBatchTask creates a task that applies the generator to contiguous
// chunks of Data, exhausting once every element has been consumed. The
// chunk size is either fixed (BatchSize) or consulted per invocation
// (BatchSizer).
func (x *Pool) AddBatchTask(opts BatchTaskOptions) *Task {
	if opts.Generator == nil {
		panic(validationErrorf(`taskpool: nil generator`))
	}
	if (opts.BatchSize > 0) == (opts.BatchSizer != nil) {
		panic(validationErrorf(`taskpool: exactly one of BatchSize and BatchSizer must be set`))
	}
	if opts.BatchSize < 0 {
		panic(validationErrorf(`taskpool: invalid batch size: %d`, opts.BatchSize))
	}
	data := opts.Data
	var offset int
	return x.addTask(GenericTaskOptions{
		Generator: func(t *Task, _ int) (Result, bool) {
			remaining := len(data) - offset
			if remaining <= 0 {
				return nil, false
			}
			n := opts.BatchSize
			if opts.BatchSizer != nil {
				n = opts.BatchSizer(remaining, t.FreeSlots())
				if n <= 0 {
					panic(validationErrorf(`taskpool: batch sizer returned %d`, n))
				}
			}
			if n > remaining {
				n = remaining
			}
			chunk := data[offset : offset+n : offset+n]
			start := offset
			offset += n
			return opts.Generator(chunk, start), true
		},
		ConcurrencyLimit: opts.ConcurrencyLimit,
		InvocationLimit:  opts.InvocationLimit,
		ID:               opts.ID,
	}, nil)
}
