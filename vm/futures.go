package vm

// Future is a deferred computation. The cooperative model is explicit:
// nothing runs until AWAIT forces the future or RUN_TASKS drains the
// queue it was scheduled on.
type Future struct {
	run  func() (Value, error)
	done bool
	val  Value
	err  error
}

// NewFuture wraps a computation. The function runs at most once; the
// result is memoized for repeated awaits.
func NewFuture(run func() (Value, error)) *Future {
	return &Future{run: run}
}

// resolvedFuture is a future already holding its value.
func resolvedFuture(v Value) *Future {
	return &Future{done: true, val: v}
}

// Force runs the future if it has not run yet and returns its result.
func (f *Future) Force() (Value, error) {
	if !f.done {
		f.val, f.err = f.run()
		f.err = asRuntimeError(f.err)
		f.done = true
		f.run = nil
	}
	return f.val, f.err
}

// asRuntimeError keeps guard errors fatal and wraps anything else so a
// failed future can be caught like any runtime fault.
func asRuntimeError(err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *RuntimeError, *GuardError:
		return err
	}
	return &RuntimeError{Type: "Error", Msg: err.Error()}
}

// taskQueue is the SCHEDULE/RUN_TASKS FIFO. It lives on the interpreter
// so every frame schedules onto the same queue.
type taskQueue struct {
	tasks []*Future
}

func (q *taskQueue) push(f *Future) {
	q.tasks = append(q.tasks, f)
}

// drain runs every queued future in order, collecting results. A failed
// future contributes its error text instead of aborting the drain.
// Futures scheduled while draining run in the same pass.
func (q *taskQueue) drain() *List {
	results := NewList()
	for len(q.tasks) > 0 {
		f := q.tasks[0]
		q.tasks = q.tasks[1:]
		v, err := f.Force()
		if err != nil {
			results.Items = append(results.Items, err.Error())
			continue
		}
		results.Items = append(results.Items, v)
	}
	return results
}
