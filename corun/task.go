package corun

import (
	"fmt"
	"sync/atomic"
)

type stepKind uint8

const (
	stepSuspend stepKind = iota
	stepComplete
	stepFail
)

// Step is the outcome of one synchronous segment of a task: suspend with a
// registered wake condition, complete with a value, or fail with an error.
// Suspend steps are only produced by Continuation helpers so that every
// suspension carries its wake registration.
type Step struct {
	kind  stepKind
	value any
	err   error
}

// Complete finishes the task with a value.
func Complete(v any) Step { return Step{kind: stepComplete, value: v} }

// Fail finishes the task with an error.
func Fail(err error) Step { return Step{kind: stepFail, err: err} }

// StepFunc is one resumable unit of work. It is called once per segment;
// the continuation's program counter tells it where to resume. A step
// function must not block the worker: any wait is expressed by returning a
// suspend step obtained from the continuation.
type StepFunc func(co *Continuation) Step

// Task binds a step function to its continuation and current dispatcher.
// Its lifecycle state lives on the owning Job.
type Task struct {
	step StepFunc
	job  *Job
	disp *Dispatcher
	co   *Continuation

	// running marks a synchronous segment in flight; cancellation defers
	// to it (graceful cancellation: segments are never preempted).
	running atomic.Bool
}

func newTask(step StepFunc, disp *Dispatcher) *Task {
	t := &Task{step: step, disp: disp}
	t.co = &Continuation{task: t}
	return t
}

// Dispatcher returns the dispatcher the task currently runs on.
func (t *Task) Dispatcher() *Dispatcher { return t.disp }

// run executes one synchronous segment on a worker goroutine. running is
// set before the state checks: a concurrent cancel either lands first and
// is observed here, or sees the flag and defers finalization to the end
// of this segment.
func (t *Task) run() {
	j := t.job
	t.running.Store(true)
	if j.terminal() {
		t.running.Store(false)
		return // outcome already decided, stale wake-up
	}
	if j.cancelRequested() {
		t.running.Store(false)
		j.tryFinishCancel() // cancellation observed at the resume point
		return
	}
	st := t.safeStep()
	t.running.Store(false)
	switch st.kind {
	case stepComplete:
		j.complete(st.value)
	case stepFail:
		j.fail(st.err)
	case stepSuspend:
		t.co.park()
	}
}

func (t *Task) safeStep() (st Step) {
	defer func() {
		if r := recover(); r != nil {
			if t.job.scope.opts.PanicAsError {
				st = Fail(fmt.Errorf("panic: %v", r))
				return
			}
			t.running.Store(false)
			panic(r)
		}
	}()
	return t.step(t.co)
}

func (t *Task) resubmit() {
	if err := t.disp.Submit(t); err != nil {
		t.job.cancelWith(&CancelledError{Reason: err, origin: t.job.id})
	}
}
