package corun

import (
	"sync"
	"time"
)

// Continuation is the resume point of a task: a program counter that
// advances at every suspension, plus a single slot for the value or error
// being delivered into the suspended computation. It is owned by its task;
// at most one resume value may be pending at a time.
//
// Step functions are written as a switch over PC: each case runs one
// synchronous segment and either finishes the task or suspends through one
// of the helpers below.
type Continuation struct {
	task *Task

	mu      sync.Mutex
	pc      int
	parked  bool // segment ended in suspension; next resume re-submits
	pending bool // a resume value awaits consumption
	value   any
	err     error
}

// PC returns the current resume point. It starts at 0 and advances by one
// at every suspension.
func (co *Continuation) PC() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.pc
}

// Job returns the job this continuation belongs to.
func (co *Continuation) Job() *Job { return co.task.job }

// Dispatcher returns the dispatcher the task currently runs on.
func (co *Continuation) Dispatcher() *Dispatcher { return co.task.disp }

// advance moves to the next resume point and discards any unconsumed
// delivery: a fresh suspension starts with an empty slot.
func (co *Continuation) advance() {
	co.mu.Lock()
	co.pc++
	co.pending = false
	co.value, co.err = nil, nil
	co.mu.Unlock()
}

// Result takes the value or error delivered by the resume that woke the
// current segment up.
func (co *Continuation) Result() (any, error) {
	co.mu.Lock()
	defer co.mu.Unlock()
	v, err := co.value, co.err
	co.pending = false
	co.value, co.err = nil, nil
	return v, err
}

// Sleep suspends the task until at least d has elapsed.
func (co *Continuation) Sleep(d time.Duration) Step {
	co.advance()
	if err := co.task.disp.ScheduleAfter(d, func() {
		_ = co.Resume(nil)
	}); err != nil {
		return Fail(err)
	}
	return Step{kind: stepSuspend}
}

// Await suspends the task until j reaches a terminal state, then delivers
// j's outcome into the continuation; the next segment reads it back with
// Result. Awaiting a job that was never started is a programmer error.
func (co *Continuation) Await(j *Job) Step {
	j.mu.Lock()
	if j.state == StateNew {
		j.mu.Unlock()
		return Fail(ErrJoinUnstarted)
	}
	j.observed = true
	j.mu.Unlock()
	co.advance()
	j.OnDone(func(done *Job) {
		v, err := done.outcome()
		if err != nil {
			_ = co.ResumeError(err)
			return
		}
		_ = co.Resume(v)
	})
	return Step{kind: stepSuspend}
}

// Yield suspends the task and immediately re-queues it, giving other
// runnable tasks a turn on the worker pool.
func (co *Continuation) Yield() Step {
	co.advance()
	_ = co.Resume(nil)
	return Step{kind: stepSuspend}
}

// SwitchTo moves the task onto another dispatcher: the current segment
// finishes on the current worker pool and the next one runs on d. The
// task's logical identity, job and continuation are preserved.
func (co *Continuation) SwitchTo(d *Dispatcher) Step {
	if d == nil {
		return Fail(ErrSchedulerClosed)
	}
	co.advance()
	co.task.disp = d
	_ = co.Resume(nil)
	return Step{kind: stepSuspend}
}

// Suspend suspends the task with no wake condition of its own. The caller
// must arrange for Resume or ResumeError to be invoked by an external
// collaborator (a UI-thread marshaller, a non-blocking I/O backend, a
// plain goroutine bridging blocking work).
func (co *Continuation) Suspend() Step {
	co.advance()
	return Step{kind: stepSuspend}
}

// Launch starts a new job as a child of this continuation's job,
// inheriting the scope configuration.
func (co *Continuation) Launch(step StepFunc, optFns ...LaunchOption) (*Job, error) {
	opts := append([]LaunchOption{AsChildOf(co.task.job)}, optFns...)
	return co.task.job.scope.Launch(step, opts...)
}

// Resume delivers a value into the suspended task and schedules it to run.
// Delivering into a job that already reached a terminal state is a dropped
// no-op; delivering while a previous value is still pending returns
// ErrDoubleResume.
func (co *Continuation) Resume(v any) error { return co.resume(v, nil) }

// ResumeError delivers an error into the suspended task. See Resume.
func (co *Continuation) ResumeError(err error) error { return co.resume(nil, err) }

func (co *Continuation) resume(v any, err error) error {
	t := co.task
	if t.job.terminal() {
		return nil
	}
	co.mu.Lock()
	if co.pending {
		co.mu.Unlock()
		return ErrDoubleResume
	}
	co.pending = true
	co.value, co.err = v, err
	wasParked := co.parked
	co.parked = false
	co.mu.Unlock()
	if wasParked {
		if obs := t.job.scope.obs; obs != nil {
			obs.TaskResumed(t.job.scope.ctx)
		}
		t.resubmit()
	}
	return nil
}

// park records that the current segment ended in suspension. If a resume
// raced ahead of the segment's return the task is re-queued right away;
// if cancellation was requested meanwhile, this is the suspension point at
// which it is observed.
func (co *Continuation) park() {
	t := co.task
	j := t.job
	if j.terminal() {
		return
	}
	co.mu.Lock()
	if co.pending {
		co.mu.Unlock()
		t.resubmit()
		return
	}
	co.parked = true
	co.mu.Unlock()
	if obs := j.scope.obs; obs != nil {
		obs.TaskSuspended(j.scope.ctx)
	}
	if j.cancelRequested() {
		j.tryFinishCancel()
	}
}
