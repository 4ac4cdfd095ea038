package corun

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a job. Transitions are monotonic: a job
// moves forward through Active into at most one intermediate state
// (Completing or Cancelling) and then into exactly one terminal state; the
// first transition to reach a terminal state wins and later ones are
// no-ops.
type State int32

const (
	// StateNew is a created but not yet started job (lazy launch).
	StateNew State = iota
	// StateActive is a started job whose task may run, suspend and resume.
	StateActive
	// StateCompleting is a job whose own task finished with a value but
	// which still waits for non-terminal children. It admits no new
	// children.
	StateCompleting
	// StateCancelling is a job winding down after a cancellation request.
	StateCancelling
	// StateCompleted is terminal: the job finished with a value.
	StateCompleted
	// StateCancelled is terminal: the job was cancelled.
	StateCancelled
	// StateFailed is terminal: the job's task failed.
	StateFailed
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool { return s >= StateCompleted }

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateCompleting:
		return "completing"
	case StateCancelling:
		return "cancelling"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Job is the lifecycle handle for one task: id, state, parent/child links,
// cancellation reason and the failure-propagation policy it applies to its
// children. The job tree is held in the scope's arena; a job references
// its parent by id only.
type Job struct {
	id     uuid.UUID
	scope  *Scope
	task   *Task // nil for a scope root
	parent uuid.UUID
	policy Policy

	mu        sync.Mutex
	state     State
	children  []uuid.UUID // insertion order
	live      int         // non-terminal children
	value     any
	cause     error
	failing   bool // winding down after a failure; terminal state is Failed
	callbacks []func(*Job)
	observed  bool
	limited   bool
	launched  time.Time

	done chan struct{}
}

func newJob(s *Scope, t *Task, parent *Job, policy Policy) *Job {
	j := &Job{
		id:     uuid.New(),
		scope:  s,
		task:   t,
		policy: policy,
		state:  StateNew,
		done:   make(chan struct{}),
	}
	if parent != nil {
		j.parent = parent.id
	}
	if t != nil {
		t.job = j
	}
	return j
}

// ID returns the job's unique id.
func (j *Job) ID() uuid.UUID { return j.id }

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Start submits a lazily launched job to its dispatcher. Starting an
// already started job is a no-op.
func (j *Job) Start() error { return j.start() }

// Cancel requests cooperative cancellation of the job and, depth-first, of
// all its children. A running task keeps the rest of its current
// synchronous segment; it observes the cancellation at its next suspension
// point. Cancelling a terminal job is a no-op.
func (j *Job) Cancel(reason error) {
	j.cancelWith(&CancelledError{Reason: reason, origin: j.id})
}

// Join blocks the calling goroutine until the job reaches a terminal
// state, then returns the stored value, the failure cause, or a
// *CancelledError. Join on a terminal job returns immediately and
// repeatably; tasks joining from inside the runtime use
// Continuation.Await instead. Joining a never-started job returns
// ErrJoinUnstarted.
func (j *Job) Join(ctx context.Context) (any, error) {
	j.mu.Lock()
	if j.state == StateNew {
		j.mu.Unlock()
		return nil, ErrJoinUnstarted
	}
	j.observed = true
	j.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return j.outcome()
}

// OnDone registers fn to run once the job reaches a terminal state. If the
// job is already terminal, fn runs immediately on the calling goroutine.
func (j *Job) OnDone(fn func(*Job)) {
	if fn == nil {
		return
	}
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		fn(j)
		return
	}
	j.callbacks = append(j.callbacks, fn)
	j.mu.Unlock()
}

func (j *Job) terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.Terminal()
}

func (j *Job) cancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state == StateCancelling
}

// outcome reads a terminal job's result.
func (j *Job) outcome() (any, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.state {
	case StateCompleted:
		return j.value, nil
	case StateFailed, StateCancelled:
		return nil, j.cause
	}
	return nil, errors.New("corun: job is not terminal")
}

func (j *Job) parentJob() *Job {
	if j.parent == uuid.Nil {
		return nil
	}
	p, ok := j.scope.reg.lookup(j.parent)
	if !ok {
		return nil
	}
	return p
}

// withinTree reports whether origin is this job or one of its ancestors,
// i.e. whether a cancellation with that origin is structured cancellation
// of this job's own tree rather than a foreign cancellation error.
func (j *Job) withinTree(origin uuid.UUID) bool {
	if origin == uuid.Nil {
		return false
	}
	for cur := j; cur != nil; cur = cur.parentJob() {
		if cur.id == origin {
			return true
		}
	}
	return false
}

// addChild registers c under j, preserving insertion order. A job past
// Active admits no new children.
func (j *Job) addChild(c *Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateNew && j.state != StateActive {
		if j == j.scope.root {
			return ErrScopeClosed
		}
		return errors.New("corun: job admits no new children in state " + j.state.String())
	}
	j.children = append(j.children, c.id)
	j.live++
	return nil
}

func (j *Job) childIDs() []uuid.UUID {
	j.mu.Lock()
	defer j.mu.Unlock()
	ids := make([]uuid.UUID, len(j.children))
	copy(ids, j.children)
	return ids
}

// start moves the job from New to Active and hands its task to the
// dispatcher, going through the scope limiter when one is configured.
func (j *Job) start() error {
	j.mu.Lock()
	if j.state != StateNew {
		j.mu.Unlock()
		return nil
	}
	j.state = StateActive
	j.launched = time.Now()
	j.mu.Unlock()
	if j.task == nil {
		return nil
	}
	lim := j.scope.lim
	if lim == nil {
		if err := j.task.disp.Submit(j.task); err != nil {
			j.cancelWith(&CancelledError{Reason: err, origin: j.id})
			return err
		}
		return nil
	}
	go func() {
		if err := lim.Acquire(j.scope.ctx); err != nil {
			j.cancelWith(&CancelledError{Reason: err, origin: j.id})
			return
		}
		j.mu.Lock()
		if j.state.Terminal() {
			j.mu.Unlock()
			lim.Release()
			return
		}
		j.limited = true
		j.mu.Unlock()
		if err := j.task.disp.Submit(j.task); err != nil {
			j.cancelWith(&CancelledError{Reason: err, origin: j.id})
		}
	}()
	return nil
}

// complete records the task's value. With live children the job parks in
// Completing until the last child settles; a pending cancellation wins
// over completion. Completing propagates into taskless children (child
// scope roots), closing the whole subtree to new launches.
func (j *Job) complete(v any) {
	j.mu.Lock()
	switch {
	case j.state.Terminal():
		j.mu.Unlock()
		return
	case j.state == StateCancelling:
		j.mu.Unlock()
		j.tryFinishCancel()
		return
	}
	if j.live > 0 {
		j.state = StateCompleting
		j.value = v
		j.mu.Unlock()
		for _, id := range j.childIDs() {
			if c, ok := j.scope.reg.lookup(id); ok && c.task == nil {
				c.complete(nil)
			}
		}
		return
	}
	j.mu.Unlock()
	j.finalize(StateCompleted, v, nil)
}

// fail records the task's failure and cancels the children; the job winds
// down in Cancelling with the failing flag set and reaches Failed only
// once every child is terminal, so it never reports terminal ahead of its
// subtree. A structured cancellation error from the job's own tree is
// routed to the cancellation path instead: cancellation is not an
// application failure.
func (j *Job) fail(err error) {
	if err == nil {
		err = errors.New("corun: task failed")
	}
	var ce *CancelledError
	if errors.As(err, &ce) && j.withinTree(ce.origin) {
		j.cancelWith(ce)
		return
	}
	j.mu.Lock()
	switch {
	case j.state.Terminal():
		j.mu.Unlock()
		return
	case j.state == StateCancelling:
		j.mu.Unlock()
		j.tryFinishCancel()
		return
	}
	if j.cause == nil {
		j.cause = err
	}
	j.failing = true
	// blocks addChild before the child snapshot: nothing can join the
	// subtree once the cascade has begun
	j.state = StateCancelling
	j.mu.Unlock()
	pf := &CancelledError{Reason: ErrParentFailed, origin: j.id}
	for _, id := range j.childIDs() {
		if c, ok := j.scope.reg.lookup(id); ok {
			c.cancelWith(pf)
		}
	}
	j.tryFinishCancel()
}

// cancelWith marks the job Cancelling, cascades depth-first into the
// children with the same cancellation, and finalizes as soon as no child
// is live and no synchronous segment is in flight.
func (j *Job) cancelWith(ce *CancelledError) {
	j.mu.Lock()
	if j.state.Terminal() || j.state == StateCancelling {
		j.mu.Unlock()
		return
	}
	j.state = StateCancelling
	if j.cause == nil {
		j.cause = ce
	}
	j.mu.Unlock()
	for _, id := range j.childIDs() {
		if c, ok := j.scope.reg.lookup(id); ok {
			c.cancelWith(ce)
		}
	}
	j.tryFinishCancel()
}

// tryFinishCancel finalizes a Cancelling job once every child is terminal
// and its own task is not mid-segment. Whichever of the racing parties
// (cancel caller, finishing segment, last finishing child) observes both
// conditions performs the transition. A job that entered Cancelling
// through the failure path finalizes as Failed with its recorded cause.
func (j *Job) tryFinishCancel() {
	j.mu.Lock()
	if j.state != StateCancelling || j.live > 0 {
		j.mu.Unlock()
		return
	}
	running := j.task != nil && j.task.running.Load()
	failing := j.failing
	cause := j.cause
	j.mu.Unlock()
	if running {
		return
	}
	if failing {
		j.finalize(StateFailed, nil, cause)
		return
	}
	j.finalize(StateCancelled, nil, cause)
}

// finalize performs the single terminal transition: first caller wins,
// everyone else no-ops. It closes the done channel, runs completion
// callbacks, releases the limiter slot, reports to the observer and the
// failure sink, and notifies the parent.
func (j *Job) finalize(st State, v any, cause error) {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	j.state = st
	j.value = v
	if j.cause == nil {
		j.cause = cause
	}
	cause = j.cause
	cbs := j.callbacks
	j.callbacks = nil
	observed := j.observed
	limited := j.limited
	live := j.live
	started := j.launched
	j.mu.Unlock()

	close(j.done)
	for _, fn := range cbs {
		fn(j)
	}
	if limited && j.scope.lim != nil {
		j.scope.lim.Release()
	}
	if obs := j.scope.obs; obs != nil && j.task != nil {
		var dur time.Duration
		if !started.IsZero() {
			dur = time.Since(started)
		}
		obs.JobFinished(j.scope.ctx, dur, st, cause)
	}
	if st == StateFailed && j == j.scope.root && !observed {
		if sink := j.scope.opts.FailureSink; sink != nil {
			sink.UncaughtFailure(j.scope.ctx, j.id, cause)
		}
	}
	if live == 0 {
		j.scope.reg.remove(j.id)
	}
	if p := j.parentJob(); p != nil {
		p.childTerminal(j, st, cause)
	}
}

// childTerminal accounts for a settled child: failure propagation per the
// job's policy, then promotion out of Completing or Cancelling once the
// last child is gone.
func (j *Job) childTerminal(c *Job, st State, cause error) {
	j.mu.Lock()
	j.live--
	live := j.live
	j.mu.Unlock()

	if st == StateFailed {
		switch j.policy {
		case FailFast:
			j.failFromChild(cause)
		case Supervisor:
			j.scope.recordIsolated(c, cause)
		}
	}

	if live > 0 {
		return
	}
	j.mu.Lock()
	state := j.state
	value := j.value
	j.mu.Unlock()
	switch state {
	case StateCompleting:
		j.finalize(StateCompleted, value, nil)
	case StateCancelling:
		j.tryFinishCancel()
	}
	if j.terminal() {
		j.scope.reg.remove(j.id)
	}
}

// failFromChild is the FailFast upward propagation: the job records the
// child's cause, cancels the remaining children and winds down to Failed
// once they are all terminal. The failure transition is made authoritative
// under the lock before the cascade, so a sibling settling reentrantly
// through childTerminal promotes to Failed, never to Completed.
// Cancellation or failure already in progress wins.
func (j *Job) failFromChild(cause error) {
	j.mu.Lock()
	if j.state.Terminal() || j.state == StateCancelling {
		j.mu.Unlock()
		return
	}
	if j.cause == nil {
		j.cause = cause
	}
	j.failing = true
	j.state = StateCancelling
	j.mu.Unlock()
	sf := &CancelledError{Reason: ErrSiblingFailed, origin: j.id}
	for _, id := range j.childIDs() {
		if c, ok := j.scope.reg.lookup(id); ok {
			c.cancelWith(sf)
		}
	}
	j.tryFinishCancel()
}
