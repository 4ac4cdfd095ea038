package corun

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Scope is a lifetime boundary owning a job tree. Every job launched in a
// scope settles before AwaitAll returns: no job outlives its scope. A
// scope is single-use; once AwaitAll has been called or the scope has been
// cancelled, Launch reports ErrScopeClosed.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	disp   *Dispatcher
	policy Policy
	opts   Options
	obs    Observer
	lim    Limiter
	reg    *registry
	root   *Job

	cancelled atomic.Bool

	mu       sync.Mutex
	isolated *multierror.Error
}

// New creates a scope whose jobs run on disp and whose root applies
// policy to the failures of directly launched jobs.
func New(parent context.Context, disp *Dispatcher, policy Policy, optFns ...Option) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Scope{ctx: ctx, cancel: cancel, disp: disp, policy: policy, opts: defaultOptions()}
	for _, fn := range optFns {
		fn(&s.opts)
	}
	s.obs = s.opts.Observer
	if s.opts.MaxConcurrency > 0 {
		s.lim = newSemaphoreLimiter(s.opts.MaxConcurrency)
	}
	s.reg = newRegistry()
	s.root = newJob(s, nil, nil, policy)
	s.root.state = StateActive
	s.reg.add(s.root)
	s.root.OnDone(func(*Job) { s.cancel() })
	if s.obs != nil {
		s.obs.ScopeCreated(ctx)
	}
	return s
}

// Context returns the scope's context. It is cancelled once the root job
// reaches a terminal state or Cancel is called.
func (s *Scope) Context() context.Context { return s.ctx }

// Root returns the scope's root job.
func (s *Scope) Root() *Job { return s.root }

// Dispatcher returns the scope's default dispatcher.
func (s *Scope) Dispatcher() *Dispatcher { return s.disp }

// LaunchOption overrides per-launch configuration.
type LaunchOption func(*launchConfig)

type launchConfig struct {
	disp    *Dispatcher
	policy  Policy
	parent  *Job
	timeout time.Duration
	lazy    bool
}

// OnDispatcher runs the job on d instead of the scope's dispatcher.
func OnDispatcher(d *Dispatcher) LaunchOption {
	return func(c *launchConfig) { c.disp = d }
}

// WithPolicy sets the failure-propagation policy the new job applies to
// its own children.
func WithPolicy(p Policy) LaunchOption {
	return func(c *launchConfig) { c.policy = p }
}

// AsChildOf attaches the new job under parent instead of the scope root.
func AsChildOf(parent *Job) LaunchOption {
	return func(c *launchConfig) { c.parent = parent }
}

// WithJobTimeout starts a watch job that cancels the new job with
// ErrTimeout if it has not settled within d.
func WithJobTimeout(d time.Duration) LaunchOption {
	return func(c *launchConfig) { c.timeout = d }
}

// LazyStart creates the job without submitting its task; the caller
// starts it later with Job.Start.
func LazyStart() LaunchOption {
	return func(c *launchConfig) { c.lazy = true }
}

// Launch creates a job for step under the scope's root (or the parent
// selected with AsChildOf) and, unless LazyStart is given, submits it to
// the dispatcher.
func (s *Scope) Launch(step StepFunc, optFns ...LaunchOption) (*Job, error) {
	if step == nil {
		return nil, errors.New("corun: nil step function")
	}
	cfg := launchConfig{disp: s.disp, policy: s.policy, parent: s.root}
	for _, fn := range optFns {
		fn(&cfg)
	}
	if cfg.disp == nil {
		return nil, errors.New("corun: scope has no dispatcher")
	}
	if cfg.parent == nil {
		cfg.parent = s.root
	}
	j := newJob(s, newTask(step, cfg.disp), cfg.parent, cfg.policy)
	if err := cfg.parent.addChild(j); err != nil {
		return nil, err
	}
	s.reg.add(j)
	if s.obs != nil {
		s.obs.JobLaunched(s.ctx)
	}
	if cfg.timeout > 0 {
		s.watchTimeout(j, cfg.timeout)
	}
	if cfg.lazy {
		return j, nil
	}
	if err := j.start(); err != nil {
		return j, err
	}
	return j, nil
}

// Cancel cancels the root job, cascading depth-first through every job in
// the scope, and releases the scope context.
func (s *Scope) Cancel(reason error) {
	s.root.Cancel(reason)
	if s.cancelled.CompareAndSwap(false, true) && s.obs != nil {
		s.obs.ScopeCancelled(s.ctx, reason)
	}
	s.cancel()
}

// AwaitAll closes the scope to new launches and blocks until every
// launched job reaches a terminal state. It returns nil when the root
// completed, the first failure cause when a FailFast cascade failed the
// root, or a *CancelledError when the scope was cancelled. Calling it
// again returns the same outcome.
func (s *Scope) AwaitAll() error {
	var start time.Time
	if s.obs != nil {
		start = time.Now()
	}
	s.root.mu.Lock()
	s.root.observed = true
	s.root.mu.Unlock()
	s.root.complete(nil)
	<-s.root.done
	if s.obs != nil {
		s.obs.ScopeJoined(s.ctx, time.Since(start))
	}
	_, err := s.root.outcome()
	return err
}

// Failures returns the failures isolated by Supervisor-policy jobs in
// this scope, aggregated, or nil if there were none.
func (s *Scope) Failures() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isolated.ErrorOrNil()
}

// Child creates a scope whose root job is a child of this scope's root:
// cancellation cascades into it and AwaitAll on the parent waits for it.
// The child shares the parent's job arena and dispatcher and inherits its
// options unless overridden.
func (s *Scope) Child(policy Policy, optFns ...Option) *Scope {
	childOpts := s.opts
	for _, fn := range optFns {
		fn(&childOpts)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	cs := &Scope{
		ctx:    ctx,
		cancel: cancel,
		disp:   s.disp,
		policy: policy,
		opts:   childOpts,
		obs:    childOpts.Observer,
		reg:    s.reg,
	}
	if childOpts.MaxConcurrency > 0 {
		cs.lim = newSemaphoreLimiter(childOpts.MaxConcurrency)
	}
	cs.root = newJob(cs, nil, s.root, policy)
	cs.root.state = StateActive
	cs.reg.add(cs.root)
	if err := s.root.addChild(cs.root); err != nil {
		cs.root.cancelWith(&CancelledError{Reason: err, origin: cs.root.id})
	}
	cs.root.OnDone(func(*Job) { cs.cancel() })
	if cs.obs != nil {
		cs.obs.ScopeCreated(ctx)
	}
	return cs
}

// watchTimeout models a timeout as a timer job: it sleeps, then cancels
// the target with ErrTimeout. The watch is itself cancelled as soon as the
// target settles first.
func (s *Scope) watchTimeout(target *Job, d time.Duration) {
	watch, err := s.Launch(func(co *Continuation) Step {
		switch co.PC() {
		case 0:
			return co.Sleep(d)
		default:
			target.Cancel(ErrTimeout)
			return Complete(nil)
		}
	}, AsChildOf(target.parentJob()))
	if err != nil {
		return
	}
	target.OnDone(func(*Job) { watch.Cancel(nil) })
}

func (s *Scope) recordIsolated(c *Job, cause error) {
	s.mu.Lock()
	s.isolated = multierror.Append(s.isolated, cause)
	s.mu.Unlock()
	c.mu.Lock()
	observed := c.observed
	c.mu.Unlock()
	if !observed && s.opts.FailureSink != nil {
		s.opts.FailureSink.UncaughtFailure(s.ctx, c.id, cause)
	}
}
