package corun

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Observer receives lifecycle notifications from a scope and its jobs.
// Implementations must be safe for concurrent use and cheap: hooks run
// inline on worker goroutines.
type Observer interface {
	ScopeCreated(ctx context.Context)
	ScopeCancelled(ctx context.Context, cause error)
	ScopeJoined(ctx context.Context, wait time.Duration)
	JobLaunched(ctx context.Context)
	JobFinished(ctx context.Context, dur time.Duration, state State, err error)
	TaskSuspended(ctx context.Context)
	TaskResumed(ctx context.Context)
}

// FailureSink receives failures that would otherwise go unnoticed: jobs
// that failed under a shielding policy with nobody ever joining them.
type FailureSink interface {
	UncaughtFailure(ctx context.Context, job uuid.UUID, cause error)
}

type Option func(*Options)

type Options struct {
	PanicAsError   bool
	Observer       Observer
	FailureSink    FailureSink
	MaxConcurrency int
}

func defaultOptions() Options { return Options{PanicAsError: true} }

// WithPanicAsError converts step-function panics into job failures
// (default true). When disabled, panics escape on the worker goroutine.
func WithPanicAsError(v bool) Option { return func(o *Options) { o.PanicAsError = v } }

// WithObserver attaches a lifecycle observer to the scope.
func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

// WithFailureSink attaches a sink for uncaught job failures.
func WithFailureSink(sink FailureSink) Option { return func(o *Options) { o.FailureSink = sink } }

// WithMaxConcurrency bounds the number of jobs admitted to run at once.
func WithMaxConcurrency(n int) Option { return func(o *Options) { o.MaxConcurrency = n } }
