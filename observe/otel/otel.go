// Package otel emits corun lifecycle events (launch, suspend, resume,
// finish, cancel, join) onto the OpenTelemetry span found in the scope
// context, with low overhead. Callers that want events on their traces
// create the scope with a span-carrying context.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NetPo4ki/go-corun/corun"
)

// Observer implements corun.Observer as span events.
type Observer struct{}

// New returns a span-event observer.
func New() *Observer { return &Observer{} }

func (*Observer) ScopeCreated(ctx context.Context) {
	trace.SpanFromContext(ctx).AddEvent("corun.scope.created")
}

func (*Observer) ScopeCancelled(ctx context.Context, cause error) {
	span := trace.SpanFromContext(ctx)
	if cause != nil {
		span.AddEvent("corun.scope.cancelled",
			trace.WithAttributes(attribute.String("cause", cause.Error())))
		return
	}
	span.AddEvent("corun.scope.cancelled")
}

func (*Observer) ScopeJoined(ctx context.Context, wait time.Duration) {
	trace.SpanFromContext(ctx).AddEvent("corun.scope.joined",
		trace.WithAttributes(attribute.Int64("wait_us", wait.Microseconds())))
}

func (*Observer) JobLaunched(ctx context.Context) {
	trace.SpanFromContext(ctx).AddEvent("corun.job.launched")
}

func (*Observer) JobFinished(ctx context.Context, dur time.Duration, state corun.State, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("state", state.String()),
		attribute.Int64("duration_us", dur.Microseconds()),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	trace.SpanFromContext(ctx).AddEvent("corun.job.finished", trace.WithAttributes(attrs...))
}

func (*Observer) TaskSuspended(ctx context.Context) {
	trace.SpanFromContext(ctx).AddEvent("corun.task.suspended")
}

func (*Observer) TaskResumed(ctx context.Context) {
	trace.SpanFromContext(ctx).AddEvent("corun.task.resumed")
}
