package corun

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrSchedulerClosed is returned by Submit and ScheduleAfter after a
	// dispatcher has been shut down.
	ErrSchedulerClosed = errors.New("corun: scheduler closed")

	// ErrDoubleResume is returned when a continuation already holds an
	// undelivered resume value.
	ErrDoubleResume = errors.New("corun: continuation already holds a pending resume value")

	// ErrJoinUnstarted is returned when joining a job that was never started.
	ErrJoinUnstarted = errors.New("corun: join on a job that was never started")

	// ErrScopeClosed is returned by Launch once the scope's root job has
	// left its active state.
	ErrScopeClosed = errors.New("corun: scope closed")

	// ErrTimeout is the cancellation reason used by timeout watch jobs.
	ErrTimeout = errors.New("corun: timeout")

	// ErrParentFailed is the cancellation reason delivered to the children
	// of a failed job.
	ErrParentFailed = errors.New("corun: parent job failed")

	// ErrSiblingFailed is the cancellation reason delivered to the siblings
	// of a failed job under the FailFast policy.
	ErrSiblingFailed = errors.New("corun: sibling job failed")
)

// CancelledError marks a job outcome as cancellation rather than failure.
// It records the reason and, unexported, the job at which the cancellation
// cascade started; that origin is what lets a task distinguish structured
// cancellation inside its own tree from a cancellation error leaking in
// from elsewhere.
type CancelledError struct {
	Reason error

	origin uuid.UUID
}

// Cancelled wraps reason as a cancellation outcome.
func Cancelled(reason error) error {
	return &CancelledError{Reason: reason}
}

func (e *CancelledError) Error() string {
	if e.Reason == nil {
		return "corun: cancelled"
	}
	return "corun: cancelled: " + e.Reason.Error()
}

func (e *CancelledError) Unwrap() error { return e.Reason }

// IsCancelled reports whether err marks cancellation rather than failure.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}
