package corun

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExternalResumeDeliversValue(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 1)
	defer d.Shutdown(true)
	s := New(context.Background(), d, FailFast)

	coCh := make(chan *Continuation, 1)
	j, _ := s.Launch(func(co *Continuation) Step {
		switch co.PC() {
		case 0:
			st := co.Suspend()
			coCh <- co
			return st
		default:
			v, err := co.Result()
			if err != nil {
				return Fail(err)
			}
			return Complete(v)
		}
	})

	co := <-coCh
	if err := co.Resume("external"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	v, err := j.Join(context.Background())
	if v != "external" || err != nil {
		t.Fatalf("join = (%v, %v)", v, err)
	}
	_ = s.AwaitAll()
}

func TestDoubleResume(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 1)
	defer d.Shutdown(true)
	s := New(context.Background(), d, FailFast)

	// park the target first, then occupy the only worker so the pending
	// resume value cannot be consumed between the two Resume calls
	coCh := make(chan *Continuation, 1)
	target, _ := s.Launch(func(co *Continuation) Step {
		switch co.PC() {
		case 0:
			st := co.Suspend()
			coCh <- co
			return st
		default:
			v, _ := co.Result()
			return Complete(v)
		}
	})
	co := <-coCh

	gate := make(chan struct{})
	entered := make(chan struct{})
	s.Launch(func(*Continuation) Step {
		close(entered)
		<-gate
		return Complete(nil)
	})
	<-entered

	if err := co.Resume(1); err != nil {
		t.Fatalf("first resume: %v", err)
	}
	if err := co.Resume(2); !errors.Is(err, ErrDoubleResume) {
		t.Fatalf("second resume = %v, want ErrDoubleResume", err)
	}
	close(gate)
	if v, err := target.Join(context.Background()); v != 1 || err != nil {
		t.Fatalf("target join = (%v, %v), want (1, nil)", v, err)
	}
	_ = s.AwaitAll()
}

func TestResumeAfterTerminalIsDropped(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 1)
	defer d.Shutdown(true)
	s := New(context.Background(), d, FailFast)

	coCh := make(chan *Continuation, 1)
	j, _ := s.Launch(func(co *Continuation) Step {
		switch co.PC() {
		case 0:
			st := co.Suspend()
			coCh <- co
			return st
		default:
			return Complete(nil)
		}
	})
	co := <-coCh
	j.Cancel(errors.New("stop"))
	if _, err := j.Join(context.Background()); !IsCancelled(err) {
		t.Fatalf("join = %v, want cancellation", err)
	}
	if err := co.Resume("stale"); err != nil {
		t.Fatalf("stale resume should be a dropped no-op, got %v", err)
	}
	if st := j.State(); st != StateCancelled {
		t.Fatalf("state = %v, want cancelled", st)
	}
	_ = s.AwaitAll()
}

func TestYieldInterleaves(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 1)
	defer d.Shutdown(true)
	s := New(context.Background(), d, FailFast)

	j, _ := s.Launch(func(co *Continuation) Step {
		if co.PC() < 3 {
			return co.Yield()
		}
		return Complete(co.PC())
	})
	v, err := j.Join(context.Background())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if v != 3 {
		t.Fatalf("pc after three yields = %v, want 3", v)
	}
	_ = s.AwaitAll()
}

func TestAwaitRethrowsChildFailure(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 2)
	defer d.Shutdown(true)
	s := New(context.Background(), d, Supervisor)

	boom := errors.New("child boom")
	child, _ := s.Launch(failAfter(10*time.Millisecond, boom))

	waiter, _ := s.Launch(func(co *Continuation) Step {
		switch co.PC() {
		case 0:
			return co.Await(child)
		default:
			_, err := co.Result()
			if err != nil {
				return Fail(err)
			}
			return Complete(nil)
		}
	})

	if _, err := waiter.Join(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("awaiting a failed job should rethrow its cause, got %v", err)
	}
	_ = s.AwaitAll()
}

func TestAwaitTerminalJobResumesImmediately(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 1)
	defer d.Shutdown(true)
	s := New(context.Background(), d, FailFast)

	child, _ := s.Launch(sleeper(time.Millisecond, "done"))
	if _, err := child.Join(context.Background()); err != nil {
		t.Fatalf("child join: %v", err)
	}

	waiter, _ := s.Launch(func(co *Continuation) Step {
		switch co.PC() {
		case 0:
			return co.Await(child)
		default:
			v, err := co.Result()
			if err != nil {
				return Fail(err)
			}
			return Complete(v)
		}
	})
	v, err := waiter.Join(context.Background())
	if v != "done" || err != nil {
		t.Fatalf("waiter join = (%v, %v)", v, err)
	}
	_ = s.AwaitAll()
}

func TestAwaitUnstartedJob(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 1)
	defer d.Shutdown(true)
	s := New(context.Background(), d, FailFast)

	lazy, _ := s.Launch(sleeper(time.Millisecond, nil), LazyStart())
	waiter, _ := s.Launch(func(co *Continuation) Step {
		return co.Await(lazy)
	})
	if _, err := waiter.Join(context.Background()); !errors.Is(err, ErrJoinUnstarted) {
		t.Fatalf("await on unstarted job = %v, want ErrJoinUnstarted", err)
	}
	if err := lazy.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = s.AwaitAll()
}
