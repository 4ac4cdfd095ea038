package corun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubmitAfterShutdown(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 1)
	s := New(context.Background(), d, FailFast)
	d.Shutdown(true)

	if _, err := s.Launch(sleeper(time.Millisecond, nil)); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("launch on closed dispatcher = %v, want ErrSchedulerClosed", err)
	}
	if err := d.ScheduleAfter(time.Millisecond, func() {}); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("ScheduleAfter on closed dispatcher = %v, want ErrSchedulerClosed", err)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 2)
	d.Shutdown(true)
	d.Shutdown(false)
}

func TestScheduleAfterOrdering(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 1)
	defer d.Shutdown(true)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	const n = 5
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		if err := d.ScheduleAfter(20*time.Millisecond, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		if order[i] != i {
			t.Fatalf("callback order = %v, want insertion order", order)
		}
	}
}

func TestScheduleAfterNotEarly(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 1)
	defer d.Shutdown(true)

	const delay = 40 * time.Millisecond
	start := time.Now()
	fired := make(chan time.Duration, 1)
	if err := d.ScheduleAfter(delay, func() {
		fired <- time.Since(start)
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got := <-fired; got < delay {
		t.Fatalf("callback fired after %v, before the requested %v", got, delay)
	}
}

// Eight sleeping tasks on two workers finish in roughly one sleep's worth
// of wall time: suspension hands the worker back instead of blocking it.
func TestSuspensionDoesNotBlockWorkers(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 2)
	defer d.Shutdown(true)
	s := New(context.Background(), d, FailFast)

	const n = 8
	const nap = 100 * time.Millisecond
	jobs := make([]*Job, 0, n)
	for i := 0; i < n; i++ {
		j, err := s.Launch(sleeper(nap, i))
		if err != nil {
			t.Fatalf("launch: %v", err)
		}
		jobs = append(jobs, j)
	}
	start := time.Now()
	if err := s.AwaitAll(); err != nil {
		t.Fatalf("await: %v", err)
	}
	elapsed := time.Since(start)
	// serialized across 2 workers this would take >= 4 * nap
	if elapsed > 3*nap {
		t.Fatalf("%d sleepers on 2 workers took %v; workers appear blocked", n, elapsed)
	}
	for i, j := range jobs {
		if v, err := j.Join(context.Background()); err != nil || v != i {
			t.Fatalf("job %d outcome = (%v, %v)", i, v, err)
		}
	}
}

func TestShutdownDiscardCancelsPendingJobs(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 1)
	s := New(context.Background(), d, Supervisor)

	gate := make(chan struct{})
	entered := make(chan struct{})
	// occupies the only worker until the gate opens
	blocker, _ := s.Launch(func(co *Continuation) Step {
		close(entered)
		<-gate
		return Complete(nil)
	})
	<-entered
	queued, _ := s.Launch(sleeper(time.Millisecond, nil))

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(gate)
	}()
	d.Shutdown(false)

	if _, err := queued.Join(context.Background()); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("queued job join = %v, want ErrSchedulerClosed reason", err)
	}
	if st := queued.State(); st != StateCancelled {
		t.Fatalf("queued job state = %v, want cancelled", st)
	}
	if _, err := blocker.Join(context.Background()); err != nil {
		t.Fatalf("blocker join = %v", err)
	}
}

func TestSwitchToDispatcher(t *testing.T) {
	t.Parallel()
	cpu := NewDispatcher("cpu", 1)
	defer cpu.Shutdown(true)
	io := NewDispatcher("io", 1)
	defer io.Shutdown(true)
	s := New(context.Background(), cpu, FailFast)

	j, _ := s.Launch(func(co *Continuation) Step {
		switch co.PC() {
		case 0:
			if co.Dispatcher().Name() != "cpu" {
				return Fail(errors.New("started on wrong dispatcher"))
			}
			return co.SwitchTo(io)
		default:
			return Complete(co.Dispatcher().Name())
		}
	})
	v, err := j.Join(context.Background())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if v != "io" {
		t.Fatalf("task resumed on %v, want io", v)
	}
	if err := s.AwaitAll(); err != nil {
		t.Fatalf("await: %v", err)
	}
}
