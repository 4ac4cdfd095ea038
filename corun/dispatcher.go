package corun

import (
	"runtime"
	"sync"
	"time"
)

// Dispatcher maps runnable tasks onto a fixed pool of worker goroutines.
// Independent instances model independent pools (CPU-bound vs I/O-bound);
// a task moves between them with Continuation.SwitchTo.
type Dispatcher struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Task
	closed bool

	timers *timerQueue
	wg     sync.WaitGroup
}

// NewDispatcher starts a dispatcher with the given number of workers.
// workers <= 0 defaults to GOMAXPROCS.
func NewDispatcher(name string, workers int) *Dispatcher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	d := &Dispatcher{name: name, timers: newTimerQueue()}
	d.cond = sync.NewCond(&d.mu)
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Name returns the dispatcher's name.
func (d *Dispatcher) Name() string { return d.name }

// Submit queues a task for execution. A submitted task eventually runs on
// some worker unless the dispatcher is shut down first.
func (d *Dispatcher) Submit(t *Task) error {
	if t == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrSchedulerClosed
	}
	d.queue = append(d.queue, t)
	d.mu.Unlock()
	d.cond.Signal()
	return nil
}

// ScheduleAfter runs fn no earlier than delay from now. Callbacks with
// equal deadlines fire in submission order.
func (d *Dispatcher) ScheduleAfter(delay time.Duration, fn func()) error {
	if fn == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrSchedulerClosed
	}
	d.mu.Unlock()
	return d.timers.schedule(delay, fn)
}

// Shutdown stops the dispatcher. With drain, queued tasks run to their next
// suspension point first; without it the queue is discarded and the
// discarded tasks' jobs are cancelled with ErrSchedulerClosed. Pending
// timer callbacks are dropped either way. Idempotent.
func (d *Dispatcher) Shutdown(drain bool) {
	d.mu.Lock()
	already := d.closed
	d.closed = true
	var dropped []*Task
	if !already && !drain {
		dropped = d.queue
		d.queue = nil
	}
	d.mu.Unlock()
	d.cond.Broadcast()
	d.timers.stop()
	for _, t := range dropped {
		if t.job != nil {
			t.job.cancelWith(&CancelledError{Reason: ErrSchedulerClosed, origin: t.job.id})
		}
	}
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		t := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		t.run()
	}
}
