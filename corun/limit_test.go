package corun

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMaxConcurrencyBound(t *testing.T) {
	t.Parallel()
	const limit = 2
	const jobs = 10
	d := NewDispatcher("test", 4)
	defer d.Shutdown(true)
	s := New(context.Background(), d, Supervisor, WithMaxConcurrency(limit))

	var cur, maxSeen atomic.Int64
	for i := 0; i < jobs; i++ {
		s.Launch(func(co *Continuation) Step {
			switch co.PC() {
			case 0:
				c := cur.Add(1)
				for {
					m := maxSeen.Load()
					if c <= m || maxSeen.CompareAndSwap(m, c) {
						break
					}
				}
				return co.Sleep(20 * time.Millisecond)
			default:
				cur.Add(-1)
				return Complete(nil)
			}
		})
	}
	if err := s.AwaitAll(); err != nil {
		t.Fatalf("await: %v", err)
	}
	if observed := int(maxSeen.Load()); observed > limit {
		t.Fatalf("observed concurrency %d exceeds limit %d", observed, limit)
	}
}

func TestLimiterWaiterRespectsCancel(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("test", 2)
	defer d.Shutdown(true)
	s := New(context.Background(), d, FailFast, WithMaxConcurrency(1))

	s.Launch(sleeper(10*time.Second, nil))
	// the second job is queued behind the limiter
	s.Launch(sleeper(time.Millisecond, nil))

	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	s.Cancel(errors.New("stop"))
	if err := s.AwaitAll(); !IsCancelled(err) {
		t.Fatalf("await = %v, want cancellation", err)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("expected quick abort on cancel, got %v", elapsed)
	}
}
