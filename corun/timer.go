package corun

import (
	"container/heap"
	"sync"
	"time"
)

// timerQueue fires callbacks no earlier than their deadline. Callbacks with
// equal deadlines fire in insertion order (sequence tiebreak).
type timerQueue struct {
	mu      sync.Mutex
	entries timerHeap
	seq     uint64
	stopped bool

	wake chan struct{}
	done chan struct{}
}

type timerEntry struct {
	at  time.Time
	seq uint64
	fn  func()
}

func newTimerQueue() *timerQueue {
	q := &timerQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *timerQueue) schedule(delay time.Duration, fn func()) error {
	if delay < 0 {
		delay = 0
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrSchedulerClosed
	}
	q.seq++
	heap.Push(&q.entries, &timerEntry{at: time.Now().Add(delay), seq: q.seq, fn: fn})
	q.mu.Unlock()
	q.kick()
	return nil
}

// stop discards pending entries and waits for the loop to exit.
func (q *timerQueue) stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.stopped = true
	q.entries = nil
	q.mu.Unlock()
	q.kick()
	<-q.done
}

func (q *timerQueue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *timerQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return
		}
		if len(q.entries) == 0 {
			q.mu.Unlock()
			<-q.wake
			continue
		}
		now := time.Now()
		var due []*timerEntry
		for len(q.entries) > 0 && !q.entries[0].at.After(now) {
			due = append(due, heap.Pop(&q.entries).(*timerEntry))
		}
		var wait time.Duration
		if len(q.entries) > 0 {
			wait = q.entries[0].at.Sub(now)
		}
		q.mu.Unlock()

		for _, e := range due {
			e.fn()
		}
		if len(due) > 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*timerEntry)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
