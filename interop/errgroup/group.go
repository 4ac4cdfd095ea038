// Package errgroup provides an adapter that mimics golang.org/x/sync/errgroup
// semantics on top of the corun runtime. Each function runs on its own
// goroutine, bridged into a job through a bare suspension, so blocking
// functions never occupy runtime workers and still get structured
// cancellation and join semantics.
package errgroup

import (
	"context"
	"sync"

	"github.com/NetPo4ki/go-corun/corun"
)

// Group is an errgroup-like wrapper over a FailFast scope.
type Group struct {
	s    *corun.Scope
	d    *corun.Dispatcher
	ctx  context.Context
	wg   sync.WaitGroup
	once sync.Once
}

// WithContext creates a Group bound to ctx. The returned context is
// cancelled when any function passed to Go returns a non-nil error or
// when ctx itself is cancelled.
func WithContext(ctx context.Context) (*Group, context.Context) {
	d := corun.NewDispatcher("errgroup", 1)
	s := corun.New(ctx, d, corun.FailFast)
	g := &Group{s: s, d: d, ctx: s.Context()}
	// Propagate parent deadline/cancellation into the scope. After the
	// scope settles on its own this cancel is a no-op.
	go func() {
		<-s.Context().Done()
		s.Cancel(s.Context().Err())
	}()
	return g, g.ctx
}

// Go starts a function. It should return a non-nil error to signal failure.
func (g *Group) Go(f func() error) {
	if f == nil {
		return
	}
	_, _ = g.s.Launch(func(co *corun.Continuation) corun.Step {
		switch co.PC() {
		case 0:
			st := co.Suspend()
			g.wg.Add(1)
			go func() {
				defer g.wg.Done()
				if err := f(); err != nil {
					_ = co.ResumeError(err)
					return
				}
				_ = co.Resume(nil)
			}()
			return st
		default:
			if _, err := co.Result(); err != nil {
				return corun.Fail(err)
			}
			return corun.Complete(nil)
		}
	})
}

// Wait blocks until all functions have returned. It returns the first
// non-nil error (FailFast semantics) or nil on success.
func (g *Group) Wait() error {
	err := g.s.AwaitAll()
	g.wg.Wait()
	g.once.Do(func() { g.d.Shutdown(true) })
	return err
}
