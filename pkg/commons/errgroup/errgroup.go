// Package errgroup runs a set of goroutines under one cancellation scope,
// with panic recovery wired into the shared logging contract.
package errgroup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mysverse/worker-bank/pkg/commons/log"
	"github.com/mysverse/worker-bank/pkg/commons/runtime"
)

// ErrPanicRecovered is returned by Wait when a goroutine in the group
// panicked.
var ErrPanicRecovered = errors.New("errgroup: panic recovered")

// Group manages goroutines sharing a cancellation context. The first error
// any goroutine returns cancels the context and becomes the Wait result;
// later errors are discarded. The zero value is usable without cancellation.
type Group struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
	logger  log.Logger
}

// WithContext returns a Group and a derived context. The context is
// canceled when a goroutine returns a non-nil error or when Wait returns,
// whichever happens first.
func WithContext(ctx context.Context) (*Group, context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	return &Group{ctx: ctx, cancel: cancel}, ctx
}

// SetLogger attaches a logger so recovered panics are logged with their
// stack before the error surfaces through Wait.
func (g *Group) SetLogger(logger log.Logger) {
	if g == nil {
		return
	}

	g.logger = logger
}

// effectiveCtx falls back to context.Background for zero-value Groups.
func (g *Group) effectiveCtx() context.Context {
	if g.ctx != nil {
		return g.ctx
	}

	return context.Background()
}

// Go starts fn on a new goroutine. A panic inside fn does not kill the
// process; it is logged and converted into an ErrPanicRecovered result.
func (g *Group) Go(fn func() error) {
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				runtime.LogPanicWithStack(g.effectiveCtx(), g.logger, "errgroup", "group.Go", recovered)

				g.errOnce.Do(func() {
					g.err = fmt.Errorf("%w: %v", ErrPanicRecovered, recovered)
					if g.cancel != nil {
						g.cancel()
					}
				})
			}
		}()

		if err := fn(); err != nil {
			g.errOnce.Do(func() {
				g.err = err
				if g.cancel != nil {
					g.cancel()
				}
			})
		}
	}()
}

// Wait blocks until every goroutine started with Go has finished, cancels
// the group context, and returns the first recorded error.
func (g *Group) Wait() error {
	g.wg.Wait()

	if g.cancel != nil {
		g.cancel()
	}

	return g.err
}
