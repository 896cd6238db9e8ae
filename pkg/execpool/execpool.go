// Package execpool runs blocking functions off the cooperative core and
// bounds how many execute at once. It is the escape hatch for synchronous
// CPU- or IO-bound work that must not stall lock holders or scheduled tasks.
package execpool

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"lockstep/pkg/logx"
)

// Pool bounds concurrent offloaded work with a weighted semaphore.
type Pool struct {
	sem *semaphore.Weighted
	log logx.Logger
}

// New creates a pool allowing up to maxParallel functions at once.
// maxParallel <= 0 defaults to GOMAXPROCS.
func New(maxParallel int, log logx.Logger) *Pool {
	if maxParallel <= 0 {
		maxParallel = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(maxParallel)), log: log}
}

// Do runs fn on the pool and waits for its result. Acquiring a slot respects
// ctx; once fn has started it always runs to completion, even if ctx is
// cancelled while waiting for it (the error is then ctx's).
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go runs fn on the pool without waiting and returns a one-shot channel the
// caller may join on. The channel receives exactly one value.
func (p *Pool) Go(ctx context.Context, fn func() error) <-chan error {
	out := make(chan error, 1)
	go func() {
		out <- p.Do(ctx, fn)
	}()
	return out
}

// Call runs fn on the pool and returns its value. The zero value of T is
// returned on acquisition failure or cancellation.
func Call[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var (
		mu  sync.Mutex
		val T
	)
	err := p.Do(ctx, func() error {
		v, err := fn()
		mu.Lock()
		val = v
		mu.Unlock()
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	mu.Lock()
	defer mu.Unlock()
	return val, nil
}
