package sched

import (
	"context"
	"sync/atomic"
)

// Hook runs around a task's lifecycle: before hooks are scheduled when the
// task is scheduled, after hooks when it completes. Hooks are ordinary tasks
// themselves and follow the same error handling.
type Hook func(ctx context.Context) error

// Runnable is a declared job: a name, a body, and optional lifecycle hooks.
// It is the stable identity units are created from, which is how the
// scheduler finds hooks when a unit finishes.
type Runnable struct {
	name   string
	fn     func(ctx context.Context) error
	before Hook
	after  Hook
}

// NewRunnable declares a job. A nil body is a programming error.
func NewRunnable(name string, fn func(ctx context.Context) error) *Runnable {
	if fn == nil {
		panic("sched: NewRunnable requires a non-nil body")
	}
	return &Runnable{name: name, fn: fn}
}

// BeforeTask attaches the before hook. At most one; later calls replace it.
func (r *Runnable) BeforeTask(h Hook) *Runnable {
	r.before = h
	return r
}

// AfterTask attaches the after hook. At most one; later calls replace it.
func (r *Runnable) AfterTask(h Hook) *Runnable {
	r.after = h
	return r
}

func (r *Runnable) Name() string { return r.name }

// Unit creates a fresh one-shot invocation of the job.
func (r *Runnable) Unit() *Unit {
	return &Unit{origin: r, fn: r.fn}
}

const (
	unitCreated int32 = iota
	unitStarted
	unitClosed
)

// Unit is a single pending invocation. It runs at most once: the scheduler
// either consumes it or closes it, never both. Passing the same unit to two
// schedule calls is a programming error the scheduler rejects.
type Unit struct {
	origin  *Runnable
	fn      func(ctx context.Context) error
	onClose func()
	state   atomic.Int32
}

func (u *Unit) Name() string {
	if u.origin != nil {
		return u.origin.name
	}
	return ""
}

// Consumed reports whether the unit has started or been discarded.
func (u *Unit) Consumed() bool { return u.state.Load() != unitCreated }

// Close discards a never-started unit. It reports whether this call did the
// discarding.
func (u *Unit) Close() bool {
	if !u.state.CompareAndSwap(unitCreated, unitClosed) {
		return false
	}
	if u.onClose != nil {
		u.onClose()
	}
	return true
}

// consume transitions created→started.
func (u *Unit) consume() bool {
	return u.state.CompareAndSwap(unitCreated, unitStarted)
}

func (u *Unit) run(ctx context.Context) error {
	return u.fn(ctx)
}
