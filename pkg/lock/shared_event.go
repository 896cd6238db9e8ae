package lock

import (
	"context"
	"sync"
)

// SharedEvent is a counting gate. While any holder is active the gate is
// down; when the last holder releases, everyone blocked in Wait is let
// through. A holder should take the gate before acquiring a lock and release
// after releasing it, so a resetting operation can wait for all in-flight
// holders to finish before tearing shared state down.
type SharedEvent struct {
	mu     sync.Mutex
	active int
	idle   chan struct{}
}

func NewSharedEvent() *SharedEvent {
	idle := make(chan struct{})
	close(idle)
	return &SharedEvent{idle: idle}
}

// Hold registers one active holder and returns its release func.
// Release is idempotent.
func (e *SharedEvent) Hold() (release func()) {
	e.mu.Lock()
	e.active++
	if e.active == 1 {
		e.idle = make(chan struct{})
	}
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.active--
			if e.active == 0 {
				close(e.idle)
			}
			e.mu.Unlock()
		})
	}
}

// Wait blocks until all current holders have released, or ctx is done.
func (e *SharedEvent) Wait(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
