package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lockstep/pkg/logx"
)

// Scheduler tracks live tasks by id. Ids are unique within one instance; a
// live id is never overwritten, the incoming unit is discarded instead.
type Scheduler struct {
	name string
	log  logx.Logger

	mu      sync.Mutex
	tasks   map[string]*handle
	origins map[string]*Runnable
}

// handle is one live task: its unit, its cancel, and the context it was
// scheduled under (used for after hooks and for shielding delayed work).
type handle struct {
	id      string
	unit    *Unit
	parent  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	waitFor <-chan struct{}
}

// New creates a named scheduler. The name prefixes every log line so
// instances can be told apart.
func New(name string, log logx.Logger) *Scheduler {
	return &Scheduler{
		name:    name,
		log:     log.With(logx.String("scheduler", name)),
		tasks:   make(map[string]*handle),
		origins: make(map[string]*Runnable),
	}
}

func (s *Scheduler) Name() string { return s.name }

// Contains reports whether a task with the given id is currently live.
func (s *Scheduler) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// Tasks returns a snapshot of the live task ids.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Schedule runs unit immediately under the given id.
//
// A unit that has already started (or been discarded) is a programming
// error and is rejected. If the id is already live, unit is closed and the
// call returns nil without effect. If the unit's origin declares a before
// hook, the hook is scheduled first under id+":before_task" and the task
// body waits for it.
func (s *Scheduler) Schedule(ctx context.Context, id string, unit *Unit) error {
	_, err := s.schedule(ctx, id, unit)
	return err
}

func (s *Scheduler) schedule(ctx context.Context, id string, unit *Unit) (*handle, error) {
	if unit == nil {
		return nil, errors.New("sched: cannot schedule a nil unit")
	}
	s.log.Debug("scheduling task", logx.String("task", id))

	if unit.Consumed() {
		return nil, fmt.Errorf("sched: cannot schedule an already consumed unit for %q", id)
	}

	s.mu.Lock()
	if _, ok := s.tasks[id]; ok {
		s.mu.Unlock()
		s.log.Debug("task already scheduled, discarding unit", logx.String("task", id))
		unit.Close()
		return nil, nil
	}

	origin := s.origins[id]
	if origin == nil {
		origin = unit.origin
		s.origins[id] = origin
	}

	tctx, cancel := context.WithCancel(ctx)
	h := &handle{id: id, unit: unit, parent: ctx, cancel: cancel, done: make(chan struct{})}
	s.tasks[id] = h
	s.mu.Unlock()

	if origin != nil && origin.before != nil {
		bh, err := s.schedule(ctx, id+":before_task", NewRunnable(id+":before_task", origin.before).Unit())
		if err != nil {
			s.log.Error("failed to schedule before hook", logx.String("task", id), logx.Err(err))
		} else if bh != nil {
			h.waitFor = bh.done
		}
	}

	go s.runTask(tctx, h)
	s.log.Debug("scheduled task",
		logx.String("task", fmt.Sprintf("%s_%s", s.name, id)),
		logx.String("handle", fmt.Sprintf("%p", h)),
	)
	return h, nil
}

// ScheduleAt runs unit at the given absolute time. A time in the past (or
// now) schedules immediately.
func (s *Scheduler) ScheduleAt(ctx context.Context, at time.Time, id string, unit *Unit) error {
	delay := time.Until(at)
	if delay > 0 {
		return s.Schedule(ctx, id, s.delayedUnit(ctx, delay, id, unit))
	}
	return s.Schedule(ctx, id, unit)
}

// ScheduleLater runs unit after the given delay. The delay always goes
// through the sleep shim; a non-positive delay sleeps effectively zero time.
func (s *Scheduler) ScheduleLater(ctx context.Context, delay time.Duration, id string, unit *Unit) error {
	return s.Schedule(ctx, id, s.delayedUnit(ctx, delay, id, unit))
}

// delayedUnit wraps unit in a sleep-then-run shim.
//
// The shim records the wrapped unit's origin before sleeping, so hook lookup
// works even when the task is cancelled mid-sleep. Once past the sleep the
// unit runs under the schedule-time parent context, not the task's
// cancellable one: cancelling the sleeping task must not silently abandon
// work that already started. The shim closes a never-started unit on every
// exit, including being discarded unrun itself.
func (s *Scheduler) delayedUnit(parent context.Context, delay time.Duration, id string, unit *Unit) *Unit {
	shim := &Unit{
		origin:  &Runnable{name: unit.Name()},
		onClose: func() { unit.Close() },
	}
	shim.fn = func(tctx context.Context) error {
		s.storeOrigin(id, unit.origin)

		defer func() {
			if unit.Close() {
				s.log.Debug("explicitly closed unit", logx.String("task", id))
			}
		}()

		if delay > 0 {
			s.log.Debug("waiting before running task",
				logx.String("task", id),
				logx.Duration("delay", delay),
			)
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-tctx.Done():
				return tctx.Err()
			case <-timer.C:
			}
		}

		if !unit.consume() {
			return fmt.Errorf("sched: unit for %q consumed elsewhere", id)
		}
		s.log.Debug("done waiting, running task", logx.String("task", id))
		return unit.run(parent)
	}
	return shim
}

func (s *Scheduler) storeOrigin(id string, origin *Runnable) {
	if origin == nil {
		return
	}
	s.mu.Lock()
	s.origins[id] = origin
	s.mu.Unlock()
}

func (s *Scheduler) runTask(ctx context.Context, h *handle) {
	var err error

	if h.waitFor != nil {
		select {
		case <-h.waitFor:
		case <-ctx.Done():
			err = ctx.Err()
			h.unit.Close()
		}
	}

	if err == nil {
		if !h.unit.consume() {
			err = fmt.Errorf("sched: unit for %q consumed elsewhere", h.id)
		} else {
			err = h.unit.run(ctx)
		}
	}

	close(h.done)
	s.taskDone(h, err)
}

// taskDone is the single completion callback for every task.
func (s *Scheduler) taskDone(h *handle, err error) {
	hid := fmt.Sprintf("%p", h)
	s.log.Debug("performing done callback",
		logx.String("task", h.id),
		logx.String("handle", hid),
	)

	canceled := errors.Is(err, context.Canceled)

	s.mu.Lock()
	cur := s.tasks[h.id]
	switch {
	case cur == h:
		delete(s.tasks, h.id)
		origin := s.origins[h.id]
		delete(s.origins, h.id)
		s.mu.Unlock()

		if origin != nil && origin.after != nil {
			afterID := h.id + ":after_task"
			if serr := s.Schedule(h.parent, afterID, NewRunnable(afterID, origin.after).Unit()); serr != nil {
				s.log.Error("failed to schedule after hook", logx.String("task", h.id), logx.Err(serr))
			}
		}
	case cur != nil:
		s.mu.Unlock()
		// A new task was likely rescheduled with the same id.
		s.log.Debug("tracked task and done task differ",
			logx.String("task", h.id),
			logx.String("handle", hid),
			logx.String("tracked", fmt.Sprintf("%p", cur)),
		)
	default:
		s.mu.Unlock()
		if !canceled {
			s.log.Warn("task not found while handling completion; a task somehow got unscheduled improperly",
				logx.String("task", h.id),
				logx.String("handle", hid),
			)
		}
	}

	// Cancellation is control flow, never an error.
	if err != nil && !canceled {
		s.log.Error("task failed",
			logx.String("task", h.id),
			logx.String("handle", hid),
			logx.Err(err),
		)
	}
}

// Cancel unschedules and cancels the task with the given id. A missing id is
// non-fatal but diagnosable, so it logs a warning.
func (s *Scheduler) Cancel(id string) {
	s.log.Debug("cancelling task", logx.String("task", id))

	s.mu.Lock()
	h := s.tasks[id]
	if h == nil {
		s.mu.Unlock()
		s.log.Warn("failed to unschedule task (no task found)", logx.String("task", id))
		return
	}
	delete(s.tasks, id)
	delete(s.origins, id)
	s.mu.Unlock()

	h.cancel()
	s.log.Debug("unscheduled task",
		logx.String("task", id),
		logx.String("handle", fmt.Sprintf("%p", h)),
	)
}

// CancelAll unschedules every live task. It iterates a snapshot, so it is
// safe to call while new tasks are being scheduled concurrently.
func (s *Scheduler) CancelAll() {
	s.log.Debug("unscheduling all tasks")
	for _, id := range s.Tasks() {
		s.Cancel(id)
	}
}
