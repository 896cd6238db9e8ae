package timerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"lockstep/internal/eventbus"
	"lockstep/pkg/logx"
	"lockstep/pkg/sched"
)

const (
	// Timers expiring this soon are kept in memory instead of hitting the
	// database. They get negative ids and do not survive a restart.
	shortTimerThreshold = 60 * time.Second

	// How far ahead the dispatch loop looks for the next persisted timer.
	maxHorizon = 40 * 24 * time.Hour
)

// Handler runs when a timer for its event expires.
type Handler func(ctx context.Context, t Timer) error

// Dispatcher owns the dispatch loop: it loads the nearest persisted timer,
// sleeps until it expires, deletes it, and hands it to the registered
// handler via the scheduler (task id "timer:<id>").
type Dispatcher struct {
	store *Store
	sch   *sched.Scheduler
	bus   eventbus.Bus
	log   logx.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	shortSeq int64 // decremented; short timers get negative ids

	wake chan struct{} // buffered(1): a nearer timer was created
}

func NewDispatcher(store *Store, sch *sched.Scheduler, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		sch:      sch,
		bus:      bus,
		log:      log.With(logx.String("component", "timers")),
		handlers: map[string]Handler{},
		wake:     make(chan struct{}, 1),
	}
}

// Handle registers the handler for an event, replacing any previous one.
func (d *Dispatcher) Handle(event string, h Handler) {
	d.mu.Lock()
	d.handlers[event] = h
	d.mu.Unlock()
}

func (d *Dispatcher) handler(event string) Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[event]
}

// CreateAt persists a timer firing at the given time. Near timers skip the
// database and fire from memory.
func (d *Dispatcher) CreateAt(ctx context.Context, event string, at time.Time, payload json.RawMessage) (Timer, error) {
	now := time.Now().UTC()
	at = at.UTC()

	if at.Sub(now) <= shortTimerThreshold {
		d.mu.Lock()
		d.shortSeq--
		t := Timer{ID: d.shortSeq, Event: event, Created: now, Expires: at, Payload: payload}
		d.mu.Unlock()

		d.scheduleFire(ctx, t, time.Until(at))
		d.log.Debug("short timer armed", logx.Int64("id", t.ID), logx.String("event", event))
		return t, nil
	}

	t, err := d.store.Create(ctx, event, now, at, payload)
	if err != nil {
		return Timer{}, err
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.TimerScheduled, Data: t})
	d.log.Debug("timer created", logx.Int64("id", t.ID), logx.String("event", event), logx.Time("expires", at))

	// Nudge the loop in case this timer is nearer than the loaded one.
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return t, nil
}

// CreateIn persists a timer firing after the given delay.
func (d *Dispatcher) CreateIn(ctx context.Context, event string, delay time.Duration, payload json.RawMessage) (Timer, error) {
	return d.CreateAt(ctx, event, time.Now().Add(delay), payload)
}

// Pending reports how many persisted timers are waiting to fire.
func (d *Dispatcher) Pending(ctx context.Context) (int64, error) {
	return d.store.Count(ctx)
}

// Cancel deletes a persisted timer before it fires.
func (d *Dispatcher) Cancel(ctx context.Context, id int64) (bool, error) {
	ok, err := d.store.Delete(ctx, id)
	if ok {
		// The loop may be sleeping on the deleted timer; make it reload.
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
	return ok, err
}

// Run drives the dispatch loop until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t, err := d.store.Next(ctx, maxHorizon)
		if err != nil {
			d.log.Warn("loading next timer failed", logx.Err(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if t == nil {
			// Nothing due within the horizon; wait for a creation nudge.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.wake:
			}
			continue
		}

		if wait := time.Until(t.Expires); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.wake:
				// A nearer timer may exist now; reload.
				continue
			case <-time.After(wait):
			}
		}

		// Re-check: the timer may have been canceled while we slept.
		deleted, err := d.store.Delete(ctx, t.ID)
		if err != nil {
			d.log.Warn("deleting fired timer failed", logx.Int64("id", t.ID), logx.Err(err))
			continue
		}
		if !deleted {
			continue
		}
		d.fire(ctx, *t)
	}
}

func (d *Dispatcher) scheduleFire(ctx context.Context, t Timer, delay time.Duration) {
	id := fmt.Sprintf("timer:%d", t.ID)
	run := sched.NewRunnable(id, func(tctx context.Context) error {
		return d.dispatch(tctx, t)
	})
	var err error
	if delay > 0 {
		err = d.sch.ScheduleLater(ctx, delay, id, run.Unit())
	} else {
		err = d.sch.Schedule(ctx, id, run.Unit())
	}
	if err != nil {
		d.log.Error("scheduling timer dispatch failed", logx.Int64("id", t.ID), logx.Err(err))
	}
}

func (d *Dispatcher) fire(ctx context.Context, t Timer) {
	d.log.Debug("dispatching timer", logx.Int64("id", t.ID), logx.String("event", t.Event))
	d.scheduleFire(ctx, t, 0)
}

func (d *Dispatcher) dispatch(ctx context.Context, t Timer) error {
	h := d.handler(t.Event)
	if h == nil {
		d.log.Warn("no handler for timer event", logx.String("event", t.Event), logx.Int64("id", t.ID))
		d.bus.Publish(eventbus.Event{Type: eventbus.TimerFailed, Data: t})
		return nil
	}
	if err := h(ctx, t); err != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TimerFailed, Data: t})
		return fmt.Errorf("timer %d (%s): %w", t.ID, t.Event, err)
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.TimerFired, Data: t})
	return nil
}
