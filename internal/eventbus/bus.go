package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types emitted by the daemon.
const (
	TimerScheduled = "timer.scheduled"
	TimerFired     = "timer.fired"
	TimerFailed    = "timer.failed"
	ConfigReloaded = "config.reloaded"
)

// Event is an in-memory signal used to decouple the timer dispatcher,
// scheduler and daemon wiring. Data should stay small.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a receive channel and a cancel func. With no types
	// given the subscriber receives every event; otherwise only the listed
	// types are delivered.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. Publish never blocks: slow
// subscribers lose events rather than stalling publishers.
func New() Bus {
	return &fanout{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch    chan Event
	types map[string]struct{} // nil means all
}

func (s *subscriber) wants(t string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type fanout struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot so sends happen outside the lock.
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		// A concurrent unsubscribe may close the channel mid-send.
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
			}
		}()
	}
}

func (b *fanout) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	id := b.seq.Add(1)
	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}
