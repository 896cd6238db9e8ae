package sched

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lockstep/pkg/logx"
)

// Repeater layers recurrence on a Scheduler: each cron tick schedules a
// fresh unit under the entry's name, skipping the tick when the previous run
// is still live (overlap protection).
type Repeater struct {
	sch *Scheduler
	log logx.Logger

	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]cron.EntryID
}

// NewRepeater creates a repeater feeding sch. loc controls cron evaluation;
// nil means the local timezone.
func NewRepeater(sch *Scheduler, loc *time.Location, log logx.Logger) *Repeater {
	if loc == nil {
		loc = time.Local
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Repeater{
		sch:     sch,
		log:     log,
		parser:  parser,
		c:       cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		entries: map[string]cron.EntryID{},
	}
}

// Add registers a recurring entry. spec accepts standard cron lines and
// descriptors like "@every 5m" or "@hourly". Re-adding a name replaces the
// previous entry (upsert across hot-reloads).
func (r *Repeater) Add(ctx context.Context, name, spec string, run *Runnable) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("sched: repeater entry name required")
	}
	if run == nil {
		return errors.New("sched: repeater entry runnable required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[name]; ok {
		r.c.Remove(old)
		delete(r.entries, name)
	}

	id, err := r.c.AddFunc(spec, func() {
		if r.sch.Contains(name) {
			r.log.Debug("previous run still live, skipping tick", logx.String("task", name))
			return
		}
		if err := r.sch.Schedule(ctx, name, run.Unit()); err != nil {
			r.log.Error("failed to schedule recurring task", logx.String("task", name), logx.Err(err))
		}
	})
	if err != nil {
		return err
	}
	r.entries[name] = id
	r.log.Debug("recurring entry registered", logx.String("task", name), logx.String("spec", spec))
	return nil
}

// Remove drops a recurring entry. It returns true if something was removed.
// A run already scheduled for this tick is unaffected; cancel it via the
// scheduler if needed.
func (r *Repeater) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.entries[name]
	if !ok {
		return false
	}
	r.c.Remove(id)
	delete(r.entries, name)
	r.log.Debug("recurring entry removed", logx.String("task", name))
	return true
}

// Start begins firing entries.
func (r *Repeater) Start() {
	r.mu.Lock()
	n := len(r.entries)
	r.c.Start()
	r.mu.Unlock()
	r.log.Info("repeater started", logx.Int("entries", n))
}

// Stop halts firing and waits for in-flight tick callbacks, bounded by ctx.
func (r *Repeater) Stop(ctx context.Context) {
	r.mu.Lock()
	stop := r.c.Stop()
	r.mu.Unlock()

	select {
	case <-stop.Done():
		r.log.Info("repeater stopped")
	case <-ctx.Done():
		r.log.Warn("repeater stop timed out", logx.Err(ctx.Err()))
	}
}
