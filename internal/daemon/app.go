// Package daemon wires the locking registry, scheduler, timer dispatcher
// and config hot-reload into a single supervised process.
package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lockstep/internal/config"
	"lockstep/internal/eventbus"
	"lockstep/internal/runtime/supervisor"
	"lockstep/internal/timerstore"
	"lockstep/pkg/argbind"
	"lockstep/pkg/execpool"
	"lockstep/pkg/lock"
	"lockstep/pkg/logx"
	"lockstep/pkg/sched"
)

// Job is a unit of recurring work registered in code and enabled through
// the "jobs" section of the config file.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	logs *logx.Service
	log  logx.Logger

	locks    *lock.Registry
	sch      *sched.Scheduler
	repeater *sched.Repeater
	pool     *execpool.Pool
	bus      eventbus.Bus

	store  *timerstore.Store
	timers *timerstore.Dispatcher

	jobs []Job
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	}, nil)
	log = log.With(logx.String("comp", "app"))

	name := strings.TrimSpace(cfg.Scheduler.Name)
	if name == "" {
		name = "lockstepd"
	}
	loc, err := schedulerLocation(cfg.Scheduler.Timezone)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	sch := sched.New(name, log)
	bus := eventbus.New()

	a := &App{
		cfgm:     cfgm,
		logs:     logSvc,
		log:      log,
		locks:    lock.NewRegistry(),
		sch:      sch,
		repeater: sched.NewRepeater(sch, loc, log),
		pool:     execpool.New(0, log),
		bus:      bus,
	}

	if path := strings.TrimSpace(cfg.Timers.Path); path != "" {
		store, err := timerstore.Open(path)
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("opening timer store: %w", err)
		}
		a.store = store
		a.timers = timerstore.NewDispatcher(store, sch, bus, log)

		// Built-in maintenance job; enabled per instance via the config's
		// "jobs" section like any registered job.
		a.jobs = append(a.jobs, Job{
			Name: "timer-report",
			Run: func(c context.Context) error {
				n, err := a.timers.Pending(c)
				if err != nil {
					return err
				}
				a.log.Info("pending timers", logx.Int64("count", n))
				return nil
			},
		})
	}

	return a, nil
}

func (a *App) Locks() *lock.Registry          { return a.locks }
func (a *App) Scheduler() *sched.Scheduler    { return a.sch }
func (a *App) Pool() *execpool.Pool           { return a.pool }
func (a *App) Bus() eventbus.Bus              { return a.bus }
func (a *App) Timers() *timerstore.Dispatcher { return a.timers }

// RegisterJobs adds recurring jobs. Only jobs named in the config's "jobs"
// section are scheduled; call before Start.
func (a *App) RegisterJobs(jobs ...Job) { a.jobs = append(a.jobs, jobs...) }

// Done is closed when the supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if err := a.applyJobs(a.sup.Context(), a.cfgm.Get()); err != nil {
		return err
	}
	a.repeater.Start()

	if a.timers != nil {
		a.sup.Go("timers.dispatch", func(c context.Context) error {
			return a.timers.Run(c)
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; apply only the newest.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, cfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	})
	if err := a.applyJobs(ctx, cfg); err != nil {
		a.log.Warn("applying job schedules failed", logx.Err(err))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: cfg})
	a.log.Info("config reloaded")
}

// applyJobs syncs the repeater with the config's jobs section: registered
// jobs present in config are (re)scheduled, the rest are removed.
func (a *App) applyJobs(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	for _, job := range a.jobs {
		jc, ok := cfg.Jobs[job.Name]
		if !ok {
			a.repeater.Remove(job.Name)
			continue
		}
		timeout, err := config.ParseDurationOrDefault("jobs."+job.Name+".timeout", jc.Timeout, 0)
		if err != nil {
			return err
		}
		run := a.jobRunnable(job, timeout)
		if err := a.repeater.Add(ctx, job.Name, jc.Schedule, run); err != nil {
			return fmt.Errorf("jobs.%s: %w", job.Name, err)
		}
	}
	return nil
}

// jobRunnable wraps a job in the worker pool with an optional timeout, and
// guards it by name so overlapping schedules skip instead of piling up.
func (a *App) jobRunnable(job Job, timeout time.Duration) *sched.Runnable {
	guarded := a.locks.Guard("jobs", lock.ID(job.Name), lock.Skip, func(ctx context.Context, _ argbind.Args) error {
		return a.pool.Do(ctx, func() error { return job.Run(ctx) })
	}, lock.WithName(job.Name), lock.WithLogger(a.log))

	return sched.NewRunnable(job.Name, func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		ran, err := guarded.Run(ctx, nil)
		if !ran && err == nil {
			a.log.Debug("job overlap skipped", logx.String("job", job.Name))
		}
		return err
	})
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil && err != context.Canceled {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
	}

	step("repeater", 2*time.Second, func(c context.Context) error { a.repeater.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(context.Context) error { a.sch.CancelAll(); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	if a.store != nil {
		step("timerstore", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	return a.logs.Close()
}

func schedulerLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is empty")
	}
	if _, err := schedulerLocation(cfg.Scheduler.Timezone); err != nil {
		return err
	}
	for name, jc := range cfg.Jobs {
		if strings.TrimSpace(jc.Schedule) == "" {
			return fmt.Errorf("jobs.%s: schedule is required", name)
		}
		if _, err := config.ParseDurationOrDefault("jobs."+name+".timeout", jc.Timeout, 0); err != nil {
			return err
		}
	}
	return nil
}
