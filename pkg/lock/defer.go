package lock

import (
	"context"
	"time"

	"lockstep/pkg/argbind"
	"lockstep/pkg/logx"
)

// deferPollInterval is how often a blocking Deferred re-checks the watched
// lock. This is a plain poll, not a condition wait: the added latency is
// bounded and accepted.
const deferPollInterval = 100 * time.Millisecond

// Deferred is a job that yields to another guard's lock without ever
// acquiring it. While the watched lock is held the job does not run; once it
// is observed free the job runs immediately, concurrently with anything else.
type Deferred struct {
	reg    *Registry
	ns     any
	id     any
	policy Policy
	job    Job
	name   string
	log    logx.Logger
}

type DeferOption func(*Deferred)

// DeferName sets the job name used in log lines.
func DeferName(name string) DeferOption {
	return func(d *Deferred) { d.name = name }
}

// DeferLogger sets the logger used by the deferred job.
func DeferLogger(log logx.Logger) DeferOption {
	return func(d *Deferred) { d.log = log }
}

// DeferTo wraps job so that it consults the lock guarded by other before
// running. other must guard a fixed resource id; a per-call derived id gives
// no single lock to watch and is rejected at setup time.
func DeferTo(other *Guarded, policy Policy, job Job, opts ...DeferOption) (*Deferred, error) {
	if other == nil {
		return nil, ErrNoDeferTarget
	}
	if !other.id.fixed() {
		return nil, ErrNotFixedResource
	}
	if job == nil {
		panic("lock: DeferTo requires a non-nil job")
	}
	d := &Deferred{
		reg:    other.reg,
		ns:     other.ns,
		id:     other.id.value,
		policy: policy,
		job:    job,
		name:   "deferred",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run invokes the job once the watched lock is free, per the policy.
// ran=false with a nil error is the skip sentinel.
func (d *Deferred) Run(ctx context.Context, args argbind.Args) (ran bool, err error) {
	if !d.reg.peek(d.ns, d.id) {
		d.log.Debug("watched resource unlocked, continuing",
			logx.String("job", d.name),
			logx.Any("namespace", d.ns),
			logx.Any("resource", d.id),
		)
		return true, d.job(ctx, args)
	}

	d.log.Info("watched resource is locked",
		logx.String("job", d.name),
		logx.Any("namespace", d.ns),
		logx.Any("resource", d.id),
	)

	switch d.policy {
	case Block:
		ticker := time.NewTicker(deferPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-ticker.C:
				if !d.reg.peek(d.ns, d.id) {
					return true, d.job(ctx, args)
				}
			}
		}
	case Fail:
		return false, &LockedResourceError{Namespace: d.ns, ID: d.id}
	default:
		return false, nil
	}
}
