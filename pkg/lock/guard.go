package lock

import (
	"context"
	"fmt"

	"lockstep/pkg/argbind"
	"lockstep/pkg/logx"
)

// Policy decides what happens when a guarded job finds its resource held.
type Policy int

const (
	// Block waits until the lock becomes available.
	Block Policy = iota
	// Skip returns without running the job and without error.
	Skip
	// Fail returns a *LockedResourceError.
	Fail
)

func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case Skip:
		return "skip"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Job is the unit of work a guard protects. The bound arguments of the call
// are passed through so derived resource ids and the job see the same values.
type Job func(ctx context.Context, args argbind.Args) error

// ResourceID is either a fixed value or a resolver evaluated against the
// call's bound arguments.
type ResourceID struct {
	value any
	fn    func(ctx context.Context, args argbind.Args) (any, error)
}

// ID wraps a literal resource id.
func ID(v any) ResourceID { return ResourceID{value: v} }

// DeriveID wraps a resolver computing the resource id from the bound
// arguments. The resolver may block (it receives the call context).
func DeriveID(fn func(ctx context.Context, args argbind.Args) (any, error)) ResourceID {
	return ResourceID{fn: fn}
}

func (id ResourceID) fixed() bool { return id.fn == nil }

func (id ResourceID) resolve(ctx context.Context, args argbind.Args) (any, error) {
	if id.fn == nil {
		return id.value, nil
	}
	return id.fn(ctx, args)
}

// Guarded is a job wrapped with per-resource mutual exclusion. Construct via
// Registry.Guard / Registry.GuardArg; invoke via Run.
type Guarded struct {
	reg    *Registry
	ns     any
	id     ResourceID
	policy Policy
	job    Job
	name   string
	log    logx.Logger
}

type GuardOption func(*Guarded)

// WithName sets the job name used in log lines.
func WithName(name string) GuardOption {
	return func(g *Guarded) { g.name = name }
}

// WithLogger sets the logger used by the guard.
func WithLogger(log logx.Logger) GuardOption {
	return func(g *Guarded) { g.log = log }
}

// Guard wraps job so that it runs under mutual exclusion for the resource
// (namespace, id). A nil job is a programming error and panics immediately.
func (r *Registry) Guard(namespace any, id ResourceID, policy Policy, job Job, opts ...GuardOption) *Guarded {
	if job == nil {
		panic("lock: Guard requires a non-nil job")
	}
	g := &Guarded{reg: r, ns: namespace, id: id, policy: policy, job: job, name: "guarded"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Guard wraps job using the process-wide registry.
func Guard(namespace any, id ResourceID, policy Policy, job Job, opts ...GuardOption) *Guarded {
	return defaultRegistry.Guard(namespace, id, policy, job, opts...)
}

// GuardArg wraps job like Guard, deriving the resource id from one bound
// argument picked by sel, optionally passed through transform.
func (r *Registry) GuardArg(namespace any, sel argbind.Selector, transform func(any) (any, error), policy Policy, job Job, opts ...GuardOption) *Guarded {
	id := DeriveID(func(_ context.Context, args argbind.Args) (any, error) {
		v, err := sel.Pick(args)
		if err != nil {
			return nil, err
		}
		if transform != nil {
			return transform(v)
		}
		return v, nil
	})
	return r.Guard(namespace, id, policy, job, opts...)
}

// GuardArg wraps job using the process-wide registry.
func GuardArg(namespace any, sel argbind.Selector, transform func(any) (any, error), policy Policy, job Job, opts ...GuardOption) *Guarded {
	return defaultRegistry.GuardArg(namespace, sel, transform, policy, job, opts...)
}

// Namespace returns the guard's namespace.
func (g *Guarded) Namespace() any { return g.ns }

// Run invokes the guarded job with the given bound arguments.
//
// ran=false with a nil error is the skip sentinel: the resource was held and
// the policy said not to run. Errors from the job itself propagate unchanged;
// the lock is released on every exit path.
func (g *Guarded) Run(ctx context.Context, args argbind.Args) (ran bool, err error) {
	rid, err := g.id.resolve(ctx, args)
	if err != nil {
		return false, err
	}

	g.log.Debug("acquiring resource lock",
		logx.String("job", g.name),
		logx.Any("namespace", g.ns),
		logx.Any("resource", rid),
		logx.String("policy", g.policy.String()),
	)

	release, ok, err := g.reg.acquire(ctx, g.ns, rid, g.policy == Block)
	if err != nil {
		return false, err
	}
	if !ok {
		g.log.Info("job aborted: resource locked",
			logx.String("job", g.name),
			logx.Any("namespace", g.ns),
			logx.Any("resource", rid),
		)
		if g.policy == Fail {
			return false, &LockedResourceError{Namespace: g.ns, ID: rid}
		}
		return false, nil
	}
	defer release()

	return true, g.job(ctx, args)
}
