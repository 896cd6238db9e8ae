package lock

import (
	"context"
	"sync"
)

// entry is one per-resource lock. sem with a filled slot means "held".
//
// refs counts every caller currently interested in the entry: the holder
// plus all waiters. The entry is dropped from the table when refs reaches
// zero, which replaces the weak-map cleanup a GC'd runtime would give us.
type entry struct {
	sem  chan struct{}
	refs int
}

// Registry maps (namespace, resource id) pairs to locks, created lazily on
// first acquisition attempt. All table mutation happens under one coarse
// mutex, so two callers racing to create the lock for the same key always
// converge on the same entry.
type Registry struct {
	mu         sync.Mutex
	namespaces map[any]map[any]*entry
}

func NewRegistry() *Registry {
	return &Registry{namespaces: make(map[any]map[any]*entry)}
}

// defaultRegistry backs the package-level Guard/GuardArg helpers, mirroring
// one process-wide lock table shared by all namespaces.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Len reports the number of live resource ids in a namespace. Intended for
// diagnostics and leak checks.
func (r *Registry) Len(namespace any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.namespaces[namespace])
}

func (r *Registry) entryLocked(namespace, id any) *entry {
	ns := r.namespaces[namespace]
	if ns == nil {
		ns = make(map[any]*entry)
		r.namespaces[namespace] = ns
	}
	e := ns[id]
	if e == nil {
		e = &entry{sem: make(chan struct{}, 1)}
		ns[id] = e
	}
	return e
}

func (r *Registry) decrefLocked(namespace, id any, e *entry) {
	e.refs--
	if e.refs <= 0 {
		// Last contender gone and (by invariant) the slot is free.
		delete(r.namespaces[namespace], id)
	}
}

// releaseFunc builds the single-shot release closure handed to the holder.
func (r *Registry) releaseFunc(namespace, id any, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			r.mu.Lock()
			r.decrefLocked(namespace, id, e)
			r.mu.Unlock()
		})
	}
}

// acquire attempts to take the lock for (namespace, id).
//
// With wait=false the answer is immediate: ok=false means the lock is held
// by someone else. With wait=true the call blocks until the lock is free or
// ctx is done. On ok=true the caller must invoke release exactly once.
func (r *Registry) acquire(ctx context.Context, namespace, id any, wait bool) (release func(), ok bool, err error) {
	r.mu.Lock()
	e := r.entryLocked(namespace, id)
	e.refs++

	// Fast path: the slot is free. This also serves the "mutex currently
	// free" case of the skip/fail policies.
	select {
	case e.sem <- struct{}{}:
		r.mu.Unlock()
		return r.releaseFunc(namespace, id, e), true, nil
	default:
	}

	if !wait {
		r.decrefLocked(namespace, id, e)
		r.mu.Unlock()
		return nil, false, nil
	}
	r.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return r.releaseFunc(namespace, id, e), true, nil
	case <-ctx.Done():
		r.mu.Lock()
		r.decrefLocked(namespace, id, e)
		r.mu.Unlock()
		return nil, false, ctx.Err()
	}
}

// peek reports whether the lock for (namespace, id) is currently held.
// It never creates an entry: an absent lock is a free lock.
func (r *Registry) peek(namespace, id any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns := r.namespaces[namespace]
	if ns == nil {
		return false
	}
	e := ns[id]
	if e == nil {
		return false
	}
	return len(e.sem) > 0
}
