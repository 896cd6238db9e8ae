// Package lock provides advisory, per-resource mutual exclusion for
// concurrently running jobs.
//
// Resources are identified by an opaque (namespace, id) pair. Jobs never
// touch mutex objects directly: they are wrapped by Guard / GuardArg and the
// registry handles lookup, creation and cleanup of the underlying locks.
// Locks are refcounted and removed as soon as the last contender releases,
// so idle resource ids do not accumulate memory.
package lock
