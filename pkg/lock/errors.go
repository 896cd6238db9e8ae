package lock

import (
	"errors"
	"fmt"
	"strings"
)

// LockedResourceError is returned when a guarded job is denied because its
// resource is held and the policy demands an error instead of waiting.
type LockedResourceError struct {
	Namespace any
	ID        any
}

func (e *LockedResourceError) Error() string {
	ns := e.Namespace
	if s, ok := ns.(string); ok {
		ns = strings.ToLower(s)
	}
	return fmt.Sprintf("Cannot operate on %v [%v] due to being locked. Please wait and try again.", ns, e.ID)
}

var (
	// ErrNoDeferTarget reports a DeferTo call without a guarded target.
	ErrNoDeferTarget = errors.New("lock: defer target must be a guarded job")

	// ErrNotFixedResource reports a DeferTo target whose resource id is
	// computed per call. Deferring needs one concrete lock to watch.
	ErrNotFixedResource = errors.New("lock: defer target must guard a fixed resource id")
)
