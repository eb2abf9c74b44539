// Package lock provides per-key mutual exclusion for subscription state
// transitions. Unrelated keys proceed fully in parallel; the same key is
// serialized across all callers of one provider.
package lock

import (
	"errors"
	"time"
)

// ErrTimeout is returned when a lock could not be acquired within the
// caller's wait budget. Callers treat it as retryable.
var ErrTimeout = errors.New("lock: acquire timeout")

// Lease is proof of ownership for one acquired lock. It must be passed
// back to Release by the same holder.
type Lease struct {
	Key   string
	Token string
}

// Provider grants exclusive access to a key. The in-process
// implementation covers single-node deployments; the Redis implementation
// covers multi-node ones. Selection is a deployment decision (env config),
// never hardcoded at call sites.
type Provider interface {
	// Acquire blocks until the key is exclusively held or timeout
	// elapses, in which case it returns ErrTimeout.
	Acquire(key string, timeout time.Duration) (*Lease, error)
	// Release gives the key back. Releasing a lease that is no longer
	// held (e.g. expired server-side) is not an error.
	Release(lease *Lease) error
}
