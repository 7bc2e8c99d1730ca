package lock

import (
	"context"
	"fmt"
	"time"
)

const DefaultPrefix = "budget-service"

// Lease describes a held (or refused) mutex. HolderID is the token the
// holder must present on release.
type Lease struct {
	Key      string
	HolderID string
	Acquired bool
	TTL      time.Duration
}

// Mutex is a distributed mutual-exclusion primitive. Acquire returns a lease
// with Acquired=false, and no error, when the wait timed out or ctx ended.
// Release returns false when the lease was no longer held.
type Mutex interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (Lease, error)
	Release(ctx context.Context, lease Lease) (bool, error)
}

func BudgetKey(prefix string, budgetID int64) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s:lock:budget:%d", prefix, budgetID)
}
