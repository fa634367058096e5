// Package lock serializes work per account. Keys are always taken in sorted order so two
// callers locking the same pair can never deadlock.
package lock

import (
	"context"
	"errors"
	"sort"
)

// ErrNotAcquired means the lock stayed busy past the configured wait.
var ErrNotAcquired = errors.New("lock not acquired")

type Locker interface {
	// Lock blocks until every key is held, ctx ends, or the wait expires.
	// The returned func releases all keys.
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

func sortedUnique(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
