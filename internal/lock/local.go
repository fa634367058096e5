package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Local is an in-process Locker: one single-slot channel per key, dropped when idle.
type Local struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns a Local that gives up after wait. Zero waits until ctx ends.
func NewLocal(wait time.Duration) *Local {
	return &Local{wait: wait, slots: map[string]*slot{}}
}

func (l *Local) Lock(parent context.Context, keys ...string) (func(), error) {
	ctx := parent
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, l.wait)
		defer cancel()
	}

	keys = sortedUnique(keys)
	held := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := l.acquire(ctx, k); err != nil {
			if perr := parent.Err(); perr != nil {
				err = fmt.Errorf("lock %s: %w", k, perr)
			}
			l.release(held)
			return nil, err
		}
		held = append(held, k)
	}
	var once sync.Once
	return func() { once.Do(func() { l.release(held) }) }, nil
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.unref(key, s)
		l.mu.Unlock()
		if l.wait > 0 {
			return fmt.Errorf("lock %s: %w", key, ErrNotAcquired)
		}
		return fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
}

func (l *Local) release(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(keys) - 1; i >= 0; i-- {
		s := l.slots[keys[i]]
		<-s.ch
		l.unref(keys[i], s)
	}
}

// unref must be called with l.mu held.
func (l *Local) unref(key string, s *slot) {
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
