// Package keyedlock provides per-key mutual exclusion with FIFO waiter
// ordering and bounded acquisition time. Locks are process-local; cross
// process safety belongs to the store's unique index.
package keyedlock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when the lock is not acquired within the timeout.
var ErrTimeout = errors.New("keyedlock: acquisition timed out")

type (
	// Locker hands out at most one lock per key at a time. Waiters are
	// queued and granted in arrival order. The zero value is not usable;
	// construct with New.
	Locker struct {
		mu   sync.Mutex
		keys map[string]*keyState
	}

	keyState struct {
		held    bool
		waiters []chan struct{}
	}
)

// New constructs a Locker.
func New() *Locker {
	return &Locker{keys: make(map[string]*keyState)}
}

// Acquire blocks until the lock for key is held, the timeout elapses, or ctx
// is done. On success it returns a release function that must be called
// exactly once. Timeout failures return ErrTimeout; context failures return
// ctx.Err().
func (l *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	st := l.keys[key]
	if st == nil {
		st = &keyState{}
		l.keys[key] = st
	}
	if !st.held {
		st.held = true
		l.mu.Unlock()
		return func() { l.release(key) }, nil
	}
	grant := make(chan struct{})
	st.waiters = append(st.waiters, grant)
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-grant:
		return func() { l.release(key) }, nil
	case <-timer.C:
		if l.abandon(key, grant) {
			return nil, ErrTimeout
		}
		// The grant raced the timer: the lock is ours, so hand it on.
		l.release(key)
		return nil, ErrTimeout
	case <-ctx.Done():
		if l.abandon(key, grant) {
			return nil, ctx.Err()
		}
		l.release(key)
		return nil, ctx.Err()
	}
}

// WithLock runs critical while holding the lock for key. The critical
// section's error is returned unchanged; acquisition failures are returned
// as ErrTimeout or the context error.
func (l *Locker) WithLock(ctx context.Context, key string, timeout time.Duration, critical func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx, key, timeout)
	if err != nil {
		return err
	}
	defer release()
	return critical(ctx)
}

// release hands the lock to the oldest waiter, or frees the key when the
// queue is empty.
func (l *Locker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.keys[key]
	if st == nil {
		return
	}
	if len(st.waiters) > 0 {
		grant := st.waiters[0]
		st.waiters = st.waiters[1:]
		close(grant)
		return
	}
	st.held = false
	delete(l.keys, key)
}

// abandon removes grant from the key's waiter queue. It reports false when
// the grant was already delivered, in which case the caller owns the lock.
func (l *Locker) abandon(key string, grant chan struct{}) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.keys[key]
	if st == nil {
		return false
	}
	for i, w := range st.waiters {
		if w == grant {
			st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
			return true
		}
	}
	return false
}
