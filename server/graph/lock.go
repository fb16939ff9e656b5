package graph

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"golang.org/x/sync/semaphore"
)

const maxReaders = 1 << 30

// rwLock is a readers/writer lock whose acquisition honours a context and an
// optional timeout. Waiters are served in order, so a queued writer holds
// back later readers.
type rwLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newRWLock(timeout time.Duration) rwLock {
	return rwLock{sem: semaphore.NewWeighted(maxReaders), timeout: timeout}
}

func (l rwLock) acquire(ctx context.Context, n int64) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := l.sem.Acquire(ctx, n); err != nil {
		return errors.Wrap(ErrLockTimeout, "", j.KV("cause", err.Error()))
	}
	return nil
}

func (l rwLock) Lock(ctx context.Context) error {
	return l.acquire(ctx, maxReaders)
}

func (l rwLock) Unlock() {
	l.sem.Release(maxReaders)
}

func (l rwLock) RLock(ctx context.Context) error {
	return l.acquire(ctx, 1)
}

func (l rwLock) RUnlock() {
	l.sem.Release(1)
}
