// Package turnlock guarantees at most one in-flight chat turn per project.
package turnlock

import (
	"context"
	"sync"

	"pcbrecon-backend/internal/apperr"
)

// Locker hands out exclusive, non-blocking locks by key. TryLock returns an
// error matching apperr.ErrBusy when the key is already held; the returned
// release func is safe to call more than once.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), err error)
}

// MemoryLocker scopes locks to the current process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) TryLock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, apperr.ErrBusy
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
