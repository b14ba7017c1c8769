package sessionlock

import (
	"context"
	"sync"
)

// MemoryLocker is an in-process Locker. Entries are reference counted and
// removed once no caller holds or waits for them.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*memEntry
}

type memEntry struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*memEntry)}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[sessionID]
	if !ok {
		e = &memEntry{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(sessionID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.unref(sessionID, e)
		})
	}, nil
}

func (l *MemoryLocker) unref(sessionID string, e *memEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, sessionID)
	}
}

func (l *MemoryLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
