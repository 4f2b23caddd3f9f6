// Package syncutil provides per-key locking for user-scoped operations.
package syncutil

import (
	"context"
	"strings"
	"sync"
)

// KeyedMutex serializes work per key. Every key gets its own channel-based
// mutex, created on first use and dropped once no caller holds or waits on
// it, so distinct keys never contend. Callers must hold at most one key at a
// time.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates a ready-to-use keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// LockContext acquires the lock for key or returns the context error.
// Keys are case-insensitive. The returned unlock function may be called more
// than once; only the first call releases.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	key = strings.ToLower(key)
	l := m.ref(key)

	select {
	case <-l.ch:
		var once sync.Once
		return func() {
			once.Do(func() {
				l.ch <- struct{}{}
				m.unref(key, l)
			})
		}, nil
	case <-ctx.Done():
		m.unref(key, l)
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) ref(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks == nil {
		m.locks = make(map[string]*keyLock)
	}
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		l.ch <- struct{}{} // Start unlocked.
		m.locks[key] = l
	}
	l.refs++
	return l
}

func (m *KeyedMutex) unref(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}
