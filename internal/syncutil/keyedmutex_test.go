package syncutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var counter int64
	var wg sync.WaitGroup
	const n = 100

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock, err := m.LockContext(ctx, "0xabc")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			defer unlock()
			v := atomic.LoadInt64(&counter)
			atomic.StoreInt64(&counter, v+1)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&counter); got != n {
		t.Fatalf("expected %d, got %d", n, got)
	}
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.LockContext(context.Background(), "blocked")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := m.LockContext(ctx, "blocked"); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestKeyedMutex_CaseInsensitiveKeys(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.LockContext(context.Background(), "0xABCDEF")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.LockContext(ctx, "0xabcdef"); err != context.DeadlineExceeded {
		t.Fatalf("expected the same address in another case to be held, got %v", err)
	}

	unlock()
	unlock() // second call is a no-op

	again, err := m.LockContext(context.Background(), "0xabcdef")
	if err != nil {
		t.Fatalf("expected lock to succeed after release: %v", err)
	}
	again()
}

func TestKeyedMutex_DistinctKeysIndependent(t *testing.T) {
	m := NewKeyedMutex()

	held, err := m.LockContext(context.Background(), "0xheld")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer held()

	// Far more keys than any fixed pool of locks would hold apart.
	for i := 0; i < 2048; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		unlock, err := m.LockContext(ctx, fmt.Sprintf("0x%040x", i))
		cancel()
		if err != nil {
			t.Fatalf("key %d blocked by an unrelated holder: %v", i, err)
		}
		unlock()
	}
}

func TestKeyedMutex_DropsIdleKeys(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.LockContext(context.Background(), "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.LockContext(ctx, "a"); err == nil {
		t.Fatal("expected waiter to time out")
	}
	if got := len(m.locks); got != 1 {
		t.Fatalf("expected 1 tracked key while held, got %d", got)
	}

	unlock()
	if got := len(m.locks); got != 0 {
		t.Fatalf("expected no tracked keys after release, got %d", got)
	}
}

func TestKeyedMutex_ZeroValueUsable(t *testing.T) {
	var m KeyedMutex
	unlock, err := m.LockContext(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unlock()
}
