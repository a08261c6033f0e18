// Package lock provides keyed locking for concurrent session operations.
// A key is typically a session ID, or "sessionID:resource" for finer grain.
package lock

import (
	"context"
	"sync"
	"time"
)

// keyMutex wraps a mutex with reference counting for cleanup.
type keyMutex struct {
	mu       sync.Mutex
	refCount int
}

// KeyLock provides per-key locking to prevent race conditions on
// session state transitions and resource reservations.
type KeyLock struct {
	locks sync.Map // map[string]*keyMutex
	pool  sync.Pool
}

// NewKeyLock creates a new KeyLock instance.
func NewKeyLock() *KeyLock {
	return &KeyLock{
		pool: sync.Pool{
			New: func() any {
				return &keyMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given key.
func (kl *KeyLock) getLock(key string) *keyMutex {
	if v, ok := kl.locks.Load(key); ok {
		return v.(*keyMutex)
	}

	newLock := kl.pool.Get().(*keyMutex)
	newLock.refCount = 0

	// Store or load existing (handles race condition)
	actual, loaded := kl.locks.LoadOrStore(key, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool
		kl.pool.Put(newLock)
	}
	return actual.(*keyMutex)
}

// Lock acquires the lock for a key.
func (kl *KeyLock) Lock(key string) {
	lock := kl.getLock(key)
	lock.mu.Lock()
	lock.refCount++
}

// Unlock releases the lock for a key.
func (kl *KeyLock) Unlock(key string) {
	if v, ok := kl.locks.Load(key); ok {
		lock := v.(*keyMutex)
		lock.refCount--
		lock.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (kl *KeyLock) TryLock(key string) bool {
	lock := kl.getLock(key)
	if lock.mu.TryLock() {
		lock.refCount++
		return true
	}
	return false
}

// LockWithTimeout attempts to acquire the lock with a timeout.
// Returns true if the lock was acquired, false if timeout occurred.
func (kl *KeyLock) LockWithTimeout(ctx context.Context, key string, timeout time.Duration) bool {
	lock := kl.getLock(key)

	done := make(chan struct{})

	go func() {
		lock.mu.Lock()
		close(done)
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		lock.refCount++
		return true
	case <-timeoutCtx.Done():
		// The waiting goroutine will eventually acquire the lock;
		// release it once it does so nobody is left holding it.
		go func() {
			<-done
			lock.mu.Unlock()
		}()
		return false
	}
}

// WithLock executes a function while holding the key's lock.
func (kl *KeyLock) WithLock(key string, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}

// WithLockContext executes a function while holding the key's lock,
// with context support for cancellation.
func (kl *KeyLock) WithLockContext(ctx context.Context, key string, timeout time.Duration, fn func() error) error {
	if !kl.LockWithTimeout(ctx, key, timeout) {
		return ErrLockTimeout
	}
	defer kl.Unlock(key)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

// IsLocked checks if a key currently has an active lock.
// Note: This is a point-in-time check and may change immediately after.
func (kl *KeyLock) IsLocked(key string) bool {
	if v, ok := kl.locks.Load(key); ok {
		lock := v.(*keyMutex)
		if lock.mu.TryLock() {
			lock.mu.Unlock()
			return false
		}
		return true
	}
	return false
}
