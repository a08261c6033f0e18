// Property-based tests for keyed lock serialization.
package lock

import (
	"sync"
	"testing"

	"pgregory.net/rapid"
)

// TestKeyedSerializationProperty verifies that concurrent read-modify-write
// operations guarded by the same key behave as if executed sequentially.
func TestKeyedSerializationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.IntRange(0, 1000).Draw(t, "initial")
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")

		deltas := make([]int, numOps)
		expected := initial
		for i := 0; i < numOps; i++ {
			d := rapid.IntRange(-50, 50).Draw(t, "delta")
			deltas[i] = d
			expected += d
		}

		key := rapid.StringMatching(`session:[0-9a-f]{8}`).Draw(t, "key")

		kl := NewKeyLock()
		counter := initial

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, d := range deltas {
			go func(delta int) {
				defer wg.Done()
				kl.Lock(key)
				defer kl.Unlock(key)
				counter += delta
			}(d)
		}
		wg.Wait()

		if counter != expected {
			t.Fatalf("counter mismatch with locking: expected %d, got %d (initial=%d, numOps=%d)",
				expected, counter, initial, numOps)
		}
	})
}

// TestIndependentKeysDoNotBlock verifies that locks on distinct keys can be
// held at the same time.
func TestIndependentKeysDoNotBlock(t *testing.T) {
	kl := NewKeyLock()

	kl.Lock("session:a")
	defer kl.Unlock("session:a")

	if !kl.TryLock("session:b") {
		t.Fatal("lock on a distinct key should not block")
	}
	kl.Unlock("session:b")
}

// TestTryLockHeldKey verifies TryLock fails while the key is held.
func TestTryLockHeldKey(t *testing.T) {
	kl := NewKeyLock()

	kl.Lock("session:a")
	if kl.TryLock("session:a") {
		t.Fatal("TryLock should fail on a held key")
	}
	kl.Unlock("session:a")

	if !kl.TryLock("session:a") {
		t.Fatal("TryLock should succeed once released")
	}
	kl.Unlock("session:a")
}
