package locks

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	const goroutines = 50
	counter := 0

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			unlock := km.Lock("session-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, counter)
}

func TestKeyedMutex_DistinctKeysDoNotBlock(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on an unrelated key blocked")
	}
}

func TestKeyedMutex_EntriesAreReclaimed(t *testing.T) {
	km := NewKeyedMutex()

	for i := 0; i < 10; i++ {
		unlock := km.Lock("k")
		unlock()
	}

	km.mu.Lock()
	n := len(km.entries)
	km.mu.Unlock()
	assert.Equal(t, 0, n)
}

func TestKeyedMutex_WaiterKeepsEntryAlive(t *testing.T) {
	km := NewKeyedMutex()

	unlock := km.Lock("k")

	acquired := make(chan struct{})
	go func() {
		u := km.Lock("k")
		close(acquired)
		u()
	}()

	// let the second goroutine park on the entry
	require.Eventually(t, func() bool {
		km.mu.Lock()
		defer km.mu.Unlock()
		e, ok := km.entries["k"]
		return ok && e.refs == 2
	}, 2*time.Second, 5*time.Millisecond)

	unlock()
	<-acquired

	require.Eventually(t, func() bool {
		km.mu.Lock()
		defer km.mu.Unlock()
		return len(km.entries) == 0
	}, 2*time.Second, 5*time.Millisecond)
}
