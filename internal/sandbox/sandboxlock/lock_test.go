package sandboxlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireSerializesSameKey(t *testing.T) {
	r := NewRegistry()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.Acquire("sandbox-1")
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxActive, "at most one holder at any instant (spec §8 invariant)")
}

func TestDistinctKeysDoNotSerialize(t *testing.T) {
	r := NewRegistry()
	unlockA := r.Acquire("sandbox-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := r.Acquire("sandbox-b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("distinct sandbox ids must not contend")
	}
}

func TestPurgeRemovesUnheldEntry(t *testing.T) {
	r := NewRegistry()
	unlock := r.Acquire("sandbox-1")
	require.Equal(t, 1, r.Len())
	unlock()
	r.Purge("sandbox-1")
	require.Equal(t, 0, r.Len())
}

func TestPurgeLeavesHeldEntryAlone(t *testing.T) {
	r := NewRegistry()
	unlock := r.Acquire("sandbox-1")
	r.Purge("sandbox-1")
	require.Equal(t, 1, r.Len())
	unlock()
}
