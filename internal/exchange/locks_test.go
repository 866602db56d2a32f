package exchange

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAssetLocks_SerializesSameAsset(t *testing.T) {
	locks := newAssetLocks()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(7)
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestAssetLocks_IndependentAssets(t *testing.T) {
	locks := newAssetLocks()
	unlockA := locks.lock(1)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.lock(2)
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another asset blocked")
	}
}
