package exchange

import "sync"

// assetLocks serializes every state-changing pass on one asset.
// Entries are never removed; there is one per listed asset.
type assetLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newAssetLocks() *assetLocks {
	return &assetLocks{locks: make(map[int64]*sync.Mutex)}
}

// lock blocks until the asset's critical section is free and returns its release
func (l *assetLocks) lock(assetID int64) func() {
	l.mu.Lock()
	m, ok := l.locks[assetID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[assetID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
