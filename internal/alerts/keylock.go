package alerts

import (
	"sync"

	"telemetry-service/internal/models"
)

// keyLock serializes work per dedup key. Entries live only while held.
type keyLock struct {
	mu    sync.Mutex
	locks map[models.DedupKey]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[models.DedupKey]*keyEntry)}
}

// lock blocks until key is free and returns the matching unlock.
func (k *keyLock) lock(key models.DedupKey) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
