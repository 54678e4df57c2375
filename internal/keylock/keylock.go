// Package keylock serializes work per integer key.
package keylock

import (
	"slices"
	"sync"
)

// Keyed hands out one mutex per key. Entries are dropped when unused.
type Keyed struct {
	mu    sync.Mutex
	locks map[int]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New returns an empty Keyed.
func New() *Keyed {
	return &Keyed{locks: make(map[int]*entry)}
}

// Lock blocks until key is held.
func (k *Keyed) Lock(key int) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases key. Unlocking a key that is not held panics.
func (k *Keyed) Unlock(key int) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("keylock: unlock of unlocked key")
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// LockAll locks every distinct key in ascending order and returns a func
// that releases them. Ascending order keeps two callers with overlapping
// key sets from deadlocking.
func (k *Keyed) LockAll(keys ...int) (unlock func()) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	for _, key := range sorted {
		k.Lock(key)
	}
	return func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			k.Unlock(sorted[i])
		}
	}
}
