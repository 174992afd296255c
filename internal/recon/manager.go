package recon

import (
	"sync"

	"github.com/wot-technology/wellspring/crypto"
)

// Manager owns one index per sync scope and serializes access to it. It
// subscribes to the store's insert hook, keeping index maintenance on the
// write path.
type Manager struct {
	mtx   sync.RWMutex
	trees map[crypto.Digest]*Tree
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{trees: make(map[crypto.Digest]*Tree)}
}

// Insert records a scope membership. Shaped as a store.InsertFunc.
func (m *Manager) Insert(scope crypto.Digest, createdAt int64, id crypto.Digest) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	t, ok := m.trees[scope]
	if !ok {
		t = NewTree()
		m.trees[scope] = t
	}
	t.Insert(Item{CreatedAt: createdAt, ID: id})
}

// Remove drops a scope membership. Local pruning policy only.
func (m *Manager) Remove(scope crypto.Digest, it Item) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if t, ok := m.trees[scope]; ok {
		t.Remove(it)
	}
}

// Len returns the number of items indexed for scope.
func (m *Manager) Len(scope crypto.Digest) int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	if t, ok := m.trees[scope]; ok {
		return t.Len()
	}
	return 0
}

// Fingerprint summarizes scope items in [lo, hi). An unknown scope is an
// empty range: fingerprints are pure functions of currently held data, so
// re-running a sync round is always safe.
func (m *Manager) Fingerprint(scope crypto.Digest, lo, hi Item) (Fingerprint, uint64) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	if t, ok := m.trees[scope]; ok {
		return t.Fingerprint(lo, hi)
	}
	return agg{}.fingerprint(), 0
}

// Enumerate lists scope items in [lo, hi) in index order.
func (m *Manager) Enumerate(scope crypto.Digest, lo, hi Item) []Item {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	if t, ok := m.trees[scope]; ok {
		return t.Enumerate(lo, hi)
	}
	return nil
}

// SplitPoints returns interior boundaries dividing [lo, hi) into at most
// parts sub-ranges of nearly equal count.
func (m *Manager) SplitPoints(scope crypto.Digest, lo, hi Item, parts int) []Item {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	if t, ok := m.trees[scope]; ok {
		return t.SplitPoints(lo, hi, parts)
	}
	return nil
}

// Rebuild repopulates every index from a persisted walk, typically at node
// start.
func (m *Manager) Rebuild(forEach func(fn func(scope crypto.Digest, createdAt int64, id crypto.Digest) error) error) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.trees = make(map[crypto.Digest]*Tree)
	return forEach(func(scope crypto.Digest, createdAt int64, id crypto.Digest) error {
		t, ok := m.trees[scope]
		if !ok {
			t = NewTree()
			m.trees[scope] = t
		}
		t.Insert(Item{CreatedAt: createdAt, ID: id})
		return nil
	})
}
