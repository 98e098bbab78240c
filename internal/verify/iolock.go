package verify

import (
	"sort"
	"sync"
)

// SheetLockManager provides per-sheet mutual exclusion for IO-requiring
// rules. Uses a keyed mutex pattern: each sheet name gets its own mutex, so
// full scans of different sheets may overlap while scans of the same sheet
// serialize.
type SheetLockManager struct {
	mu    sync.Mutex // guards the locks map itself
	locks map[string]*sync.Mutex
}

// NewSheetLockManager creates a new SheetLockManager.
func NewSheetLockManager() *SheetLockManager {
	return &SheetLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-sheet mutex, creating it on first access.
func (m *SheetLockManager) Lock(name string) {
	m.mu.Lock()
	lock, exists := m.locks[name]
	if !exists {
		lock = &sync.Mutex{}
		m.locks[name] = lock
	}
	m.mu.Unlock()

	// Acquire outside the manager lock to avoid contention.
	lock.Lock()
}

// Unlock releases the per-sheet mutex.
func (m *SheetLockManager) Unlock(name string) {
	m.mu.Lock()
	lock, exists := m.locks[name]
	m.mu.Unlock()

	if exists {
		lock.Unlock()
	}
}

// LockAll acquires locks for all given sheets in lexicographic order so two
// callers locking overlapping sets cannot deadlock.
func (m *SheetLockManager) LockAll(names []string) {
	if len(names) == 0 {
		return
	}
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	for _, name := range sorted {
		m.Lock(name)
	}
}

// UnlockAll releases locks for all given sheets in reverse sorted order.
func (m *SheetLockManager) UnlockAll(names []string) {
	if len(names) == 0 {
		return
	}
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	for i := len(sorted) - 1; i >= 0; i-- {
		m.Unlock(sorted[i])
	}
}
