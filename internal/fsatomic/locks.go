package fsatomic

import (
	"path/filepath"
	"sync"
)

// Locks is a process-wide registry of named mutexes keyed by target
// path. Two writers aiming at the same file acquire the same mutex, so
// they never race on the final rename. The registry is injected into
// every Writer rather than living at package level, so its lifetime is
// tied to the hosting process and tests can use isolated instances.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocks creates an empty lock registry.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

// ForPath returns the mutex guarding writes to path. The key is the
// cleaned absolute form of path so that spellings like "./a/b" and
// "a/b" resolve to the same lock.
func (l *Locks) ForPath(path string) *sync.Mutex {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	key = filepath.Clean(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// Len reports how many distinct paths have been locked so far.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
