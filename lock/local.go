package lock

import (
	"sync"
)

// LocalManager serializes per-key within one process. It backs the memory
// storage mode and deterministic tests.
type LocalManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Manager = new(LocalManager)

func NewLocalManager() *LocalManager {
	return &LocalManager{
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *LocalManager) WithLock(key string, fn func() error) error {
	m.mu.Lock()
	keyLock, ok := m.locks[key]
	if !ok {
		keyLock = &sync.Mutex{}
		m.locks[key] = keyLock
	}
	m.mu.Unlock()

	keyLock.Lock()
	defer keyLock.Unlock()
	return fn()
}
