package node

import "sync"

// Storage persists non-volatile attribute values across restarts.
type Storage interface {
	// LoadAttribute returns the stored value and whether one was found.
	LoadAttribute(path AttributePath) (Value, bool, error)

	// SaveAttribute stores the committed value.
	SaveAttribute(path AttributePath, v Value) error
}

// MemoryStorage keeps attribute values in memory. Useful for tests.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[AttributePath]Value

	// Saves counts SaveAttribute calls.
	Saves int
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[AttributePath]Value)}
}

func (m *MemoryStorage) LoadAttribute(path AttributePath) (Value, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[path]
	return v, ok, nil
}

func (m *MemoryStorage) SaveAttribute(path AttributePath, v Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[path] = v
	m.Saves++
	return nil
}
