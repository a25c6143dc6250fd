package progress

import (
	"strings"
	"sync"
)

// MemorySubstrate keeps values in process memory. It does not survive a
// restart and is meant for tests and throwaway agents.
type MemorySubstrate struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemorySubstrate creates an empty MemorySubstrate.
func NewMemorySubstrate() *MemorySubstrate {
	return &MemorySubstrate{data: make(map[string]string)}
}

func (m *MemorySubstrate) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemorySubstrate) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemorySubstrate) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemorySubstrate) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
