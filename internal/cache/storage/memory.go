package storage

import (
	"sort"
	"sync"
)

// Memory is an in-process Storage with an optional byte quota, counted as
// len(key)+len(value) per item. It does not survive a restart; it stands
// in for durable storage in tests and one-shot runs.
type Memory struct {
	quota int

	lock  sync.RWMutex
	items map[string][]byte
	used  int
}

var _ Storage = &Memory{}

// NewMemory creates an empty store. A quota <= 0 means unlimited.
func NewMemory(quota int) *Memory {
	return &Memory{
		quota: quota,
		items: make(map[string][]byte),
	}
}

func (m *Memory) GetItem(key string) ([]byte, bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	value, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *Memory) SetItem(key string, value []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	used := m.used
	if old, ok := m.items[key]; ok {
		used -= len(key) + len(old)
	}
	used += len(key) + len(value)
	if m.quota > 0 && used > m.quota {
		return ErrStorageFull
	}

	m.items[key] = append([]byte(nil), value...)
	m.used = used
	return nil
}

func (m *Memory) RemoveItem(key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if old, ok := m.items[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.items, key)
	}
	return nil
}

func (m *Memory) Keys(prefix string) ([]string, error) {
	m.lock.RLock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	m.lock.RUnlock()

	sort.Strings(keys)
	return filterPrefix(keys, prefix), nil
}

func (m *Memory) Close() error {
	return nil
}
