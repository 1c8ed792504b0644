package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// MemoryCache is the process-lifetime tier.
type MemoryCache struct {
	clock   clock.Clock
	lock    sync.RWMutex
	entries map[string]Entry
	stats   *counters
}

// NewMemory creates an empty memory tier. A nil clock means wall time.
func NewMemory(clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryCache{
		clock:   clk,
		entries: make(map[string]Entry, 64),
		stats:   &counters{},
	}
}

func (m *MemoryCache) Name() string {
	return string(TierMemory)
}

func (m *MemoryCache) Set(key string, data any, expiry time.Duration) {
	ent := newEntry(data, expiry, m.clock.Now())

	m.lock.Lock()
	m.entries[key] = ent
	m.lock.Unlock()
}

func (m *MemoryCache) Get(key string) (any, bool) {
	m.lock.RLock()
	ent, found := m.entries[key]
	m.lock.RUnlock()

	if !found {
		m.stats.miss()
		return nil, false
	}

	if now := m.clock.Now(); !ent.Valid(now) {
		m.lock.Lock()
		// a concurrent Set may have replaced it since the read lock
		if cur, ok := m.entries[key]; ok && !cur.Valid(now) {
			delete(m.entries, key)
		}
		m.lock.Unlock()
		logrus.Debugf("Evicted expired memory entry %s", key)
		m.stats.miss()
		return nil, false
	}

	m.stats.hit()
	return ent.Data, true
}

func (m *MemoryCache) Delete(key string) {
	m.lock.Lock()
	delete(m.entries, key)
	m.lock.Unlock()
}

func (m *MemoryCache) Clear() {
	m.lock.Lock()
	m.entries = make(map[string]Entry, 64)
	m.lock.Unlock()
}

func (m *MemoryCache) ClearExpired() {
	now := m.clock.Now()
	removed := 0

	m.lock.Lock()
	for key, ent := range m.entries {
		if !ent.Valid(now) {
			delete(m.entries, key)
			removed++
		}
	}
	m.lock.Unlock()

	if removed > 0 {
		logrus.Debugf("Swept %d expired memory entries", removed)
	}
}

func (m *MemoryCache) Size() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.entries)
}
