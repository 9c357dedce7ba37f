// internal/cache/memory.go
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryCapacity bounds the in-process tier.
const DefaultMemoryCapacity = 1000

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is the in-process LRU tier. Entries carry their own expiry and are
// evicted lazily: an expired entry is removed on the Get that finds it.
type Memory struct {
	entries *lru.Cache[string, memoryEntry]
}

func NewMemory(capacity int) (*Memory, error) {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	entries, err := lru.New[string, memoryEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &Memory{entries: entries}, nil
}

func (m *Memory) Get(key string) ([]byte, bool) {
	entry, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.entries.Remove(key)
		return nil, false
	}
	return entry.data, true
}

func (m *Memory) Set(key string, value []byte, ttl time.Duration) {
	entry := memoryEntry{data: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.entries.Add(key, entry)
}

func (m *Memory) Delete(key string) {
	m.entries.Remove(key)
}

func (m *Memory) Len() int {
	return m.entries.Len()
}

func (m *Memory) Purge() {
	m.entries.Purge()
}
