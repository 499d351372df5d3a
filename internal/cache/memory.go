package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"transcription-scheduler/internal/models"
)

type memoryEntry struct {
	fingerprint string
	result      models.Result
	createdAt   time.Time
	size        int
}

// Memory is an in-process LRU cache with optional TTL. Capacity eviction
// drops the least-recently-accessed entries; expired entries are dropped
// lazily on Get and by EvictExpired sweeps.
type Memory struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently accessed
	index    map[string]*list.Element
}

// NewMemory builds a cache holding at most capacity entries. A ttl of zero
// means entries never expire.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

func (m *Memory) expired(e *memoryEntry, now time.Time) bool {
	return m.ttl > 0 && now.Sub(e.createdAt) > m.ttl
}

func (m *Memory) Get(_ context.Context, fingerprint string) (models.Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.index[fingerprint]
	if !ok {
		return models.Result{}, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if m.expired(entry, time.Now()) {
		m.order.Remove(el)
		delete(m.index, fingerprint)
		return models.Result{}, false, nil
	}
	m.order.MoveToFront(el)
	return entry.result, true, nil
}

func (m *Memory) Put(_ context.Context, fingerprint string, result models.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.index[fingerprint]; ok {
		entry := el.Value.(*memoryEntry)
		entry.result = result
		entry.createdAt = time.Now()
		entry.size = len(result.Text)
		m.order.MoveToFront(el)
		return nil
	}
	el := m.order.PushFront(&memoryEntry{
		fingerprint: fingerprint,
		result:      result,
		createdAt:   time.Now(),
		size:        len(result.Text),
	})
	m.index[fingerprint] = el
	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.index, oldest.Value.(*memoryEntry).fingerprint)
	}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.index[fingerprint]; ok {
		m.order.Remove(el)
		delete(m.index, fingerprint)
	}
	return nil
}

func (m *Memory) EvictExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for el := m.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*memoryEntry)
		if m.expired(entry, now) {
			m.order.Remove(el)
			delete(m.index, entry.fingerprint)
			removed++
		}
		el = prev
	}
	return removed, nil
}

// Len returns the current entry count.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
