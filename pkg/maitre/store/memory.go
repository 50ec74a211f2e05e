// memory.go implements Store on a process-local map. Valid for dev, the
// `maitre chat` REPL and tests; provides no cross-instance consistency.
package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store backed by a map.
type MemoryStore struct {
	items  map[Key]memoryItem
	closed bool
	mu     sync.Mutex

	// now is swappable in tests.
	now func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero = never
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[Key]memoryItem),
		now:   time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key Key) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}

	item, ok := m.items[key]
	if !ok || m.expiredLocked(item) {
		delete(m.items, key)
		return nil, false, nil
	}

	cp := make([]byte, len(item.value))
	copy(cp, item.value)
	return cp, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key Key, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	m.items[key] = m.makeItemLocked(value, ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	delete(m.items, key)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, key Key, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	var old []byte
	found := false
	if item, ok := m.items[key]; ok && !m.expiredLocked(item) {
		old = item.value
		found = true
	}

	next, ttl, err := fn(old, found)
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.items, key)
		return nil
	}

	m.items[key] = m.makeItemLocked(next, ttl)
	return nil
}

func (m *MemoryStore) Consume(_ context.Context, key Key) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}

	item, ok := m.items[key]
	delete(m.items, key)
	if !ok || m.expiredLocked(item) {
		return nil, false, nil
	}
	return item.value, true, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	return nil
}

// SweepExpired prunes items whose TTL elapsed. Expiry is otherwise lazy
// (checked on access), so the sweeper keeps abandoned records from piling up.
func (m *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	removed := 0
	for key, item := range m.items {
		if m.expiredLocked(item) {
			delete(m.items, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) makeItemLocked(value []byte, ttl time.Duration) memoryItem {
	cp := make([]byte, len(value))
	copy(cp, value)

	item := memoryItem{value: cp}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	return item
}

func (m *MemoryStore) expiredLocked(item memoryItem) bool {
	return !item.expiresAt.IsZero() && m.now().After(item.expiresAt)
}
