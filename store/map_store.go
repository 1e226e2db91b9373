package store

import (
	"context"
	"sync"
)

// Compile time check to ensure MapStore satisfies the Store interface.
var _ Store = (*MapStore)(nil)

// MapStore is an in-memory implementation of Store using nested Go maps.
// It's suitable for datasets that fit in memory and provides fast O(1) access.
type MapStore struct {
	mu   sync.RWMutex
	data map[string]map[string]Record
}

// NewMapStore creates a new in-memory map-based store.
func NewMapStore() *MapStore {
	return &MapStore{
		data: make(map[string]map[string]Record),
	}
}

// Put writes a record, overwriting any existing record with the same ID.
// CreatedAt of an existing record is preserved.
func (m *MapStore) Put(_ context.Context, namespace string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string]Record)
		m.data[namespace] = ns
	}

	if prev, ok := ns[rec.ID]; ok {
		rec.CreatedAt = prev.CreatedAt
	}

	ns[rec.ID] = rec

	return nil
}

// Get retrieves the record associated with the given ID.
func (m *MapStore) Get(_ context.Context, namespace, id string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.data[namespace][id]

	return rec, ok, nil
}

// Delete removes the record associated with the given ID.
func (m *MapStore) Delete(_ context.Context, namespace, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.data[namespace]
	if !ok {
		return false, nil
	}

	if _, ok := ns[id]; !ok {
		return false, nil
	}

	delete(ns, id)

	return true, nil
}

// List returns all records of a namespace in unspecified order.
func (m *MapStore) List(_ context.Context, namespace string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns := m.data[namespace]

	result := make([]Record, 0, len(ns))
	for _, rec := range ns {
		result = append(result, rec)
	}

	return result, nil
}

// Len returns the number of records in a namespace.
func (m *MapStore) Len(_ context.Context, namespace string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data[namespace]), nil
}
