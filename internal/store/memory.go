package store

import "sync"

// NewMemory returns a Store backed by an in-memory map, for tests and
// ephemeral runs where durability is not wanted.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Memory implements Store without touching the filesystem.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// Get retrieves the record for a collection.
func (m *Memory) Get(collection string) (Record, error) {
	m.mu.RLock()
	rec, ok := m.records[collection]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Put stores the record for a collection.
func (m *Memory) Put(collection string, rec Record) error {
	m.mu.Lock()
	m.records[collection] = rec
	m.mu.Unlock()
	return nil
}

// Delete removes the record for a collection.
func (m *Memory) Delete(collection string) error {
	m.mu.Lock()
	delete(m.records, collection)
	m.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }
