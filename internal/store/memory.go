package store

import "context"

type memoryStore struct {
	data map[string]string
}

// NewMemory returns an in-memory Store for tests and for runs that do
// not need persistence across a simulated reboot.
func NewMemory() Store {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Init(ctx context.Context) error { return nil }

func (m *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryStore) Put(_ context.Context, key, value string) error {
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }
