package alert

import (
	"context"
	"sync"

	"github.com/oicur0t/tradealert/internal/kvstore"
)

type memKV struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{values: make(map[string][]byte)}
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, kvstore.ErrNotFound
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memKV) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memKV) Close(context.Context) error { return nil }
