package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryBackend keeps entries in process memory. Useful for single instance
// deployments and tests.
type memoryBackend struct {
	store *gocache.Cache
}

func newMemoryBackend(ttl time.Duration) *memoryBackend {
	return &memoryBackend{store: gocache.New(ttl, 2*ttl)}
}

func (m *memoryBackend) get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (m *memoryBackend) set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	m.store.Set(key, buf, ttl)
	return nil
}

func (m *memoryBackend) delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

func (m *memoryBackend) exists(_ context.Context, key string) (bool, error) {
	_, ok := m.store.Get(key)
	return ok, nil
}

func (m *memoryBackend) flushAll(_ context.Context) error {
	m.store.Flush()
	return nil
}
