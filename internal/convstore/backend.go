package convstore

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned by Backend.Get when the key is absent
	ErrNotFound = errors.New("key not found")
	// ErrQuotaExceeded is returned by Backend.Set when the backend is out of space
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrUnavailable is returned when a backend refuses all access
	ErrUnavailable = errors.New("storage unavailable")
)

// Backend is one storage tier. Backends are tried in priority order by the Store.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// MemoryBackend keeps values in process memory. It is the last resort tier.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryBackend creates an empty MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

func (m *MemoryBackend) Name() string {
	return "memory"
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryBackend) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}
