package testsupport

import (
	"context"
	"os"
	"sync"

	"restorebench/internal/blob"
	"restorebench/internal/services"
)

// MemoryBackend is a remote-looking blob.Backend that records object sizes.
// Keys listed in Drop are silently discarded on Put.
type MemoryBackend struct {
	Drop map[string]bool

	mu      sync.Mutex
	objects map[string]int64
}

// NewMemoryBackend returns an empty backend that drops the given keys.
func NewMemoryBackend(drop ...string) *MemoryBackend {
	b := &MemoryBackend{Drop: map[string]bool{}, objects: map[string]int64{}}
	for _, key := range drop {
		b.Drop[key] = true
	}
	return b
}

func (b *MemoryBackend) Driver() string { return "memory" }

func (b *MemoryBackend) Stat(_ context.Context, key string) (blob.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	size, ok := b.objects[key]
	if !ok {
		return blob.Info{}, services.Wrap(services.ErrNotFound, "storage", "stat", key, nil)
	}
	return blob.Info{Key: key, Size: size}, nil
}

func (b *MemoryBackend) Put(_ context.Context, key, src string) error {
	info, err := os.Stat(src)
	if err != nil {
		return services.Wrap(services.ErrStorage, "storage", "put", key, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Drop[key] {
		return nil
	}
	b.objects[key] = info.Size()
	return nil
}

// Keys returns the number of stored objects.
func (b *MemoryBackend) Keys() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}
