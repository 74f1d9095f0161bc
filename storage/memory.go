package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/ruteri/tee-contract-enclave/interfaces"
)

// MemoryBackend keeps state in process memory. Useful for tests and
// single-shot local runs.
type MemoryBackend struct {
	name string

	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryBackend(name string) *MemoryBackend {
	if name == "" {
		name = "default"
	}
	return &MemoryBackend{
		name:    name,
		entries: make(map[string][]byte),
	}
}

func (b *MemoryBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.entries[string(key)]
	if !ok {
		return nil, interfaces.ErrKeyNotFound
	}
	return bytes.Clone(value), nil
}

func (b *MemoryBackend) Set(ctx context.Context, key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[string(key)] = bytes.Clone(value)
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, string(key))
	return nil
}

// Len reports the number of stored entries.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

func (b *MemoryBackend) Name() string {
	return fmt.Sprintf("memory-%s", b.name)
}

func (b *MemoryBackend) LocationURI() string {
	return fmt.Sprintf("memory://%s", b.name)
}

func (b *MemoryBackend) Close() error {
	return nil
}
