package cache

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryBackend is an in-process LRU with a single expiry applied to every
// entry. It serves single-node deployments and tests.
type MemoryBackend struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryBackend creates an LRU bounded to size entries, each living ttl.
func NewMemoryBackend(size int, ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, ok := b.lru.Get(key)
	return val, ok, nil
}

// Set ignores ttl; the LRU expiry configured at construction applies.
func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	b.lru.Add(key, value)
	return nil
}

func (b *MemoryBackend) DeletePrefix(_ context.Context, prefix string) ([]string, error) {
	var cleared []string
	for _, key := range b.lru.Keys() {
		if strings.HasPrefix(key, prefix) && b.lru.Remove(key) {
			cleared = append(cleared, key)
		}
	}
	sort.Strings(cleared)
	return cleared, nil
}

func (b *MemoryBackend) Close() error {
	b.lru.Purge()
	return nil
}

// Len reports the number of live entries.
func (b *MemoryBackend) Len() int { return b.lru.Len() }
