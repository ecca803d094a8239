// Package store provides expiring key/value backends for the updater's
// release cache, credential and credential error.
package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultCleanupInterval is how often expired in-memory entries are purged.
const DefaultCleanupInterval = 10 * time.Minute

// Memory is a process-local store backed by go-cache.
type Memory struct {
	c *cache.Cache
}

// NewMemory returns an empty in-memory store.
func NewMemory(cleanupInterval time.Duration) *Memory {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &Memory{c: cache.New(cache.NoExpiration, cleanupInterval)}
}

// Get returns a copy of the value stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	data := v.([]byte)
	return append([]byte(nil), data...), true, nil
}

// Set stores value under key; ttl <= 0 never expires.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	m.c.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Len reports the number of entries, including expired ones not yet purged.
func (m *Memory) Len() int {
	return m.c.ItemCount()
}
