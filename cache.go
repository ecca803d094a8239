package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultCacheTTL is how long a fetched release is reused before the API is asked again.
const DefaultCacheTTL = 60 * time.Second

// Store is the host-provided expiring key/value storage. A ttl of zero or
// less means the value does not expire. Implementations must tolerate
// concurrent writers from other processes; the last write wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CacheKey derives the store key of a repository's cached release.
func CacheKey(prefix, owner, repo string) string {
	return prefix + "latest_release_" + owner + "_" + repo
}

// ReleaseCache binds a Store to one repository's cached release snapshot.
type ReleaseCache struct {
	store Store
	key   string
	ttl   time.Duration
}

// NewReleaseCache returns the cache of owner/repo's latest release.
func NewReleaseCache(store Store, prefix, owner, repo string, ttl time.Duration) *ReleaseCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ReleaseCache{
		store: store,
		key:   CacheKey(prefix, owner, repo),
		ttl:   ttl,
	}
}

// Key returns the store key used by the cache.
func (c *ReleaseCache) Key() string {
	return c.key
}

// Get loads the cached snapshot. ok is false when nothing usable is cached.
func (c *ReleaseCache) Get(ctx context.Context) (record ReleaseRecord, ok bool, err error) {
	data, found, err := c.store.Get(ctx, c.key)
	if err != nil || !found {
		return ReleaseRecord{}, false, err
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return ReleaseRecord{}, false, fmt.Errorf("failed to decode cached release %s: %w", c.key, err)
	}
	return record, record.Available(), nil
}

// Set stores a snapshot of record for the cache TTL.
func (c *ReleaseCache) Set(ctx context.Context, record ReleaseRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode release: %w", err)
	}
	return c.store.Set(ctx, c.key, data, c.ttl)
}

// Delete invalidates the cached snapshot.
func (c *ReleaseCache) Delete(ctx context.Context) error {
	return c.store.Delete(ctx, c.key)
}
