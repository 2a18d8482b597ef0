package store

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of blobs a CachedStore keeps by default
const DefaultCacheSize = 16

// CachedStore keeps recently used blobs of another store in memory
type CachedStore struct {
	Store
	cache *lru.Cache[string, []byte]
}

// NewCachedStore wraps s with an LRU cache of size blobs
func NewCachedStore(s Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: s, cache: cache}, nil
}

// Put writes through to the underlying store
func (c *CachedStore) Put(ctx context.Context, id string, data []byte) error {
	if err := c.Store.Put(ctx, id, data); err != nil {
		c.cache.Remove(id)
		return err
	}
	c.cache.Add(id, append([]byte(nil), data...))
	return nil
}

// Get serves from the cache when it can. The returned slice is a copy.
func (c *CachedStore) Get(ctx context.Context, id string) ([]byte, error) {
	if data, ok := c.cache.Get(id); ok {
		return append([]byte(nil), data...), nil
	}
	data, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, append([]byte(nil), data...))
	return data, nil
}

// Delete removes id from the cache and the underlying store
func (c *CachedStore) Delete(ctx context.Context, id string) error {
	c.cache.Remove(id)
	return c.Store.Delete(ctx, id)
}

// Cached returns the number of blobs held in memory
func (c *CachedStore) Cached() int {
	return c.cache.Len()
}
