package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cache is a bounded text->vector cache keyed by the SHA-256 of the
// normalized text. Concurrent inserts of the same key are last-writer-wins.
type Cache struct {
	store    *ristretto.Cache
	capacity int64
}

// NewCache creates a cache holding at most capacity vectors.
func NewCache(capacity int64) (*Cache, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        capacity * 10,
		MaxCost:            capacity,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cache{store: store, capacity: capacity}, nil
}

// Key returns the content hash used as cache key.
func Key(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) Get(key string) ([]float32, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

// Set stores vec and waits until it is visible to Get.
func (c *Cache) Set(key string, vec []float32) {
	c.store.Set(key, vec, 1)
	c.store.Wait()
}

// Clear drops every entry and returns how many were held.
func (c *Cache) Clear() int64 {
	n := c.Len()
	c.store.Clear()
	return n
}

func (c *Cache) Len() int64 {
	m := c.store.Metrics
	n := int64(m.KeysAdded()) - int64(m.KeysEvicted())
	if n < 0 {
		return 0
	}
	return n
}

// CacheStats is a point-in-time view of cache usage.
type CacheStats struct {
	Entries  int64  `json:"entries"`
	Capacity int64  `json:"capacity"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
}

func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Entries:  c.Len(),
		Capacity: c.capacity,
		Hits:     c.store.Metrics.Hits(),
		Misses:   c.store.Metrics.Misses(),
	}
}
