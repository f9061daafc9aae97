// Package analysiscache implements the Analysis Cache of spec §4.7: a
// thread-safe, bounded cache over analyzer outputs keyed by symbol, default
// 50 entries with a 5-minute per-entry TTL. Backed by
// github.com/dgraph-io/ristretto, which natively supports cost-based
// eviction and SetWithTTL — the library's indirect presence in the pack
// (via wbrown-janus-datalog's badger/v4 dependency) is used here directly,
// for the purpose it was built for, rather than hand-rolling an LRU sweep.
package analysiscache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache wraps a ristretto.Cache scoped to a fixed entry count and TTL.
type Cache struct {
	rc  *ristretto.Cache
	ttl time.Duration
}

// New builds a Cache bounded to maxEntries, each set with ttl.
func New(maxEntries int, ttl time.Duration) (*Cache, error) {
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxEntries) * 10,
		MaxCost:     int64(maxEntries),
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{rc: rc, ttl: ttl}, nil
}

// Get returns the cached value for key, or ok=false on a miss or expiry.
func (c *Cache) Get(key string) (any, bool) {
	return c.rc.Get(key)
}

// Set stores value under key with a cost of 1, evicting the
// lowest-value entry on overflow and expiring after the cache's configured
// TTL.
func (c *Cache) Set(key string, value any) {
	c.rc.SetWithTTL(key, value, 1, c.ttl)
	c.rc.Wait()
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	c.rc.Close()
}
