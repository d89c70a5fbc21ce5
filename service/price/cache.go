package price

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedOracle wraps an Oracle with a TTL cache. Concurrent misses for the
// same symbol are collapsed into a single upstream fetch, which keeps the
// engine polite toward rate-limited quote APIs when many sessions match at
// once.
type CachedOracle struct {
	inner Oracle
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group

	// now is replaceable in tests.
	now func() time.Time
}

type cacheEntry struct {
	price     float64
	fetchedAt time.Time
}

// NewCachedOracle wraps inner with a TTL cache. A non-positive ttl disables
// caching entirely.
func NewCachedOracle(inner Oracle, ttl time.Duration) *CachedOracle {
	return &CachedOracle{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// GetPrice returns a cached price if fresh, otherwise fetches from the inner
// oracle. Fetch errors are not cached.
func (c *CachedOracle) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if c.ttl <= 0 {
		return c.inner.GetPrice(ctx, symbol)
	}

	key := strings.ToLower(symbol)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.price, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: another caller may have refreshed the
		// entry while we waited for the group slot.
		c.mu.RLock()
		entry, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
			return entry.price, nil
		}

		price, err := c.inner.GetPrice(ctx, symbol)
		if err != nil {
			return 0.0, err
		}

		c.mu.Lock()
		c.entries[key] = cacheEntry{price: price, fetchedAt: c.now()}
		c.mu.Unlock()
		return price, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}
