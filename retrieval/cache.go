package retrieval

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CacheTTL is how long a cached Result is served; once it has elapsed the
// entry is treated as a miss (spec §4.5 names a 60s window).
const CacheTTL = 60 * time.Second

type cacheEntry struct {
	result    Result
	cachedAt  time.Time
}

// Cache is a short-TTL cache for retrieval Results, keyed by CacheKey. It
// does not serve stale entries: an entry older than CacheTTL is a miss, and
// Client.Search then refreshes it synchronously before returning. No
// background revalidation runs. singleflight collapses concurrent misses for
// the same key into one backend fan-out.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached Result for key if present and not yet expired.
func (c *Cache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.cachedAt) > CacheTTL {
		return Result{}, false
	}
	return e.result, true
}

// Set stores res under key with the current time as its cache timestamp.
func (c *Cache) Set(key string, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: res, cachedAt: time.Now()}
}

// Do collapses concurrent calls sharing key into a single invocation of fn,
// fanning the result out to every waiter.
func (c *Cache) Do(key string, fn func() (Result, error)) (Result, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}
