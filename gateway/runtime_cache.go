package gateway

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/donantes/edge/logger"
)

// DefaultRuntimeTTL is how long a mirrored API response stays usable.
const DefaultRuntimeTTL = 5 * time.Minute

// RuntimeCache holds short-lived mirrors of network-first JSON responses.
// Entries expire on a fixed TTL, not LRU pressure. At the TTL boundary
// deletion wins: a read at or past the deadline is a miss even if the
// eviction itself has not run yet.
type RuntimeCache struct {
	cache  *ristretto.Cache[string, *CachedResponse]
	ttl    time.Duration
	logger logger.Logger
}

// RuntimeCacheConfig configures the runtime cache.
type RuntimeCacheConfig struct {
	// TTL per entry; DefaultRuntimeTTL when zero.
	TTL time.Duration

	// MaxCost is the cache budget in bytes, roughly.
	MaxCost int64

	// NumCounters is the number of keys to track frequency.
	NumCounters int64
}

// DefaultRuntimeCacheConfig returns production defaults.
func DefaultRuntimeCacheConfig() RuntimeCacheConfig {
	return RuntimeCacheConfig{
		TTL:         DefaultRuntimeTTL,
		MaxCost:     64 << 20, // 64 MB
		NumCounters: 1e6,
	}
}

// NewRuntimeCache builds the TTL cache.
func NewRuntimeCache(conf RuntimeCacheConfig, log logger.Logger) (*RuntimeCache, error) {
	if conf.TTL <= 0 {
		conf.TTL = DefaultRuntimeTTL
	}
	if conf.MaxCost <= 0 {
		conf.MaxCost = DefaultRuntimeCacheConfig().MaxCost
	}
	if conf.NumCounters <= 0 {
		conf.NumCounters = DefaultRuntimeCacheConfig().NumCounters
	}

	rc := &RuntimeCache{
		ttl:    conf.TTL,
		logger: log,
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *CachedResponse]{
		NumCounters: conf.NumCounters,
		MaxCost:     conf.MaxCost,
		BufferItems: 64,
		Metrics:     true,
		OnEvict:     rc.onEvict,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize runtime cache: %w", err)
	}
	rc.cache = cache

	return rc, nil
}

func (rc *RuntimeCache) onEvict(item *ristretto.Item[*CachedResponse]) {
	rc.logger.Trace("runtime cache entry evicted")
}

// Put mirrors a response under the request key.
func (rc *RuntimeCache) Put(key string, resp *CachedResponse) {
	cost := int64(len(resp.Body)) + 256
	rc.cache.SetWithTTL(key, resp, cost, rc.ttl)
	rc.cache.Wait()
}

// Get returns the mirrored response, or nil past the TTL deadline.
func (rc *RuntimeCache) Get(key string) *CachedResponse {
	resp, found := rc.cache.Get(key)
	if !found {
		return nil
	}
	if time.Since(resp.StoredAt) >= rc.ttl {
		rc.cache.Del(key)
		return nil
	}
	return resp
}

// Stats reports hit/miss counters for introspection.
func (rc *RuntimeCache) Stats() (hits, misses uint64) {
	return rc.cache.Metrics.Hits(), rc.cache.Metrics.Misses()
}

// Close releases the cache.
func (rc *RuntimeCache) Close() {
	rc.cache.Close()
}
