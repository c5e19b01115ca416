package schema

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is a bounded, time-expiring descriptor cache in front of the
// registry. Entries are keyed by (subject, version|"latest"), expire after
// a fixed TTL, and the least-recently-used entry is evicted when the cache
// is full. Concurrent misses for the same key coalesce into a single
// registry fetch.
type Cache struct {
	registry   Registry
	ttl        time.Duration
	maxEntries int
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used

	fetchGroup singleflight.Group

	hits   int64
	misses int64
}

type cacheEntry struct {
	key        string
	descriptor *Descriptor
	fetchedAt  time.Time
}

// CacheOption configures the cache.
type CacheOption func(*Cache)

// WithTTL sets the entry time-to-live.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithMaxEntries sets the entry cap.
func WithMaxEntries(n int) CacheOption {
	return func(c *Cache) {
		c.maxEntries = n
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// NewCache creates a descriptor cache backed by the given registry.
func NewCache(registry Registry, options ...CacheOption) *Cache {
	c := &Cache{
		registry:   registry,
		ttl:        30 * time.Minute,
		maxEntries: 1000,
		logger:     slog.Default(),
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Get returns the descriptor for (subject, version), fetching from the
// registry on miss or expiry. version may be VersionLatest. All readers
// within the TTL window observe the same descriptor instance.
func (c *Cache) Get(ctx context.Context, subject, version string) (*Descriptor, error) {
	if version == "" {
		version = VersionLatest
	}
	key := subject + ":" + version

	if descriptor, ok := c.lookup(key); ok {
		return descriptor, nil
	}

	// Coalesce concurrent misses into one outstanding fetch per key.
	result, err, _ := c.fetchGroup.Do(key, func() (interface{}, error) {
		if descriptor, ok := c.lookup(key); ok {
			return descriptor, nil
		}

		descriptor, err := c.fetch(ctx, subject, version)
		if err != nil {
			return nil, err
		}
		c.install(key, descriptor)
		return descriptor, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*Descriptor), nil
}

// Invalidate drops a cached descriptor so the next Get refetches.
func (c *Cache) Invalidate(subject, version string) {
	if version == "" {
		version = VersionLatest
	}
	key := subject + ":" + version

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.Remove(elem)
		delete(c.entries, key)
	}
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// Stats returns current cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

// lookup returns a fresh entry and promotes it in LRU order.
func (c *Cache) lookup(key string) (*Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if time.Since(entry.fetchedAt) > c.ttl {
		c.lru.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	c.lru.MoveToFront(elem)
	c.hits++
	return entry.descriptor, true
}

// install replaces the entry wholesale and evicts the LRU entry when full.
func (c *Cache) install(key string, descriptor *Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = &cacheEntry{key: key, descriptor: descriptor, fetchedAt: time.Now()}
		c.lru.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*cacheEntry)
		c.lru.Remove(oldest)
		delete(c.entries, evicted.key)
		c.logger.Debug("evicted schema descriptor", "key", evicted.key)
	}

	c.entries[key] = c.lru.PushFront(&cacheEntry{
		key:        key,
		descriptor: descriptor,
		fetchedAt:  time.Now(),
	})
}

func (c *Cache) fetch(ctx context.Context, subject, version string) (*Descriptor, error) {
	if version == VersionLatest {
		return c.registry.FetchLatest(ctx, subject)
	}

	v, err := parseVersion(version)
	if err != nil {
		return nil, err
	}
	return c.registry.FetchVersion(ctx, subject, v)
}
