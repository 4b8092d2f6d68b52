package search

import (
	"sync"
	"time"
)

// QueryCache is a bounded LRU cache of query embeddings, keyed by the
// normalized query text. It saves a provider round-trip for repeated
// queries.
type QueryCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	order    []string
	capacity int
}

type cacheEntry struct {
	vector   []float32
	hitCount int64
	lastUsed time.Time
}

// CacheEntryInfo is a read-only snapshot of one cache entry.
type CacheEntryInfo struct {
	Query    string
	HitCount int64
	LastUsed time.Time
}

// NewQueryCache creates a cache holding at most capacity entries
// (default 100).
func NewQueryCache(capacity int) *QueryCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &QueryCache{
		entries:  make(map[string]*cacheEntry),
		order:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Get returns the cached embedding for query, if present. A hit bumps the
// entry's hit count and recency.
func (c *QueryCache) Get(query string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[query]
	if !ok {
		return nil, false
	}
	entry.hitCount++
	entry.lastUsed = time.Now()
	c.moveToEnd(query)
	return entry.vector, true
}

// Put stores an embedding for query, evicting the least recently used entry
// when the cache is full. A fresh entry starts with a hit count of one.
func (c *QueryCache) Put(query string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[query]; ok {
		entry.vector = vec
		entry.lastUsed = time.Now()
		c.moveToEnd(query)
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	c.entries[query] = &cacheEntry{
		vector:   vec,
		hitCount: 1,
		lastUsed: time.Now(),
	}
	c.order = append(c.order, query)
}

// Len returns the number of cached queries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a snapshot of all entries, most recently used last.
func (c *QueryCache) Entries() []CacheEntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]CacheEntryInfo, 0, len(c.order))
	for _, q := range c.order {
		e := c.entries[q]
		out = append(out, CacheEntryInfo{Query: q, HitCount: e.hitCount, LastUsed: e.lastUsed})
	}
	return out
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(query string) {
	for i, q := range c.order {
		if q == query {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, query)
}
