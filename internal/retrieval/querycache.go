package retrieval

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clevio/clevio/internal/log"
	"github.com/clevio/clevio/internal/metrics"
)

// DefaultQueryCacheCapacity bounds the query result cache when no capacity
// is configured.
const DefaultQueryCacheCapacity = 1000

type queryEntry struct {
	key       string
	passages  []Passage
	createdAt time.Time
	ttl       time.Duration
}

func (e *queryEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// QueryCache memoizes final ranked-passage results under an exact key derived
// from (collection, normalized query, filter, topK, floor). Expiry is lazy:
// Get checks the stored timestamp against the TTL at read time; expired
// entries are treated as absent and overwritten on the next Put. LRU eviction
// under capacity runs independently of TTL.
//
// This is an exact-key cache, not a similarity cache: no fuzzy matching.
type QueryCache struct {
	capacity int
	metrics  *metrics.Collector
	logger   log.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	lruList *list.List

	now func() time.Time // injectable clock for TTL tests
}

// NewQueryCache creates a query result cache. capacity <= 0 selects
// DefaultQueryCacheCapacity.
func NewQueryCache(capacity int, collector *metrics.Collector, logger log.Logger) *QueryCache {
	if capacity <= 0 {
		capacity = DefaultQueryCacheCapacity
	}
	if collector == nil {
		collector = metrics.NewCollector(metrics.Config{})
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &QueryCache{
		capacity: capacity,
		metrics:  collector,
		logger:   logger,
		entries:  make(map[string]*list.Element),
		lruList:  list.New(),
		now:      time.Now,
	}
}

// Get returns the cached result for key, or ok=false on a miss. An entry past
// its TTL is a miss even though it has not been evicted. The returned slice
// is the caller's to keep; mutating it does not touch the cached entry.
func (c *QueryCache) Get(key string) ([]Passage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.metrics.CacheMiss(metrics.CacheQuery)
		return nil, false
	}

	entry := elem.Value.(*queryEntry)
	if entry.expired(c.now()) {
		// Lazy expiry: left in place, replaced by the next Put.
		c.metrics.CacheMiss(metrics.CacheQuery)
		return nil, false
	}

	c.lruList.MoveToFront(elem)
	c.metrics.CacheHit(metrics.CacheQuery)

	out := make([]Passage, len(entry.passages))
	copy(out, entry.passages)
	return out, true
}

// Put stores a result under key with the given TTL, replacing any existing
// entry whole and evicting the least-recently-used entry over capacity.
func (c *QueryCache) Put(key string, passages []Passage, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &queryEntry{key: key, passages: passages, createdAt: c.now(), ttl: ttl}

	if elem, ok := c.entries[key]; ok {
		elem.Value = entry
		c.lruList.MoveToFront(elem)
		return
	}

	c.entries[key] = c.lruList.PushFront(entry)

	for c.lruList.Len() > c.capacity {
		back := c.lruList.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*queryEntry)
		delete(c.entries, evicted.key)
		c.lruList.Remove(back)
	}
}

// InvalidateCollection drops every cached result for the collection. Wired to
// the ingestion collaborator's invalidation signal so passage mutations are
// bounded by TTL or flushed explicitly.
func (c *QueryCache) InvalidateCollection(col CollectionKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := col.Table() + ":"
	removed := 0
	for key, elem := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			c.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("query cache invalidated", "collection", col.Table(), "removed", removed)
	}
	return removed
}

// Len returns the current number of cached results, expired entries included.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// queryCacheKey derives the deterministic cache key for a retrieval request.
// The collection table prefixes the hash so per-collection invalidation can
// match on it.
func queryCacheKey(col CollectionKey, normalizedQuery string, filter map[string]string, topK int, floor float32) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%.6f\x00", col.Table(), normalizedQuery, topK, floor)

	if len(filter) > 0 {
		keys := make([]string, 0, len(filter))
		for k := range filter {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=%s\x00", k, filter[k])
		}
	}

	return col.Table() + ":" + hex.EncodeToString(h.Sum(nil))
}
