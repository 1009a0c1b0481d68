package retrieval

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/clevio/clevio/internal/log"
	"github.com/clevio/clevio/internal/metrics"
)

// Embedder is the external embedding provider collaborator. Implementations
// must be safe for concurrent use.
type Embedder interface {
	// Embed returns the fixed-length vector for text under the given model.
	Embed(ctx context.Context, text, modelID string) ([]float32, error)
}

// DefaultEmbedCacheCapacity bounds the embedding cache when no capacity is
// configured.
const DefaultEmbedCacheCapacity = 1024

type embedEntry struct {
	key        string
	vector     []float32
	createdAt  time.Time
	lastAccess time.Time
}

// EmbedCache memoizes text→vector computations, avoiding redundant calls to
// the embedding provider. Entries never mutate; eviction is LRU under a fixed
// capacity. Concurrent misses for the same key share one provider call:
// later callers await the first call's result instead of issuing their own.
type EmbedCache struct {
	embedder Embedder
	capacity int
	metrics  *metrics.Collector
	logger   log.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	lruList *list.List

	flight singleflight.Group
}

// NewEmbedCache creates an embedding cache in front of the given provider.
// capacity <= 0 selects DefaultEmbedCacheCapacity.
func NewEmbedCache(embedder Embedder, capacity int, collector *metrics.Collector, logger log.Logger) *EmbedCache {
	if capacity <= 0 {
		capacity = DefaultEmbedCacheCapacity
	}
	if collector == nil {
		collector = metrics.NewCollector(metrics.Config{})
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &EmbedCache{
		embedder: embedder,
		capacity: capacity,
		metrics:  collector,
		logger:   logger,
		entries:  make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Resolve returns the vector for (text, modelID), computing it through the
// provider on a miss. Provider failures propagate to every waiter of the
// in-flight key and are never cached.
func (c *EmbedCache) Resolve(ctx context.Context, text, modelID string) ([]float32, error) {
	key := embedKey(modelID, text)

	if vec, ok := c.lookup(key); ok {
		c.metrics.CacheHit(metrics.CacheEmbedding)
		return vec, nil
	}
	c.metrics.CacheMiss(metrics.CacheEmbedding)

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// A concurrent winner may have populated the entry between our
		// lookup and joining the flight.
		if vec, ok := c.lookup(key); ok {
			return vec, nil
		}

		c.metrics.EmbedProviderCall()
		vec, embedErr := c.embedder.Embed(ctx, text, modelID)
		if embedErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, embedErr)
		}
		if len(vec) == 0 {
			return nil, fmt.Errorf("%w: provider returned empty vector", ErrEmbeddingFailure)
		}

		c.store(key, vec)
		c.logger.Debug("embedding computed", "model", modelID, "dims", len(vec))
		return vec, nil
	})
	if err != nil {
		return nil, err
	}

	vec, ok := v.([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected flight result type", ErrEmbeddingFailure)
	}
	return vec, nil
}

// Len returns the current number of cached vectors.
func (c *EmbedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

func (c *EmbedCache) lookup(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*embedEntry)
	entry.lastAccess = time.Now()
	c.lruList.MoveToFront(elem)
	return entry.vector, true
}

func (c *EmbedCache) store(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if elem, ok := c.entries[key]; ok {
		// Whole-entry replace, never partial mutation.
		elem.Value = &embedEntry{key: key, vector: vec, createdAt: now, lastAccess: now}
		c.lruList.MoveToFront(elem)
		return
	}

	elem := c.lruList.PushFront(&embedEntry{key: key, vector: vec, createdAt: now, lastAccess: now})
	c.entries[key] = elem

	for c.lruList.Len() > c.capacity {
		back := c.lruList.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*embedEntry)
		delete(c.entries, evicted.key)
		c.lruList.Remove(back)
	}
}

// embedKey hashes (model id, normalized text) into a stable cache key.
func embedKey(modelID, text string) string {
	h := sha256.New()
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(normalizeQuery(text)))
	return hex.EncodeToString(h.Sum(nil))
}
