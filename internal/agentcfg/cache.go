package agentcfg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clevio/clevio/internal/log"
	"github.com/clevio/clevio/internal/metrics"
)

// DefaultMemoryTTL bounds how long the memory tier serves an entry before
// falling through to the lower tiers.
const DefaultMemoryTTL = 300 * time.Second

// Store is the authoritative configuration store collaborator. It must
// return an error wrapping ErrConfigNotFound when the agent has no
// configuration, any other error meaning the store itself failed.
type Store interface {
	FetchConfig(ctx context.Context, agentID string) (Config, error)
}

type memEntry struct {
	cfg       Config
	createdAt time.Time
	ttl       time.Duration
}

func (e memEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// CacheConfig configures the Cache.
type CacheConfig struct {
	// MemoryTTL bounds memory-tier entries. Default 300s.
	MemoryTTL time.Duration

	// StrictBypass, when true, surfaces ErrConfigStoreUnavailable to the
	// caller if the store fails on a full miss. When false, a store
	// failure reads as ErrConfigNotFound: the agent needs an explicit
	// Warm call first.
	StrictBypass bool
}

// Cache is the two-tier agent configuration cache. An entry present in the
// memory tier is authoritative; the disk tier is consulted only on a
// memory-tier miss, the store only on a full miss.
//
// Cache is safe for concurrent use. Entries are replaced whole, never
// mutated in place.
type Cache struct {
	cfg     CacheConfig
	disk    *DiskTier
	store   Store
	metrics *metrics.Collector
	logger  log.Logger

	mu  sync.Mutex
	mem map[string]memEntry

	now func() time.Time
}

// NewCache creates the cache over a disk tier and an authoritative store.
// disk may be nil to run memory-only (disk-tier failures already degrade to
// that at runtime).
func NewCache(cfg CacheConfig, disk *DiskTier, store Store, collector *metrics.Collector, logger log.Logger) *Cache {
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = DefaultMemoryTTL
	}
	if collector == nil {
		collector = metrics.NewCollector(metrics.Config{})
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Cache{
		cfg:     cfg,
		disk:    disk,
		store:   store,
		metrics: collector,
		logger:  logger,
		mem:     make(map[string]memEntry),
		now:     time.Now,
	}
}

// Get returns the agent's configuration, reading memory tier, then disk
// tier, then the authoritative store, populating the tiers above on the way
// back. Disk-tier I/O failures are absorbed and logged, never surfaced.
func (c *Cache) Get(ctx context.Context, agentID string) (Config, error) {
	c.mu.Lock()
	entry, ok := c.mem[agentID]
	if ok && !entry.expired(c.now()) {
		c.mu.Unlock()
		c.metrics.CacheHit(metrics.CacheConfig)
		return entry.cfg, nil
	}
	c.mu.Unlock()
	c.metrics.CacheMiss(metrics.CacheConfig)

	if c.disk != nil {
		cfg, found, err := c.disk.Load(agentID)
		if err != nil {
			c.logger.Warn("config disk tier read failed", "agent_id", agentID, "error", err)
		} else if found {
			c.putMemory(agentID, cfg)
			return cfg, nil
		}
	}

	cfg, err := c.store.FetchConfig(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return Config{}, fmt.Errorf("agent %q: %w", agentID, ErrConfigNotFound)
		}
		if c.cfg.StrictBypass {
			return Config{}, fmt.Errorf("agent %q: %w: %w", agentID, ErrConfigStoreUnavailable, err)
		}
		c.logger.Warn("config store unreachable, agent needs warming",
			"agent_id", agentID, "error", err)
		return Config{}, fmt.Errorf("agent %q: %w", agentID, ErrConfigNotFound)
	}

	c.populate(agentID, cfg)
	return cfg, nil
}

// Put stores a configuration in both tiers with the given memory TTL
// (ttl <= 0 selects the configured default).
func (c *Cache) Put(agentID string, cfg Config, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.MemoryTTL
	}

	c.mu.Lock()
	c.mem[agentID] = memEntry{cfg: cfg, createdAt: c.now(), ttl: ttl}
	c.mu.Unlock()

	c.saveDisk(agentID, cfg)
}

// Warm forces a fetch from the authoritative store and populates both tiers.
func (c *Cache) Warm(ctx context.Context, agentID string) error {
	cfg, err := c.store.FetchConfig(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return fmt.Errorf("agent %q: %w", agentID, ErrConfigNotFound)
		}
		return fmt.Errorf("agent %q: %w: %w", agentID, ErrConfigStoreUnavailable, err)
	}

	c.populate(agentID, cfg)
	c.logger.Debug("agent config warmed", "agent_id", agentID)
	return nil
}

// WarmAll warms every listed agent, joining the failures. Agents that warm
// successfully stay cached even when others fail.
func (c *Cache) WarmAll(ctx context.Context, agentIDs []string) error {
	var errs []error
	for _, id := range agentIDs {
		if err := c.Warm(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Invalidate drops the agent's entry from both tiers. Called by the
// ingestion collaborator after configuration updates.
func (c *Cache) Invalidate(agentID string) {
	c.mu.Lock()
	delete(c.mem, agentID)
	c.mu.Unlock()

	if c.disk != nil {
		if err := c.disk.Remove(agentID); err != nil {
			c.logger.Warn("config disk tier remove failed", "agent_id", agentID, "error", err)
		}
	}
}

func (c *Cache) populate(agentID string, cfg Config) {
	c.putMemory(agentID, cfg)
	c.saveDisk(agentID, cfg)
}

func (c *Cache) putMemory(agentID string, cfg Config) {
	c.mu.Lock()
	c.mem[agentID] = memEntry{cfg: cfg, createdAt: c.now(), ttl: c.cfg.MemoryTTL}
	c.mu.Unlock()
}

func (c *Cache) saveDisk(agentID string, cfg Config) {
	if c.disk == nil {
		return
	}
	if err := c.disk.Save(agentID, cfg); err != nil {
		c.logger.Warn("config disk tier write failed", "agent_id", agentID, "error", err)
	}
}
