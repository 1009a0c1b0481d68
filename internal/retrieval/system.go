package retrieval

import (
	"context"

	"github.com/clevio/clevio/internal/agentcfg"
	"github.com/clevio/clevio/internal/log"
	"github.com/clevio/clevio/internal/metrics"
)

// System is the subsystem facade handed to the serving layer. It bundles the
// retrieval engine, the agent configuration cache and the metrics collector
// behind one surface so callers depend on a single type.
type System struct {
	engine  *Engine
	pool    *Pool
	configs *agentcfg.Cache
	metrics *metrics.Collector
	logger  log.Logger
}

// NewSystem assembles the facade from its already-wired collaborators.
func NewSystem(engine *Engine, pool *Pool, configs *agentcfg.Cache, collector *metrics.Collector, logger log.Logger) *System {
	if collector == nil {
		collector = metrics.NewCollector(metrics.Config{})
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &System{
		engine:  engine,
		pool:    pool,
		configs: configs,
		metrics: collector,
		logger:  logger,
	}
}

// Retrieve runs the retrieval pipeline for query against the collection.
func (s *System) Retrieve(ctx context.Context, col CollectionKey, query string, opts ...SearchOption) ([]Passage, error) {
	return s.engine.Retrieve(ctx, col, query, opts...)
}

// GetConfig returns the agent's run configuration through the cache tiers.
func (s *System) GetConfig(ctx context.Context, agentID string) (agentcfg.Config, error) {
	return s.configs.Get(ctx, agentID)
}

// WarmConfig fetches the agent's configuration from the authoritative store
// and populates both cache tiers.
func (s *System) WarmConfig(ctx context.Context, agentID string) error {
	return s.configs.Warm(ctx, agentID)
}

// WarmAllConfigs warms every listed agent, joining individual failures.
func (s *System) WarmAllConfigs(ctx context.Context, agentIDs []string) error {
	return s.configs.WarmAll(ctx, agentIDs)
}

// InvalidateCollection flushes cached query results for the collection and
// marks its index for rebuild. Called after passage ingestion or deletion.
func (s *System) InvalidateCollection(col CollectionKey) {
	s.engine.InvalidateCollection(col)
	s.logger.Debug("collection invalidated", "collection", col.Table())
}

// InvalidateConfig drops the agent's configuration from both cache tiers.
func (s *System) InvalidateConfig(agentID string) {
	s.configs.Invalidate(agentID)
	s.logger.Debug("agent config invalidated", "agent_id", agentID)
}

// Metrics returns the caller-facing metrics snapshot. Pool utilization is
// read live rather than from the last query's sample.
func (s *System) Metrics() metrics.Snapshot {
	s.metrics.SetPoolUtilization(s.pool.Utilization())
	return s.metrics.Snapshot()
}

// ResetMetrics zeroes the resettable counters.
func (s *System) ResetMetrics() {
	s.metrics.Reset()
}
