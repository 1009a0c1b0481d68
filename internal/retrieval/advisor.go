package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/clevio/clevio/internal/log"
	"github.com/clevio/clevio/internal/metrics"
)

// Advisor defaults. The dimension ceiling matches pgvector's HNSW limit for
// the raw vector type; the halfvec cast extends approximate indexing to 4000
// dimensions, which covers text-embedding-3-large at 3072.
const (
	DefaultDimensionCeiling   = 2000
	DefaultHalfvecCeiling     = 4000
	DefaultRebuildGrowthRatio = 2.0
	DefaultRowCheckInterval   = time.Minute
)

// AdvisorConfig configures the index Advisor.
type AdvisorConfig struct {
	// DimensionCeiling is the largest dimensionality indexed over the raw
	// vector column. Default 2000.
	DimensionCeiling int

	// HalfvecCeiling is the largest dimensionality indexed via a halfvec
	// cast. Collections above it fall back to exact scan. Default 4000.
	HalfvecCeiling int

	// RebuildGrowthRatio triggers a rebuild once the live row count reaches
	// this multiple of the count at the last build. Default 2.0 (doubling).
	RebuildGrowthRatio float64

	// RowCheckInterval rate-limits the row-count estimation issued to detect
	// growth. Default one minute.
	RowCheckInterval time.Duration
}

func (c *AdvisorConfig) applyDefaults() {
	if c.DimensionCeiling <= 0 {
		c.DimensionCeiling = DefaultDimensionCeiling
	}
	if c.HalfvecCeiling <= 0 {
		c.HalfvecCeiling = DefaultHalfvecCeiling
	}
	if c.RebuildGrowthRatio <= 1 {
		c.RebuildGrowthRatio = DefaultRebuildGrowthRatio
	}
	if c.RowCheckInterval <= 0 {
		c.RowCheckInterval = DefaultRowCheckInterval
	}
}

type advisorState struct {
	desc      IndexDescriptor
	lastCheck time.Time
	stale     bool // explicit invalidation pending
}

// Advisor chooses and lazily provisions the similarity index per collection.
// A descriptor is created on first query, persists for the process lifetime,
// and is rebuilt when the row count has grown past the configured ratio or an
// explicit invalidation arrives from the ingestion collaborator.
//
// Index builds are best-effort: a failed build leaves the collection usable
// via exact scan and is logged, never fatal.
type Advisor struct {
	pool    *Pool
	cfg     AdvisorConfig
	metrics *metrics.Collector
	logger  log.Logger

	mu     sync.Mutex
	states map[string]*advisorState // keyed by table name

	flight singleflight.Group
	now    func() time.Time
}

// NewAdvisor creates an index Advisor drawing connections from pool.
func NewAdvisor(pool *Pool, cfg AdvisorConfig, collector *metrics.Collector, logger log.Logger) *Advisor {
	cfg.applyDefaults()
	if collector == nil {
		collector = metrics.NewCollector(metrics.Config{})
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Advisor{
		pool:    pool,
		cfg:     cfg,
		metrics: collector,
		logger:  logger,
		states:  make(map[string]*advisorState),
		now:     time.Now,
	}
}

// Descriptor returns the index descriptor for the collection, provisioning it
// on first use and rebuilding when growth or invalidation demands it.
// Concurrent calls for the same unprovisioned collection resolve to exactly
// one provisioning pass.
func (a *Advisor) Descriptor(ctx context.Context, col CollectionKey, dims int) (IndexDescriptor, error) {
	table := col.Table()

	a.mu.Lock()
	state, ok := a.states[table]
	if ok && !state.stale && a.now().Sub(state.lastCheck) < a.cfg.RowCheckInterval {
		desc := state.desc
		a.mu.Unlock()
		return desc, nil
	}
	a.mu.Unlock()

	v, err, _ := a.flight.Do(table, func() (any, error) {
		return a.provision(ctx, col, dims)
	})
	if err != nil {
		return IndexDescriptor{}, err
	}
	return v.(IndexDescriptor), nil
}

// Invalidate marks the collection's descriptor stale so the next query
// rebuilds the index. Called by the ingestion collaborator after bulk loads.
func (a *Advisor) Invalidate(col CollectionKey) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if state, ok := a.states[col.Table()]; ok {
		state.stale = true
	}
}

// provision creates or refreshes the descriptor for one collection. Runs
// under single-flight per table.
func (a *Advisor) provision(ctx context.Context, col CollectionKey, dims int) (IndexDescriptor, error) {
	table := col.Table()

	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return IndexDescriptor{}, fmt.Errorf("acquiring connection for index advisor: %w", err)
	}
	var opErr error
	defer func() { a.pool.Release(conn, opErr) }()

	if err := conn.EnsureCollection(ctx, table, dims); err != nil {
		opErr = err
		return IndexDescriptor{}, fmt.Errorf("ensuring collection %q: %w", table, err)
	}

	rows, err := conn.EstimateRows(ctx, table)
	if err != nil {
		// Estimation failure degrades to "unknown growth"; keep serving.
		a.logger.Warn("row estimation failed", "collection", table, "error", err)
		rows = -1
	}

	a.mu.Lock()
	state, exists := a.states[table]
	rebuild := exists && state.stale
	if exists && !rebuild && rows >= 0 && state.desc.RowsAtBuild > 0 {
		if float64(rows) >= float64(state.desc.RowsAtBuild)*a.cfg.RebuildGrowthRatio {
			rebuild = true
		}
	}
	a.mu.Unlock()

	needsBuild := !exists || rebuild
	kind := a.chooseKind(dims)

	if needsBuild && kind != IndexExact {
		// First build uses the existence-checked DDL; a rebuild must reach
		// the index structure itself, so it goes through the drop-and-create
		// path instead.
		var buildErr error
		if rebuild {
			buildErr = conn.RebuildVectorIndex(ctx, table, kind, dims)
		} else {
			buildErr = conn.CreateVectorIndex(ctx, table, kind, dims)
		}
		if buildErr != nil {
			a.metrics.IndexBuild(false)
			a.logger.Warn("index build failed, falling back to exact scan",
				"collection", table,
				"kind", kind.String(),
				"rebuild", rebuild,
				"error", fmt.Errorf("%w: %w", ErrIndexBuildFailure, buildErr))
			kind = IndexExact
		} else {
			a.metrics.IndexBuild(true)
		}
	}

	desc := IndexDescriptor{
		Collection:  col,
		Kind:        kind,
		Dimensions:  dims,
		RowsAtBuild: rows,
		BuiltAt:     a.now(),
	}

	a.mu.Lock()
	if !needsBuild && exists {
		// Growth below threshold: keep the existing build record.
		desc = state.desc
	}
	a.states[table] = &advisorState{desc: desc, lastCheck: a.now()}
	a.mu.Unlock()

	a.logger.Debug("index descriptor resolved",
		"collection", table,
		"kind", desc.Kind.String(),
		"dims", dims,
		"rows", rows)

	return desc, nil
}

// chooseKind maps vector dimensionality onto an index family: HNSW below the
// ceiling, HNSW over a halfvec cast up to the halfvec ceiling, exact scan
// beyond that.
func (a *Advisor) chooseKind(dims int) IndexKind {
	switch {
	case dims <= 0:
		return IndexExact
	case dims <= a.cfg.DimensionCeiling:
		return IndexHNSW
	case dims <= a.cfg.HalfvecCeiling:
		return IndexHalfvecHNSW
	default:
		return IndexExact
	}
}
