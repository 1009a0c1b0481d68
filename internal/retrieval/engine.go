package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clevio/clevio/internal/log"
	"github.com/clevio/clevio/internal/metrics"
)

// Engine defaults. The primary embedding model follows the knowledge tables
// provisioned at 3072 dimensions; the alternate covers legacy 1536-dim
// collections.
const (
	DefaultEmbeddingModel    = "text-embedding-3-large"
	DefaultAltEmbeddingModel = "text-embedding-3-small"
	DefaultTopK              = 5
	DefaultTimeBudget        = 10 * time.Second
	DefaultResultTTL         = time.Minute
)

// EngineConfig configures the retrieval Engine.
type EngineConfig struct {
	// ModelID is the embedding model used for query vectors.
	ModelID string

	// AltModelID is tried once when the store reports a vector dimension
	// mismatch against the collection column. Empty disables the retry.
	AltModelID string

	// DefaultTopK applies when a caller passes no WithTopK option.
	DefaultTopK int

	// DefaultTimeBudget bounds the store query when no WithTimeBudget
	// option is given.
	DefaultTimeBudget time.Duration

	// ResultTTL is the query-result cache TTL. It bounds staleness after
	// passage mutations that bypass explicit invalidation.
	ResultTTL time.Duration
}

func (c *EngineConfig) applyDefaults() {
	if c.ModelID == "" {
		c.ModelID = DefaultEmbeddingModel
		if c.AltModelID == "" {
			c.AltModelID = DefaultAltEmbeddingModel
		}
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = DefaultTopK
	}
	if c.DefaultTimeBudget <= 0 {
		c.DefaultTimeBudget = DefaultTimeBudget
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = DefaultResultTTL
	}
}

// Engine orchestrates the retrieval pipeline: query cache, embedding cache,
// index advisor, pooled similarity search, similarity-floor gate.
//
// Engine is safe for concurrent use.
type Engine struct {
	cfg     EngineConfig
	embeds  *EmbedCache
	queries *QueryCache
	advisor *Advisor
	pool    *Pool
	metrics *metrics.Collector
	logger  log.Logger
}

// NewEngine wires the retrieval engine from its collaborators.
func NewEngine(cfg EngineConfig, embeds *EmbedCache, queries *QueryCache, advisor *Advisor, pool *Pool, collector *metrics.Collector, logger log.Logger) *Engine {
	cfg.applyDefaults()
	if collector == nil {
		collector = metrics.NewCollector(metrics.Config{})
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Engine{
		cfg:     cfg,
		embeds:  embeds,
		queries: queries,
		advisor: advisor,
		pool:    pool,
		metrics: collector,
		logger:  logger,
	}
}

// Retrieve returns the ranked passages for query against the collection,
// best match first. An empty collection yields an empty result, not an
// error; a filter clause referencing unknown metadata keys matches nothing.
// Results at or below the similarity floor are discarded: returning zero
// passages is preferred over injecting low-relevance context.
func (e *Engine) Retrieve(ctx context.Context, col CollectionKey, query string, opts ...SearchOption) ([]Passage, error) {
	norm := normalizeQuery(query)
	if norm == "" {
		return nil, fmt.Errorf("%w: empty query text", ErrInvalidQuery)
	}

	sc := e.buildSearchConfig(opts)
	key := queryCacheKey(col, norm, sc.filter, sc.topK, sc.floor)

	if cached, ok := e.queries.Get(key); ok {
		return cached, nil
	}

	reqID := uuid.NewString()
	start := time.Now()

	vec, err := e.embeds.Resolve(ctx, norm, e.cfg.ModelID)
	if err != nil {
		return nil, err
	}

	desc, err := e.advisor.Descriptor(ctx, col, len(vec))
	if err != nil {
		return nil, err
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	var opErr error
	defer func() { e.pool.Release(conn, opErr) }()

	rows, err := e.search(ctx, conn, desc, vec, sc)
	if err != nil && isDimensionMismatch(err) && e.cfg.AltModelID != "" {
		// The collection column was provisioned for a different embedding
		// model; retry exactly once with the alternate.
		e.logger.Warn("vector dimension mismatch, retrying with alternate model",
			"request_id", reqID,
			"collection", desc.Collection.Table(),
			"alt_model", e.cfg.AltModelID)

		altVec, altErr := e.embeds.Resolve(ctx, norm, e.cfg.AltModelID)
		if altErr != nil {
			err = fmt.Errorf("%w (alternate model %q: %w)", err, e.cfg.AltModelID, altErr)
			opErr = err
			return nil, err
		}
		rows, err = e.search(ctx, conn, desc, altVec, sc)
	}
	if err != nil {
		opErr = err
		return nil, err
	}

	result := make([]Passage, 0, len(rows))
	for _, p := range rows {
		// The floor is an exclusive bound: a passage must score strictly
		// above it, so a floor of 1.0 rejects even exact matches. A zero
		// floor disables the gate.
		if sc.floor > 0 && p.Score <= sc.floor {
			continue
		}
		result = append(result, p)
		if len(result) == sc.topK {
			break
		}
	}

	e.queries.Put(key, result, e.cfg.ResultTTL)

	elapsed := time.Since(start)
	e.metrics.ObserveQuery(elapsed)
	e.metrics.SetPoolUtilization(e.pool.Utilization())

	e.logger.Debug("retrieval complete",
		"request_id", reqID,
		"collection", desc.Collection.Table(),
		"index", desc.Kind.String(),
		"fetched", len(rows),
		"returned", len(result),
		"elapsed", elapsed)

	return result, nil
}

// InvalidateCollection flushes cached results for the collection and marks
// its index descriptor for rebuild. Wired to the ingestion collaborator.
func (e *Engine) InvalidateCollection(col CollectionKey) {
	e.queries.InvalidateCollection(col)
	e.advisor.Invalidate(col)
}

// search executes the similarity query under the hard statement-level time
// budget. A budget overrun surfaces as ErrRetrievalTimeout, never as a
// silently degraded result.
func (e *Engine) search(ctx context.Context, conn Conn, desc IndexDescriptor, vec []float32, sc *searchConfig) ([]Passage, error) {
	qctx, cancel := context.WithTimeout(ctx, sc.timeBudget)
	defer cancel()

	rows, err := conn.SimilaritySearch(qctx, desc.Collection.Table(), vec, sc.topK, sc.filter)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: time budget %s exceeded", ErrRetrievalTimeout, sc.timeBudget)
		}
		return nil, fmt.Errorf("similarity search on %q: %w", desc.Collection.Table(), err)
	}
	return rows, nil
}

func (e *Engine) buildSearchConfig(opts []SearchOption) *searchConfig {
	sc := &searchConfig{
		topK:       e.cfg.DefaultTopK,
		timeBudget: e.cfg.DefaultTimeBudget,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// isDimensionMismatch recognizes the pgvector error raised when the query
// vector's dimensionality differs from the collection column's.
func isDimensionMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "different vector dimensions")
}
