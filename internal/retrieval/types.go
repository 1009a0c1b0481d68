package retrieval

import (
	"strings"
	"time"
)

// CollectionKey identifies a per-tenant vector table. The mapping to a table
// name is deterministic and immutable once created: the digits of both ids
// are concatenated under a fixed prefix.
type CollectionKey struct {
	OwnerID string
	AgentID string
}

// Table returns the per-tenant table name for this collection, e.g.
// CollectionKey{"user-12", "agent-7"} → "tb_127".
func (k CollectionKey) Table() string {
	var b strings.Builder
	b.WriteString("tb_")
	for _, r := range k.OwnerID {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	for _, r := range k.AgentID {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Passage is a single ranked retrieval result.
type Passage struct {
	ID       string
	Text     string
	Metadata map[string]string
	Score    float32 // cosine similarity, 1.0 = identical
}

// IndexKind is the similarity-search strategy chosen for a collection.
type IndexKind int

const (
	// IndexUnprovisioned means no descriptor exists yet for the collection.
	IndexUnprovisioned IndexKind = iota

	// IndexExact performs a sequential scan. Always available.
	IndexExact

	// IndexHNSW is an approximate HNSW index over the raw vector column.
	// pgvector supports it up to 2000 dimensions.
	IndexHNSW

	// IndexHalfvecHNSW is an approximate HNSW index over a halfvec cast of
	// the vector column, usable up to 4000 dimensions.
	IndexHalfvecHNSW
)

// String returns the index kind name for logging.
func (k IndexKind) String() string {
	switch k {
	case IndexExact:
		return "exact"
	case IndexHNSW:
		return "hnsw"
	case IndexHalfvecHNSW:
		return "halfvec_hnsw"
	default:
		return "unprovisioned"
	}
}

// IndexDescriptor records the index strategy provisioned for one collection.
// It persists for the process lifetime, rebuilding as needed.
type IndexDescriptor struct {
	Collection  CollectionKey
	Kind        IndexKind
	Dimensions  int
	RowsAtBuild int64
	BuiltAt     time.Time
}

// normalizeQuery canonicalizes query text so semantically-identical requests
// collide deterministically in cache keys: lowercase, whitespace collapsed.
func normalizeQuery(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// SearchOption configures a Retrieve call using the functional options
// pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK       int
	filter     map[string]string
	floor      float32
	timeBudget time.Duration
}

// WithTopK sets the maximum number of passages to return. Default is 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithFilter adds a metadata filter clause. Multiple calls AND together.
// A clause referencing a key no passage carries simply matches nothing.
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// WithSimilarityFloor discards passages scoring at or below the floor, so a
// floor of 1.0 returns nothing even for exact matches. Returning zero
// passages is preferred over injecting low-relevance context.
func WithSimilarityFloor(floor float32) SearchOption {
	return func(c *searchConfig) {
		c.floor = floor
	}
}

// WithTimeBudget bounds the store query with a hard statement-level timeout.
func WithTimeBudget(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeBudget = d
		}
	}
}
