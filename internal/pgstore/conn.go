// Package pgstore implements the vector store contracts over PostgreSQL with
// the pgvector extension, using pgx connections.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/clevio/clevio/internal/retrieval"
)

// tablePattern guards DDL interpolation: collection tables are always the
// fixed prefix plus digits, anything else is rejected before touching SQL.
var tablePattern = regexp.MustCompile(`^tb_[0-9]+$`)

// Conn adapts one pgx connection to the retrieval store contract.
type Conn struct {
	conn *pgx.Conn
}

// Dial connects to the database at dsn and prepares the session for vector
// work. The returned connection satisfies retrieval.Conn.
func Dial(ctx context.Context, dsn string) (*Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("registering pgvector types: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// Dialer returns a retrieval.DialFunc bound to dsn, suitable for pool wiring.
func Dialer(dsn string) retrieval.DialFunc {
	return func(ctx context.Context) (retrieval.Conn, error) {
		return Dial(ctx, dsn)
	}
}

// CollectionExists reports whether the collection table exists.
func (c *Conn) CollectionExists(ctx context.Context, table string) (bool, error) {
	if err := validTable(table); err != nil {
		return false, err
	}

	var exists bool
	err := c.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1)`,
		table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking table %q: %w", table, err)
	}
	return exists, nil
}

// EnsureCollection creates the collection table if absent. Idempotent; the
// vector extension is enabled on first use.
func (c *Conn) EnsureCollection(ctx context.Context, table string, dims int) error {
	if err := validTable(table); err != nil {
		return err
	}
	if dims <= 0 {
		return fmt.Errorf("invalid vector dimensionality %d for %q", dims, table)
	}

	if _, err := c.conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("enabling vector extension: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		text TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		embedding vector(%d),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, pgx.Identifier{table}.Sanitize(), dims)
	if _, err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating collection table %q: %w", table, err)
	}
	return nil
}

// CreateVectorIndex provisions the similarity index for the table. The DDL is
// existence-checked so concurrent calls cannot conflict destructively.
func (c *Conn) CreateVectorIndex(ctx context.Context, table string, kind retrieval.IndexKind, dims int) error {
	if err := validTable(table); err != nil {
		return err
	}

	ident := pgx.Identifier{table}.Sanitize()
	var ddl string
	switch kind {
	case retrieval.IndexHNSW:
		ddl = fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{indexName(table, kind)}.Sanitize(), ident)
	case retrieval.IndexHalfvecHNSW:
		ddl = fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw ((embedding::halfvec(%d)) halfvec_cosine_ops)`,
			pgx.Identifier{indexName(table, kind)}.Sanitize(), ident, dims)
	case retrieval.IndexExact, retrieval.IndexUnprovisioned:
		return nil
	default:
		return fmt.Errorf("unknown index kind %d for %q", kind, table)
	}

	if _, err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating %s index on %q: %w", kind.String(), table, err)
	}
	return nil
}

// RebuildVectorIndex drops the similarity index and recreates it, so that
// row growth or an invalidation signal restructures the index rather than
// hitting the existence check and doing nothing.
func (c *Conn) RebuildVectorIndex(ctx context.Context, table string, kind retrieval.IndexKind, dims int) error {
	if err := validTable(table); err != nil {
		return err
	}

	name := indexName(table, kind)
	if name == "" {
		return nil
	}

	drop := fmt.Sprintf(`DROP INDEX IF EXISTS %s`, pgx.Identifier{name}.Sanitize())
	if _, err := c.conn.Exec(ctx, drop); err != nil {
		return fmt.Errorf("dropping %s index on %q: %w", kind.String(), table, err)
	}
	return c.CreateVectorIndex(ctx, table, kind, dims)
}

// indexName maps (table, kind) onto the index identifier used by the DDL.
// Empty for kinds that carry no index.
func indexName(table string, kind retrieval.IndexKind) string {
	switch kind {
	case retrieval.IndexHNSW:
		return table + "_embedding_hnsw_idx"
	case retrieval.IndexHalfvecHNSW:
		return table + "_embedding_halfvec_idx"
	default:
		return ""
	}
}

// EstimateRows returns the planner's live row estimate for the table, falling
// back to an exact count while statistics are cold.
func (c *Conn) EstimateRows(ctx context.Context, table string) (int64, error) {
	if err := validTable(table); err != nil {
		return 0, err
	}

	var estimate float64
	err := c.conn.QueryRow(ctx,
		`SELECT reltuples FROM pg_class WHERE relname = $1`,
		table,
	).Scan(&estimate)
	if err != nil {
		return 0, fmt.Errorf("estimating rows of %q: %w", table, err)
	}

	// A fresh table has reltuples = -1 until the first analyze.
	if estimate < 0 {
		var count int64
		q := fmt.Sprintf(`SELECT count(*) FROM %s`, pgx.Identifier{table}.Sanitize())
		if err := c.conn.QueryRow(ctx, q).Scan(&count); err != nil {
			return 0, fmt.Errorf("counting rows of %q: %w", table, err)
		}
		return count, nil
	}
	return int64(estimate), nil
}

// SimilaritySearch runs a cosine similarity query against the table and
// returns passages ordered best match first.
func (c *Conn) SimilaritySearch(ctx context.Context, table string, vec []float32, topK int, filter map[string]string) ([]retrieval.Passage, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 1
	}

	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata filter: %w", err)
	}
	if filter == nil {
		filterJSON = []byte(`{}`)
	}

	q := fmt.Sprintf(`
		SELECT id::text, text, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE metadata @> $2
		ORDER BY embedding <=> $1
		LIMIT $3`, pgx.Identifier{table}.Sanitize())

	rows, err := c.conn.Query(ctx, q, pgvector.NewVector(vec), filterJSON, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity query on %q: %w", table, err)
	}
	defer rows.Close()

	var passages []retrieval.Passage
	for rows.Next() {
		var (
			p        retrieval.Passage
			rawMeta  []byte
			simFloat float64
		)
		if err := rows.Scan(&p.ID, &p.Text, &rawMeta, &simFloat); err != nil {
			return nil, fmt.Errorf("scanning similarity row: %w", err)
		}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &p.Metadata); err != nil {
				p.Metadata = map[string]string{}
			}
		}
		p.Score = float32(simFloat)
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading similarity rows: %w", err)
	}
	return passages, nil
}

// Ping verifies the connection is alive.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close releases the underlying connection.
func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func validTable(table string) error {
	if !tablePattern.MatchString(table) {
		return fmt.Errorf("invalid collection table name %q", table)
	}
	return nil
}
