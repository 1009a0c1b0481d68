//go:build integration

package pgstore

import (
	"context"
	"errors"
	"testing"

	"github.com/clevio/clevio/internal/agentcfg"
	"github.com/clevio/clevio/internal/retrieval"
	"github.com/clevio/clevio/internal/testutil"
	"github.com/pgvector/pgvector-go"
)

func TestConnAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	conn, err := Dial(ctx, db.ConnStr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(ctx)

	const table = "tb_127"
	const dims = 4

	t.Run("ensure collection is idempotent", func(t *testing.T) {
		if err := conn.EnsureCollection(ctx, table, dims); err != nil {
			t.Fatalf("EnsureCollection: %v", err)
		}
		if err := conn.EnsureCollection(ctx, table, dims); err != nil {
			t.Fatalf("second EnsureCollection: %v", err)
		}

		exists, err := conn.CollectionExists(ctx, table)
		if err != nil {
			t.Fatalf("CollectionExists: %v", err)
		}
		if !exists {
			t.Error("collection should exist after EnsureCollection")
		}
	})

	t.Run("index creation is idempotent", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if err := conn.CreateVectorIndex(ctx, table, retrieval.IndexHNSW, dims); err != nil {
				t.Fatalf("CreateVectorIndex attempt %d: %v", i, err)
			}
		}
	})

	t.Run("rebuild drops and recreates the index", func(t *testing.T) {
		if err := conn.RebuildVectorIndex(ctx, table, retrieval.IndexHNSW, dims); err != nil {
			t.Fatalf("RebuildVectorIndex: %v", err)
		}

		var exists bool
		err := db.Pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE tablename = $1 AND indexname = $2)`,
			table, table+"_embedding_hnsw_idx",
		).Scan(&exists)
		if err != nil {
			t.Fatalf("checking index: %v", err)
		}
		if !exists {
			t.Error("index should exist after rebuild")
		}
	})

	t.Run("similarity search orders by cosine distance", func(t *testing.T) {
		seed := []struct {
			text string
			vec  []float32
			meta string
		}{
			{"exact match", []float32{1, 0, 0, 0}, `{"source":"docs"}`},
			{"close match", []float32{0.9, 0.1, 0, 0}, `{"source":"docs"}`},
			{"unrelated", []float32{0, 0, 0, 1}, `{"source":"chat"}`},
		}
		for _, s := range seed {
			_, err := db.Pool.Exec(ctx,
				`INSERT INTO tb_127 (text, metadata, embedding) VALUES ($1, $2, $3)`,
				s.text, s.meta, pgvector.NewVector(s.vec))
			if err != nil {
				t.Fatalf("seeding %q: %v", s.text, err)
			}
		}

		rows, err := conn.SimilaritySearch(ctx, table, []float32{1, 0, 0, 0}, 10, nil)
		if err != nil {
			t.Fatalf("SimilaritySearch: %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("got %d rows, want 3", len(rows))
		}
		if rows[0].Text != "exact match" || rows[1].Text != "close match" {
			t.Errorf("order = %q, %q; want exact then close", rows[0].Text, rows[1].Text)
		}
		if rows[0].Score < 0.99 {
			t.Errorf("exact match score = %v, want ~1.0", rows[0].Score)
		}
		if rows[0].Score < rows[1].Score || rows[1].Score < rows[2].Score {
			t.Error("scores not descending")
		}

		filtered, err := conn.SimilaritySearch(ctx, table, []float32{1, 0, 0, 0}, 10,
			map[string]string{"source": "chat"})
		if err != nil {
			t.Fatalf("filtered SimilaritySearch: %v", err)
		}
		if len(filtered) != 1 || filtered[0].Text != "unrelated" {
			t.Errorf("filtered rows = %v, want only the chat passage", filtered)
		}

		none, err := conn.SimilaritySearch(ctx, table, []float32{1, 0, 0, 0}, 10,
			map[string]string{"missing_key": "x"})
		if err != nil {
			t.Fatalf("SimilaritySearch with unknown filter key: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("got %d rows for unknown metadata key, want 0", len(none))
		}
	})

	t.Run("dimension mismatch surfaces provider error", func(t *testing.T) {
		_, err := conn.SimilaritySearch(ctx, table, []float32{1, 0, 0}, 10, nil)
		if err == nil {
			t.Fatal("expected error for 3-dim query against 4-dim column")
		}
	})

	t.Run("estimate rows", func(t *testing.T) {
		rows, err := conn.EstimateRows(ctx, table)
		if err != nil {
			t.Fatalf("EstimateRows: %v", err)
		}
		if rows < 0 {
			t.Errorf("rows = %d, want >= 0", rows)
		}
	})

	t.Run("rejects hostile table names", func(t *testing.T) {
		if err := conn.EnsureCollection(ctx, `tb_1; DROP TABLE agents`, dims); err == nil {
			t.Error("expected rejection of table name with SQL payload")
		}
		if _, err := conn.SimilaritySearch(ctx, "agents", []float32{1}, 1, nil); err == nil {
			t.Error("expected rejection of non-collection table")
		}
	})
}

func TestConfigStoreAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO agents (id, model_name, system_message, tools, memory_enabled)
		VALUES ('agent-1', 'gpt-4o', 'You are helpful.', ARRAY['search','calculator'], TRUE)`)
	if err != nil {
		t.Fatalf("seeding agents: %v", err)
	}

	store, err := NewConfigStore(ctx, db.ConnStr)
	if err != nil {
		t.Fatalf("NewConfigStore: %v", err)
	}
	defer store.Close()

	cfg, err := store.FetchConfig(ctx, "agent-1")
	if err != nil {
		t.Fatalf("FetchConfig: %v", err)
	}
	if cfg.ModelName != "gpt-4o" || len(cfg.Tools) != 2 || !cfg.MemoryEnabled {
		t.Errorf("config = %+v, want seeded values", cfg)
	}

	_, err = store.FetchConfig(ctx, "missing")
	if !errors.Is(err, agentcfg.ErrConfigNotFound) {
		t.Errorf("err = %v, want ErrConfigNotFound", err)
	}
}
