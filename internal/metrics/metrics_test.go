package metrics

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSnapshotCacheHitRate(t *testing.T) {
	c := NewCollector(Config{})

	if got := c.Snapshot().CacheHitRate; got != 0 {
		t.Errorf("CacheHitRate with no traffic = %v, want 0", got)
	}

	c.CacheHit(CacheEmbedding)
	c.CacheHit(CacheQuery)
	c.CacheHit(CacheConfig)
	c.CacheMiss(CacheEmbedding)

	if got := c.Snapshot().CacheHitRate; !almostEqual(got, 0.75) {
		t.Errorf("CacheHitRate = %v, want 0.75", got)
	}
}

func TestSnapshotQueryLatency(t *testing.T) {
	c := NewCollector(Config{})

	c.ObserveQuery(10 * time.Millisecond)
	c.ObserveQuery(30 * time.Millisecond)

	s := c.Snapshot()
	if s.QueryCount != 2 {
		t.Errorf("QueryCount = %d, want 2", s.QueryCount)
	}
	if !almostEqual(s.AvgQueryTimeMs, 20) {
		t.Errorf("AvgQueryTimeMs = %v, want 20", s.AvgQueryTimeMs)
	}
}

func TestSnapshotSubMillisecondPrecision(t *testing.T) {
	c := NewCollector(Config{})

	c.ObserveQuery(500 * time.Microsecond)

	if got := c.Snapshot().AvgQueryTimeMs; !almostEqual(got, 0.5) {
		t.Errorf("AvgQueryTimeMs = %v, want 0.5", got)
	}
}

func TestSnapshotPoolUtilization(t *testing.T) {
	c := NewCollector(Config{})

	c.SetPoolUtilization(0.3)
	if got := c.Snapshot().PoolUtilization; !almostEqual(got, 0.3) {
		t.Errorf("PoolUtilization = %v, want 0.3", got)
	}
}

func TestResetZeroesCounters(t *testing.T) {
	c := NewCollector(Config{})

	c.CacheHit(CacheQuery)
	c.CacheMiss(CacheQuery)
	c.ObserveQuery(5 * time.Millisecond)
	c.SetPoolUtilization(0.5)

	c.Reset()

	s := c.Snapshot()
	if s.CacheHitRate != 0 || s.QueryCount != 0 || s.AvgQueryTimeMs != 0 {
		t.Errorf("Snapshot after Reset = %+v, want zeroed counters", s)
	}
	// Utilization is a gauge of current state, not a counter; it survives.
	if !almostEqual(s.PoolUtilization, 0.5) {
		t.Errorf("PoolUtilization after Reset = %v, want 0.5", s.PoolUtilization)
	}
}

func TestHandlerExportsPrometheusSeries(t *testing.T) {
	c := NewCollector(Config{})
	c.CacheHit(CacheEmbedding)
	c.ObserveQuery(10 * time.Millisecond)
	c.IndexBuild(true)
	c.EmbedProviderCall()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, series := range []string{
		`clevio_rag_cache_hits_total{cache_type="embedding"} 1`,
		"clevio_rag_queries_total 1",
		`clevio_rag_index_builds_total{status="success"} 1`,
		"clevio_rag_embed_provider_calls_total 1",
	} {
		if !strings.Contains(body, series) {
			t.Errorf("exposition missing %q", series)
		}
	}
}

func TestCollectorsUseSeparateRegistries(t *testing.T) {
	// Two collectors with private registries must not collide on registration.
	a := NewCollector(Config{})
	b := NewCollector(Config{})

	a.CacheHit(CacheQuery)
	if got := b.Snapshot().CacheHitRate; got != 0 {
		t.Errorf("collector b saw collector a's traffic: %v", got)
	}
}
