// Package retrieval implements the RAG cache-and-query subsystem: it turns a
// natural-language query into a ranked set of relevant passages while keeping
// latency and database load down through coordinated caching, adaptive index
// selection, and bounded-time query execution against a pgvector-backed store.
//
// Components:
//
//   - EmbedCache: memoizes text→vector computations with LRU eviction and
//     single-flight de-duplication of concurrent misses.
//   - QueryCache: memoizes final ranked results per (collection, query,
//     filter, topK) key with a short TTL and lazy expiry.
//   - Advisor: chooses and lazily provisions the similarity index per
//     collection (exact scan, HNSW, or HNSW over a halfvec cast) based on
//     vector dimensionality and estimated row count.
//   - Pool: a bounded pool of reusable store connections with liveness checks.
//   - Engine: orchestrates the above into the single retrieval pipeline.
//   - System: explicit dependency-injected wiring of every component, created
//     once at process start.
//
// All components tolerate concurrent use. Caches are the only shared mutable
// state; entries are replaced whole, never mutated in place.
package retrieval
