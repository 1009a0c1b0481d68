package retrieval

import "errors"

// Error taxonomy for the retrieval pipeline. Component-local failures (index
// builds, cache-tier I/O) are absorbed and logged; pipeline-stage failures
// propagate wrapped around one of these sentinels so callers can dispatch
// with errors.Is.
var (
	// ErrInvalidQuery indicates malformed input (e.g. empty query text).
	// Fails fast, before any cache or store access.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrEmbeddingFailure indicates the external embedding provider failed.
	// Never cached; propagated to every waiter of the in-flight call.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrPoolExhausted indicates no connection became available within the
	// acquire timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrRetrievalTimeout indicates the store query exceeded its time budget.
	// The attempt is abandoned, not retried within the same call.
	ErrRetrievalTimeout = errors.New("retrieval timed out")

	// ErrIndexBuildFailure indicates an index build or rebuild failed. It is
	// non-fatal: the collection stays queryable via exact scan.
	ErrIndexBuildFailure = errors.New("index build failure")

	// ErrPoolClosed indicates the pool has been shut down.
	ErrPoolClosed = errors.New("connection pool closed")
)
