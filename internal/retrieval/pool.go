package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/puddle/v2"

	"github.com/clevio/clevio/internal/log"
)

// Conn is one connection to the vector-capable relational store. It is the
// consumer-defined view of everything the subsystem needs from the store:
// existence checks, index creation, parameterized similarity search under a
// per-statement timeout, and row-count estimation.
//
// A Conn is owned by exactly one logical operation at a time; the Pool is the
// only component that creates or destroys them.
type Conn interface {
	// CollectionExists reports whether the collection table exists.
	CollectionExists(ctx context.Context, table string) (bool, error)

	// EnsureCollection creates the collection table if absent. Idempotent.
	EnsureCollection(ctx context.Context, table string, dims int) error

	// CreateVectorIndex provisions the similarity index for the table.
	// Existence-checked, so concurrent calls cannot conflict destructively.
	CreateVectorIndex(ctx context.Context, table string, kind IndexKind, dims int) error

	// RebuildVectorIndex drops and recreates the similarity index so that
	// accumulated growth or an invalidation signal reaches the index
	// structure itself, not just the descriptor.
	RebuildVectorIndex(ctx context.Context, table string, kind IndexKind, dims int) error

	// EstimateRows returns the estimated live row count of the table.
	EstimateRows(ctx context.Context, table string) (int64, error)

	// SimilaritySearch runs a vector similarity query and returns passages
	// ordered best match first, ties in row order.
	SimilaritySearch(ctx context.Context, table string, vec []float32, topK int, filter map[string]string) ([]Passage, error)

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// DialFunc creates a new store connection.
type DialFunc func(ctx context.Context) (Conn, error)

// Pool defaults.
const (
	DefaultPoolMinConns      = 2
	DefaultPoolMaxConns      = 10
	DefaultAcquireTimeout    = 5 * time.Second
	livenessRecheckTimeout   = time.Second
	poolCloseDrainTimeout    = 5 * time.Second
	defaultPredialPerAttempt = 3 * time.Second
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// MinConns is the number of connections dialed up-front (best-effort).
	MinConns int

	// MaxConns bounds the total number of live connections.
	MaxConns int

	// AcquireTimeout bounds how long Acquire blocks before failing with
	// ErrPoolExhausted.
	AcquireTimeout time.Duration
}

func (c *PoolConfig) applyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultPoolMaxConns
	}
	if c.MinConns <= 0 {
		c.MinConns = DefaultPoolMinConns
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
}

// Pool manages a bounded set of reusable store connections over puddle, the
// resource pool behind pgxpool. Connections that error during use are
// destroyed rather than returned; replacements are constructed lazily on the
// next Acquire.
type Pool struct {
	inner  *puddle.Pool[Conn]
	cfg    PoolConfig
	logger log.Logger

	mu   sync.Mutex
	held map[Conn]*puddle.Resource[Conn]
}

// NewPool creates a pool and pre-dials MinConns connections. Dial failures
// during warm-up are logged, not fatal: the pool starts smaller and grows on
// demand.
func NewPool(ctx context.Context, dial DialFunc, cfg PoolConfig, logger log.Logger) (*Pool, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.NewNop()
	}

	p := &Pool{
		cfg:    cfg,
		logger: logger,
		held:   make(map[Conn]*puddle.Resource[Conn]),
	}

	inner, err := puddle.NewPool(&puddle.Config[Conn]{
		Constructor: func(ctx context.Context) (Conn, error) {
			return dial(ctx)
		},
		Destructor: p.closeConn,
		MaxSize:    int32(cfg.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	p.inner = inner

	for i := 0; i < cfg.MinConns; i++ {
		dialCtx, cancel := context.WithTimeout(ctx, defaultPredialPerAttempt)
		err := inner.CreateResource(dialCtx)
		cancel()
		if err != nil {
			p.logger.Warn("pool warm-up dial failed", "error", err)
			break
		}
	}

	return p, nil
}

// Acquire returns a connection for exclusive use by one logical operation.
// It prefers an idle connection, dials a new one while under MaxConns, and
// otherwise blocks up to AcquireTimeout before failing with ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	acqCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	res, err := p.inner.Acquire(acqCtx)
	if err != nil {
		switch {
		case errors.Is(err, puddle.ErrClosedPool):
			return nil, ErrPoolClosed
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return nil, fmt.Errorf("%w: no connection within %s", ErrPoolExhausted, p.cfg.AcquireTimeout)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("dialing store connection: %w", err)
		}
	}

	conn := res.Value()
	p.mu.Lock()
	p.held[conn] = res
	p.mu.Unlock()
	return conn, nil
}

// Release returns a connection after a logical operation. opErr is the error
// the operation finished with, if any:
//
//   - nil: the connection goes straight back to the idle set.
//   - a timeout (ErrRetrievalTimeout or context deadline): the connection is
//     re-checked for liveness first, then reused or destroyed.
//   - anything else: the connection is destroyed; a replacement is dialed
//     lazily on the next Acquire.
func (p *Pool) Release(conn Conn, opErr error) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	res, ok := p.held[conn]
	delete(p.held, conn)
	p.mu.Unlock()
	if !ok {
		return
	}

	switch {
	case opErr == nil:
		res.Release()
	case errors.Is(opErr, ErrRetrievalTimeout) || errors.Is(opErr, context.DeadlineExceeded):
		pingCtx, cancel := context.WithTimeout(context.Background(), livenessRecheckTimeout)
		err := conn.Ping(pingCtx)
		cancel()
		if err != nil {
			p.logger.Warn("discarding connection after failed liveness check", "error", err)
			res.Destroy()
			return
		}
		res.Release()
	default:
		res.Destroy()
	}
}

// closeConn is the puddle destructor.
func (p *Pool) closeConn(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), poolCloseDrainTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		p.logger.Debug("closing store connection", "error", err)
	}
}

// PoolStats is a point-in-time view of pool occupancy.
type PoolStats struct {
	Max   int // configured upper bound
	Size  int // live connections (idle + in use)
	Idle  int // connections waiting in the free list
	InUse int // connections lent to operations
}

// Stats returns current pool occupancy.
func (p *Pool) Stats() PoolStats {
	s := p.inner.Stat()
	return PoolStats{
		Max:   p.cfg.MaxConns,
		Size:  int(s.TotalResources()),
		Idle:  int(s.IdleResources()),
		InUse: int(s.AcquiredResources()),
	}
}

// Utilization returns the fraction of MaxConns currently lent out.
func (p *Pool) Utilization() float64 {
	s := p.Stats()
	if s.Max == 0 {
		return 0
	}
	return float64(s.InUse) / float64(s.Max)
}

// Close shuts the pool down and destroys idle connections. It blocks until
// connections still lent out have been released.
func (p *Pool) Close() {
	p.inner.Close()
}
