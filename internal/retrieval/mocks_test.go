package retrieval

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeEmbedder counts provider calls and returns a configurable vector or
// error. Safe for concurrent use.
type fakeEmbedder struct {
	mu     sync.Mutex
	calls  int32
	vector []float32
	err    error
	delay  time.Duration

	// vectorFor overrides vector per model id when set.
	vectorFor map[string][]float32

	// errFor overrides err per model id when set.
	errFor map[string]error
}

func (f *fakeEmbedder) Embed(ctx context.Context, _, modelID string) ([]float32, error) {
	atomic.AddInt32(&f.calls, 1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errFor[modelID]; ok {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectorFor[modelID]; ok {
		return v, nil
	}
	if f.vector != nil {
		return f.vector, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) callCount() int32 {
	return atomic.LoadInt32(&f.calls)
}

// fakeConn implements Conn with per-method hooks. Unset hooks return benign
// defaults.
type fakeConn struct {
	existsFn   func(ctx context.Context, table string) (bool, error)
	ensureFn   func(ctx context.Context, table string, dims int) error
	indexFn    func(ctx context.Context, table string, kind IndexKind, dims int) error
	rebuildFn  func(ctx context.Context, table string, kind IndexKind, dims int) error
	estimateFn func(ctx context.Context, table string) (int64, error)
	searchFn   func(ctx context.Context, table string, vec []float32, topK int, filter map[string]string) ([]Passage, error)
	pingFn     func(ctx context.Context) error

	closed atomic.Bool
}

func (c *fakeConn) CollectionExists(ctx context.Context, table string) (bool, error) {
	if c.existsFn != nil {
		return c.existsFn(ctx, table)
	}
	return true, nil
}

func (c *fakeConn) EnsureCollection(ctx context.Context, table string, dims int) error {
	if c.ensureFn != nil {
		return c.ensureFn(ctx, table, dims)
	}
	return nil
}

func (c *fakeConn) CreateVectorIndex(ctx context.Context, table string, kind IndexKind, dims int) error {
	if c.indexFn != nil {
		return c.indexFn(ctx, table, kind, dims)
	}
	return nil
}

func (c *fakeConn) RebuildVectorIndex(ctx context.Context, table string, kind IndexKind, dims int) error {
	if c.rebuildFn != nil {
		return c.rebuildFn(ctx, table, kind, dims)
	}
	return nil
}

func (c *fakeConn) EstimateRows(ctx context.Context, table string) (int64, error) {
	if c.estimateFn != nil {
		return c.estimateFn(ctx, table)
	}
	return 0, nil
}

func (c *fakeConn) SimilaritySearch(ctx context.Context, table string, vec []float32, topK int, filter map[string]string) ([]Passage, error) {
	if c.searchFn != nil {
		return c.searchFn(ctx, table, vec, topK, filter)
	}
	return nil, nil
}

func (c *fakeConn) Ping(ctx context.Context) error {
	if c.pingFn != nil {
		return c.pingFn(ctx)
	}
	return nil
}

func (c *fakeConn) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

// fakeDialer produces fakeConns and counts dials.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	conns []*fakeConn
	err   error

	// configure dials the same conn template.
	template func() *fakeConn
}

func (d *fakeDialer) dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.dials++
	var conn *fakeConn
	if d.template != nil {
		conn = d.template()
	} else {
		conn = &fakeConn{}
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
