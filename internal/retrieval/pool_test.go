package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestPool(t *testing.T, dialer *fakeDialer, cfg PoolConfig) *Pool {
	t.Helper()
	pool, err := NewPool(context.Background(), dialer.dial, cfg, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// waitFor polls cond until it holds or the deadline passes. Destruction of a
// discarded connection completes asynchronously, so assertions on it poll.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error(msg)
}

func TestPoolPredialsMinConns(t *testing.T) {
	dialer := &fakeDialer{}
	pool := newTestPool(t, dialer, PoolConfig{MinConns: 2, MaxConns: 5})

	if got := dialer.dialCount(); got != 2 {
		t.Errorf("dials after construction = %d, want 2", got)
	}
	if s := pool.Stats(); s.Idle != 2 || s.Size != 2 {
		t.Errorf("Stats() = %+v, want Idle=2 Size=2", s)
	}
}

func TestPoolAcquireReusesIdle(t *testing.T) {
	dialer := &fakeDialer{}
	pool := newTestPool(t, dialer, PoolConfig{MinConns: 1, MaxConns: 5})

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	pool.Release(conn, nil)

	again, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	pool.Release(again, nil)

	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (connection should be reused)", got)
	}
}

func TestPoolGrowsToMax(t *testing.T) {
	dialer := &fakeDialer{}
	pool := newTestPool(t, dialer, PoolConfig{MinConns: 1, MaxConns: 3, AcquireTimeout: 50 * time.Millisecond})

	var held []Conn
	for i := 0; i < 3; i++ {
		conn, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		held = append(held, conn)
	}

	if s := pool.Stats(); s.InUse != 3 || s.Size != 3 {
		t.Errorf("Stats() = %+v, want InUse=3 Size=3", s)
	}
	if got := pool.Utilization(); got != 1.0 {
		t.Errorf("Utilization() = %v, want 1.0", got)
	}

	for _, c := range held {
		pool.Release(c, nil)
	}
}

func TestPoolExhaustionTimesOut(t *testing.T) {
	dialer := &fakeDialer{}
	pool := newTestPool(t, dialer, PoolConfig{MinConns: 1, MaxConns: 1, AcquireTimeout: 30 * time.Millisecond})

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	start := time.Now()
	_, err = pool.Acquire(context.Background())
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Acquire returned after %s, should have blocked for the timeout", elapsed)
	}

	// The failed acquire must not shrink the pool.
	pool.Release(conn, nil)
	if s := pool.Stats(); s.Size != 1 || s.Idle != 1 {
		t.Errorf("Stats() after failed acquire = %+v, want Size=1 Idle=1", s)
	}
}

func TestPoolReleaseAfterErrorDiscards(t *testing.T) {
	dialer := &fakeDialer{}
	pool := newTestPool(t, dialer, PoolConfig{MinConns: 1, MaxConns: 2, AcquireTimeout: 50 * time.Millisecond})

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	pool.Release(conn, errors.New("connection reset"))

	waitFor(t, func() bool { return dialer.conns[0].closed.Load() },
		"broken connection should have been closed")
	waitFor(t, func() bool { return pool.Stats().Size == 0 },
		"pool should shrink to 0 after discard")

	// The next acquire dials a replacement lazily.
	replacement, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire replacement: %v", err)
	}
	pool.Release(replacement, nil)
	if got := dialer.dialCount(); got != 2 {
		t.Errorf("dials = %d, want 2 (lazy replacement)", got)
	}
}

func TestPoolReleaseAfterTimeoutRechecksLiveness(t *testing.T) {
	t.Run("alive connection is reused", func(t *testing.T) {
		dialer := &fakeDialer{}
		pool := newTestPool(t, dialer, PoolConfig{MinConns: 1, MaxConns: 2})

		conn, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		pool.Release(conn, ErrRetrievalTimeout)

		if dialer.conns[0].closed.Load() {
			t.Error("live connection should not have been closed after a timeout")
		}
		if s := pool.Stats(); s.Idle != 1 {
			t.Errorf("Stats().Idle = %d, want 1", s.Idle)
		}
	})

	t.Run("dead connection is discarded", func(t *testing.T) {
		dialer := &fakeDialer{template: func() *fakeConn {
			return &fakeConn{pingFn: func(context.Context) error {
				return errors.New("connection closed")
			}}
		}}
		pool := newTestPool(t, dialer, PoolConfig{MinConns: 1, MaxConns: 2})

		conn, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		pool.Release(conn, ErrRetrievalTimeout)

		waitFor(t, func() bool { return dialer.conns[0].closed.Load() },
			"dead connection should have been closed")
		waitFor(t, func() bool { return pool.Stats().Size == 0 },
			"pool should shrink to 0 after discarding a dead connection")
	})
}

func TestPoolAcquireRespectsContext(t *testing.T) {
	dialer := &fakeDialer{}
	pool := newTestPool(t, dialer, PoolConfig{MinConns: 1, MaxConns: 1, AcquireTimeout: time.Second})

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer pool.Release(conn, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestPoolWarmupDialFailureNotFatal(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("db down")}
	pool, err := NewPool(context.Background(), dialer.dial, PoolConfig{MinConns: 2, MaxConns: 4, AcquireTimeout: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	if s := pool.Stats(); s.Size != 0 {
		t.Errorf("Stats().Size = %d, want 0 after failed warm-up", s.Size)
	}

	// Once the database recovers, acquires succeed again.
	dialer.mu.Lock()
	dialer.err = nil
	dialer.mu.Unlock()

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after recovery: %v", err)
	}
	pool.Release(conn, nil)
}

func TestPoolCloseClosesIdle(t *testing.T) {
	dialer := &fakeDialer{}
	pool, err := NewPool(context.Background(), dialer.dial, PoolConfig{MinConns: 2, MaxConns: 4}, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	pool.Close()

	for i, conn := range dialer.conns {
		if !conn.closed.Load() {
			t.Errorf("conn %d not closed after pool Close", i)
		}
	}

	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire after Close = %v, want ErrPoolClosed", err)
	}
}
