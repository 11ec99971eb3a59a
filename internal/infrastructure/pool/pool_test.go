package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
)

func newTestPool(t *testing.T, size int, timeout time.Duration) *Pool {
	t.Helper()
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Config{Size: size, AcquireTimeout: timeout}, nil)
}

func TestPool_AcquireTimesOutWhenExhausted(t *testing.T) {
	p := newTestPool(t, 2, 50*time.Millisecond)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stats().InUse)

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrPoolExhausted))
	assert.True(t, domainerrors.IsRetryable(err))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int64(1), p.Stats().Exhausted)

	p.Release(c1, nil)
	c3, err := p.Acquire(ctx)
	require.NoError(t, err)

	p.Release(c2, nil)
	p.Release(c3, nil)
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	p := newTestPool(t, 1, 50*time.Millisecond)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c, nil)
	p.Release(c, nil)
	p.Release(nil, nil)

	assert.Equal(t, 0, p.Stats().InUse)

	// a double release must not have freed a second slot
	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	_, err = p.Acquire(context.Background())
	assert.True(t, errors.Is(err, domainerrors.ErrPoolExhausted))
	p.Release(c1, nil)
}

func TestPool_WithReleasesOnError(t *testing.T) {
	p := newTestPool(t, 1, 50*time.Millisecond)
	ctx := context.Background()
	boom := errors.New("boom")

	err := p.With(ctx, func(conn *Conn) error {
		assert.Equal(t, 1, p.Stats().InUse)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, p.Stats().InUse)
	assert.Equal(t, int64(0), p.Stats().Discarded)

	err = p.With(ctx, func(conn *Conn) error {
		var one int
		return conn.GetContext(ctx, &one, "SELECT 1")
	})
	assert.NoError(t, err)
}

func TestPool_WithReleasesOnPanic(t *testing.T) {
	p := newTestPool(t, 1, 50*time.Millisecond)

	assert.Panics(t, func() {
		_ = p.With(context.Background(), func(conn *Conn) error {
			panic("unexpected")
		})
	})
	assert.Equal(t, 0, p.Stats().InUse)
	assert.Equal(t, int64(1), p.Stats().Discarded)
}

func TestPool_DiscardsBrokenConnection(t *testing.T) {
	p := newTestPool(t, 1, 50*time.Millisecond)
	ctx := context.Background()

	err := p.With(ctx, func(conn *Conn) error {
		return fmt.Errorf("query: %w", driver.ErrBadConn)
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), p.Stats().Discarded)
	assert.Equal(t, 0, p.Stats().InUse)

	// the pool hands out a fresh, working connection afterwards
	err = p.With(ctx, func(conn *Conn) error {
		return conn.PingContext(ctx)
	})
	assert.NoError(t, err)
}

func TestPool_AcquireHonoursCallerCancellation(t *testing.T) {
	p := newTestPool(t, 1, time.Second)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), p.Stats().Exhausted)
}

func TestIsBroken(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"wrapped bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"conn done", sql.ErrConnDone, true},
		{"no rows", sql.ErrNoRows, false},
		{"deadline", context.DeadlineExceeded, false},
		{"domain", domainerrors.ErrInsufficientFunds, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBroken(tt.err))
		})
	}
}
