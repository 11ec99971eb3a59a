// Package pool bounds the number of storage connections handed out to the
// ledger and reclaims them on every exit path.
package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	"github.com/helgykoin/hkn_ledger/pkg/metrics"
)

const (
	DefaultSize           = 20
	DefaultAcquireTimeout = 5 * time.Second
)

// Config sizes the pool
type Config struct {
	Size           int
	AcquireTimeout time.Duration
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Size      int   `json:"size"`
	InUse     int   `json:"in_use"`
	Exhausted int64 `json:"exhausted"`
	Discarded int64 `json:"discarded"`
}

// Pool hands out at most Size dedicated connections of a sqlx.DB.
type Pool struct {
	db             *sqlx.DB
	sem            *semaphore.Weighted
	size           int
	acquireTimeout time.Duration
	logger         *zap.Logger

	inUse     atomic.Int64
	exhausted atomic.Int64
	discarded atomic.Int64
}

// New creates a pool over db and caps db's own open connections at the same size.
func New(db *sqlx.DB, cfg Config, logger *zap.Logger) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db.SetMaxOpenConns(cfg.Size)
	db.SetMaxIdleConns(cfg.Size)

	return &Pool{
		db:             db,
		sem:            semaphore.NewWeighted(int64(cfg.Size)),
		size:           cfg.Size,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         logger,
	}
}

// Conn is a connection checked out of the pool. It must be handed back with
// Release exactly once.
type Conn struct {
	*sqlx.Conn
	pool     *Pool
	released atomic.Bool
}

// DriverName returns the driver of the pooled database, for bind-var rebinding.
func (p *Pool) DriverName() string {
	return p.db.DriverName()
}

// Acquire blocks until a connection is free, ctx ends, or the acquire timeout
// elapses. A timeout yields a retryable PoolExhausted error.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.exhaustedError(start)
	}

	raw, err := p.db.Connx(acquireCtx)
	if err != nil {
		p.sem.Release(1)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, p.exhaustedError(start)
		}
		return nil, domainerrors.StoreError("acquire connection", err)
	}

	metrics.ObservePoolWait(time.Since(start))
	metrics.SetPoolInUse(int(p.inUse.Add(1)))

	return &Conn{Conn: raw, pool: p}, nil
}

func (p *Pool) exhaustedError(start time.Time) error {
	waited := time.Since(start)
	p.exhausted.Add(1)
	metrics.RecordPoolExhausted()
	p.logger.Warn("Connection pool exhausted",
		zap.Int("size", p.size),
		zap.Duration("waited", waited))
	return domainerrors.PoolExhaustedError(waited)
}

// Release returns conn to the pool. When useErr shows the connection is
// broken it is closed and discarded instead of being reused.
func (p *Pool) Release(conn *Conn, useErr error) {
	if conn == nil || !conn.released.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		p.sem.Release(1)
		metrics.SetPoolInUse(int(p.inUse.Add(-1)))
	}()

	if IsBroken(useErr) {
		p.discarded.Add(1)
		metrics.RecordPoolDiscard()
		p.logger.Warn("Discarding broken connection", zap.Error(useErr))
		// Returning ErrBadConn from Raw makes database/sql close the
		// driver connection rather than park it in the idle list.
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	}

	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		p.logger.Debug("Connection close error", zap.Error(err))
	}
}

// With runs fn on a pooled connection and releases it on every path.
func (p *Pool) With(ctx context.Context, fn func(conn *Conn) error) (err error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			p.Release(conn, driver.ErrBadConn)
			panic(r)
		}
		p.Release(conn, err)
	}()

	return fn(conn)
}

// Close closes the underlying database.
func (p *Pool) Close() error {
	return p.db.Close()
}

// Stats reports pool occupancy
func (p *Pool) Stats() Stats {
	return Stats{
		Size:      p.size,
		InUse:     int(p.inUse.Load()),
		Exhausted: p.exhausted.Load(),
		Discarded: p.discarded.Load(),
	}
}

// IsBroken reports whether err means the connection itself can no longer be used.
func IsBroken(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	// context errors satisfy net.Error but say nothing about the connection
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
