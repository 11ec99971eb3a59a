// Package testutil builds a migrated SQLite ledger store for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helgykoin/hkn_ledger/internal/infrastructure/config"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/database"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/pool"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/repositories"
)

// StoreOptions tweaks the store built by NewStore.
type StoreOptions struct {
	PoolSize       int
	AcquireTimeout time.Duration
	CommitTimeout  time.Duration
}

// NewStore migrates a fresh SQLite file under t.TempDir and returns a
// repository over it. The store is closed when the test ends.
func NewStore(t testing.TB, opts ...StoreOptions) (*repositories.LedgerRepository, *pool.Pool) {
	t.Helper()

	o := StoreOptions{PoolSize: 4, AcquireTimeout: 2 * time.Second, CommitTimeout: 5 * time.Second}
	if len(opts) > 0 {
		if opts[0].PoolSize > 0 {
			o.PoolSize = opts[0].PoolSize
		}
		if opts[0].AcquireTimeout > 0 {
			o.AcquireTimeout = opts[0].AcquireTimeout
		}
		if opts[0].CommitTimeout > 0 {
			o.CommitTimeout = opts[0].CommitTimeout
		}
	}

	cfg := config.DatabaseConfig{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
	}
	require.NoError(t, database.RunMigrations(cfg))

	db, err := database.NewConnection(cfg)
	require.NoError(t, err)

	p := pool.New(db, pool.Config{Size: o.PoolSize, AcquireTimeout: o.AcquireTimeout}, nil)
	repo := repositories.NewLedgerRepository(p, o.CommitTimeout, nil)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, p
}
