// Package cache holds the disposable read caches in front of the ledger store.
// Nothing here is ever consulted for a mutation decision.
package cache

import (
	"context"
	"time"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
)

// WalletCache caches wallet records for display reads.
type WalletCache interface {
	// Get returns a copy of the cached wallet, or false on a miss or expiry.
	Get(ctx context.Context, accountID int64) (*entities.Wallet, bool)
	// Put stores a copy of w for ttl, measured from now.
	Put(ctx context.Context, accountID int64, w *entities.Wallet, ttl time.Duration)
	Invalidate(ctx context.Context, accountIDs ...int64)
}

// NopCache never hits. It is used when caching is switched off.
type NopCache struct{}

func (NopCache) Get(context.Context, int64) (*entities.Wallet, bool) { return nil, false }

func (NopCache) Put(context.Context, int64, *entities.Wallet, time.Duration) {}

func (NopCache) Invalidate(context.Context, ...int64) {}
