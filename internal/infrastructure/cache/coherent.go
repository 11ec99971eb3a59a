package cache

import (
	"context"
	"sync"
	"time"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
)

const coherentShards = 64

type coherentShard struct {
	mu       sync.Mutex
	versions map[int64]uint64
}

// Coherent wraps a WalletCache so that a read-through fill racing with a
// write can never re-insert the pre-write value after the write's
// invalidation. Readers take a Snapshot before reading the store and fill
// with PutIfUnchanged; writers call Invalidate after commit.
type Coherent struct {
	WalletCache
	shards [coherentShards]coherentShard
}

func NewCoherent(inner WalletCache) *Coherent {
	c := &Coherent{WalletCache: inner}
	for i := range c.shards {
		c.shards[i].versions = make(map[int64]uint64)
	}
	return c
}

func (c *Coherent) shard(accountID int64) *coherentShard {
	return &c.shards[uint64(accountID)%coherentShards]
}

// Snapshot returns the account's current write version.
func (c *Coherent) Snapshot(accountID int64) uint64 {
	s := c.shard(accountID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[accountID]
}

// PutIfUnchanged fills the cache only if no write invalidated the account
// since snapshot was taken.
func (c *Coherent) PutIfUnchanged(ctx context.Context, accountID int64, w *entities.Wallet, ttl time.Duration, snapshot uint64) bool {
	s := c.shard(accountID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versions[accountID] != snapshot {
		return false
	}
	c.WalletCache.Put(ctx, accountID, w, ttl)
	return true
}

// Invalidate bumps each account's version and drops its entry.
func (c *Coherent) Invalidate(ctx context.Context, accountIDs ...int64) {
	for _, id := range accountIDs {
		s := c.shard(id)
		s.mu.Lock()
		s.versions[id]++
		c.WalletCache.Invalidate(ctx, id)
		s.mu.Unlock()
	}
}
