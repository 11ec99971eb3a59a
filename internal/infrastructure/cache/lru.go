package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	"github.com/helgykoin/hkn_ledger/pkg/metrics"
)

const (
	DefaultCapacity = 10000
	DefaultTTL      = 5 * time.Minute
)

type lruEntry struct {
	wallet    entities.Wallet
	expiresAt time.Time
}

// LRUCache is an in-process wallet cache bounded by capacity, with a TTL per
// entry. Expired entries are dropped on read; beyond that, the least recently
// used entry is evicted.
type LRUCache struct {
	entries *lru.Cache[int64, lruEntry]
	now     func() time.Time
}

// LRUOption configures an LRUCache
type LRUOption func(*LRUCache)

// WithLRUClock replaces the wall clock used for expiry.
func WithLRUClock(now func() time.Time) LRUOption {
	return func(c *LRUCache) { c.now = now }
}

// NewLRUCache creates a cache holding at most capacity wallets.
func NewLRUCache(capacity int, opts ...LRUOption) (*LRUCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[int64, lruEntry](capacity)
	if err != nil {
		return nil, err
	}
	c := &LRUCache{entries: entries, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *LRUCache) Get(_ context.Context, accountID int64) (*entities.Wallet, bool) {
	e, ok := c.entries.Get(accountID)
	if ok && !c.now().Before(e.expiresAt) {
		c.entries.Remove(accountID)
		ok = false
	}
	metrics.RecordCacheLookup("wallet_lru", ok)
	if !ok {
		return nil, false
	}
	w := e.wallet
	return &w, true
}

func (c *LRUCache) Put(_ context.Context, accountID int64, w *entities.Wallet, ttl time.Duration) {
	if w == nil || ttl <= 0 {
		return
	}
	c.entries.Add(accountID, lruEntry{wallet: *w, expiresAt: c.now().Add(ttl)})
}

func (c *LRUCache) Invalidate(_ context.Context, accountIDs ...int64) {
	for _, id := range accountIDs {
		c.entries.Remove(id)
	}
}

// Len returns the number of entries, including expired ones not yet read.
func (c *LRUCache) Len() int {
	return c.entries.Len()
}
