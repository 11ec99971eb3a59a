package cache

import (
	"sync"
	"time"

	"github.com/helgykoin/hkn_ledger/pkg/metrics"
)

// Cell caches a single value for a short TTL. The ledger keeps token state here.
type Cell[T any] struct {
	mu        sync.Mutex
	name      string
	ttl       time.Duration
	now       func() time.Time
	value     T
	set       bool
	expiresAt time.Time
	version   uint64
}

func NewCell[T any](name string, ttl time.Duration, now func() time.Time) *Cell[T] {
	if now == nil {
		now = time.Now
	}
	return &Cell[T]{name: name, ttl: ttl, now: now}
}

// Get returns the cached value while it is fresh.
func (c *Cell[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hit := c.set && c.now().Before(c.expiresAt)
	metrics.RecordCacheLookup(c.name, hit)
	if !hit {
		var zero T
		return zero, false
	}
	return c.value, true
}

// Version is the snapshot to pass to SetIfUnchanged.
func (c *Cell[T]) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// SetIfUnchanged stores v unless the cell was invalidated after version was read.
func (c *Cell[T]) SetIfUnchanged(v T, version uint64) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != version {
		return
	}
	c.value = v
	c.set = true
	c.expiresAt = c.now().Add(c.ttl)
}

func (c *Cell[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value = zero
	c.set = false
	c.version++
}
