// Package cache holds the uid-to-entity translation map used on every
// public API request. Reads are lock-free via sync.Map; each key is
// written once per profile revision, so there is no eviction pressure
// beyond a coarse size cap.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sawpanic/scouter/internal/metrics"
	"github.com/sawpanic/scouter/internal/persistence"
)

// maxEntries bounds the cache; at the cap the whole map is dropped rather
// than tracking LRU order, which is adequate for a key space that only
// grows when profiles are revised.
const maxEntries = 100_000

// Resolver is the store lookup the cache falls through to on a miss.
type Resolver interface {
	ResolveUID(ctx context.Context, uid string) (persistence.Entity, error)
}

// EntityCache maps profile revision uids to their entity rows.
type EntityCache struct {
	resolver Resolver
	reg      *metrics.Registry

	entries sync.Map // uid -> persistence.Entity
	size    int64
}

// NewEntityCache builds a cache over the given store resolver. reg may be
// nil in tests.
func NewEntityCache(resolver Resolver, reg *metrics.Registry) *EntityCache {
	return &EntityCache{resolver: resolver, reg: reg}
}

// Resolve returns the entity for uid, consulting the store on a miss and
// memoizing the result.
func (c *EntityCache) Resolve(ctx context.Context, uid string) (persistence.Entity, error) {
	if v, ok := c.entries.Load(uid); ok {
		if c.reg != nil {
			c.reg.CacheHits.Inc()
		}
		return v.(persistence.Entity), nil
	}
	if c.reg != nil {
		c.reg.CacheMisses.Inc()
	}

	ent, err := c.resolver.ResolveUID(ctx, uid)
	if err != nil {
		return persistence.Entity{}, err
	}
	c.put(uid, ent)
	return ent, nil
}

// Put seeds the cache directly, used after profile upserts so the next
// request hits without a store round-trip.
func (c *EntityCache) Put(uid string, ent persistence.Entity) { c.put(uid, ent) }

// Invalidate drops one uid, used when a profile is deactivated.
func (c *EntityCache) Invalidate(uid string) {
	if _, loaded := c.entries.LoadAndDelete(uid); loaded {
		atomic.AddInt64(&c.size, -1)
	}
}

func (c *EntityCache) put(uid string, ent persistence.Entity) {
	if atomic.LoadInt64(&c.size) >= maxEntries {
		c.entries.Range(func(k, _ any) bool {
			c.entries.Delete(k)
			return true
		})
		atomic.StoreInt64(&c.size, 0)
	}
	if _, loaded := c.entries.LoadOrStore(uid, ent); !loaded {
		atomic.AddInt64(&c.size, 1)
	}
}

// Len reports the current entry count.
func (c *EntityCache) Len() int { return int(atomic.LoadInt64(&c.size)) }
