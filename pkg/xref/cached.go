package xref

import (
	"context"

	"github.com/crosstrails/crosstrails/pkg/cache"
)

// Cached memoises another Source under the cross_reference operation.
type Cached struct {
	next  Source
	cache *cache.Cache
}

// NewCached wraps next with c.
func NewCached(next Source, c *cache.Cache) *Cached {
	return &Cached{next: next, cache: c}
}

// Lookup implements Source.
func (c *Cached) Lookup(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	params := map[string]any{"action": "lookup", "request": req}
	return cache.GetOrSet(ctx, c.cache, cache.OpCrossReference, params, func(ctx context.Context) (*LookupResult, error) {
		return c.next.Lookup(ctx, req)
	})
}

// Connections implements Source.
func (c *Cached) Connections(ctx context.Context, req ConnectionRequest) ([][]Connection, error) {
	params := map[string]any{"action": "connections", "request": req}
	return cache.GetOrSet(ctx, c.cache, cache.OpCrossReference, params, func(ctx context.Context) ([][]Connection, error) {
		return c.next.Connections(ctx, req)
	})
}
