package prompt

import (
	"context"

	"github.com/crosstrails/crosstrails/pkg/cache"
	"github.com/crosstrails/crosstrails/pkg/models"
)

// CachedFetcher memoises another VerseFetcher under the verse_context operation.
type CachedFetcher struct {
	next  VerseFetcher
	cache *cache.Cache
}

// NewCachedFetcher wraps next with c.
func NewCachedFetcher(next VerseFetcher, c *cache.Cache) *CachedFetcher {
	return &CachedFetcher{next: next, cache: c}
}

// VerseContext implements VerseFetcher.
func (f *CachedFetcher) VerseContext(ctx context.Context, ref string, contextRange int) (*models.VerseContext, error) {
	params := map[string]any{"reference": ref, "context_range": contextRange}
	return cache.GetOrSet(ctx, f.cache, cache.OpVerseContext, params, func(ctx context.Context) (*models.VerseContext, error) {
		return f.next.VerseContext(ctx, ref, contextRange)
	})
}
