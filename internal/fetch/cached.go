package fetch

import (
	"context"
	"time"

	"github.com/plahtine/janus/internal/cache"
)

// Cached serves downloads from the fetch_cache table before reaching the
// network. Only successful responses are stored; the TTL is capped by
// cache.MaxTTL. A nil DB disables caching entirely.
type Cached struct {
	Next Downloader
	DB   *cache.DB
	TTL  time.Duration
}

// NewCached wraps next with the configured cache TTL.
func NewCached(next Downloader, db *cache.DB) *Cached {
	return &Cached{Next: next, DB: db, TTL: cache.TTL()}
}

func (c *Cached) Download(ctx context.Context, req Request) (*Response, error) {
	resp, _, err := cache.GetOrFetch(c.DB, cache.FetchCacheTable, req.CacheKey(), c.TTL, func() (*Response, error) {
		return c.Next.Download(ctx, req)
	})
	return resp, err
}
