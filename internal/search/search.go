// Package search fans a query out to every searchable source at once and
// aggregates whatever comes back in time. A slow or broken source costs
// its own results only, never the whole search.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plahtine/janus/internal/cache"
	"github.com/plahtine/janus/internal/config"
	"github.com/plahtine/janus/internal/model"
	"github.com/plahtine/janus/internal/sites"
)

// resultTTL keeps aggregated results just long enough to serve repeated
// pagination of the same query.
const resultTTL = 5 * time.Minute

// maxQueryLength guards against abusive inputs.
const maxQueryLength = 100

// Fanout runs concurrent searches across the registry's sources.
type Fanout struct {
	registry *sites.Registry
	db       *cache.DB
	timeout  time.Duration
	pageSize int
}

// New returns a fan-out with the configured per-source timeout and page
// size. db may be nil to disable result caching.
func New(registry *sites.Registry, db *cache.DB) *Fanout {
	return &Fanout{
		registry: registry,
		db:       db,
		timeout:  config.SearchTimeout(),
		pageSize: config.SearchPageSize(),
	}
}

// Search queries every source serving the category and concatenates
// their results in registry order. Sources that error, time out or panic
// contribute nothing. Empty queries, out-of-range pages and over-long
// queries return nil without touching the network.
func (f *Fanout) Search(ctx context.Context, query string, category model.Category, page int) []model.SearchResultItem {
	if query == "" || page < 1 || len(query) > maxQueryLength {
		return nil
	}

	key := fmt.Sprintf("%s|%s|%d", category, query, page)
	results, fromCache, err := cache.GetOrFetchWithPolicy(f.db, cache.SearchCacheTable, key, resultTTL,
		func() ([]model.SearchResultItem, error) {
			return f.fanout(ctx, query, category, page), nil
		},
		func(items []model.SearchResultItem) bool {
			// An empty aggregate may be a transient outage; retry next time.
			return len(items) > 0
		})
	if err != nil {
		return nil
	}
	if fromCache {
		slog.Debug("search served from cache", "query", query, "category", category, "page", page)
	}
	return results
}

func (f *Fanout) fanout(ctx context.Context, query string, category model.Category, page int) []model.SearchResultItem {
	sources := f.registry.SitesForSearch(category)
	if len(sources) == 0 {
		return nil
	}

	perSource := make([][]model.SearchResultItem, len(sources))
	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("search source panicked", "site", source.Descriptor().Name, "panic", r)
				}
			}()

			sctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()

			items, err := source.Search(sctx, query, page, f.pageSize)
			if err != nil {
				slog.Warn("search source failed", "site", source.Descriptor().Name, "query", query, "error", err)
				return
			}
			perSource[i] = items
		}()
	}
	wg.Wait()

	var out []model.SearchResultItem
	for _, items := range perSource {
		out = append(out, items...)
	}
	return out
}
