package search

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plahtine/janus/internal/cache"
	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
	"github.com/plahtine/janus/internal/sites"
)

// fakeSource is a scriptable Searcher.
type fakeSource struct {
	name     string
	idType   ids.Type
	category model.Category
	search   func(ctx context.Context, q string, page, pageSize int) ([]model.SearchResultItem, error)
	calls    atomic.Int32
}

func (f *fakeSource) Descriptor() sites.Descriptor {
	return sites.Descriptor{
		Name:        f.name,
		IDType:      f.idType,
		URLPatterns: []*regexp.Regexp{regexp.MustCompile(`^https://` + f.name + `\.test/(\w+)$`)},
		Category:    f.category,
	}
}

func (f *fakeSource) IDToURL(id string) string { return fmt.Sprintf("https://%s.test/%s", f.name, id) }

func (f *fakeSource) Scrape(context.Context, string) (*model.CanonicalContent, error) {
	return nil, &sites.ParseError{Site: f.name, Msg: "not scrapable"}
}

func (f *fakeSource) Search(ctx context.Context, q string, page, pageSize int) ([]model.SearchResultItem, error) {
	f.calls.Add(1)
	return f.search(ctx, q, page, pageSize)
}

func itemsNamed(site string, titles ...string) func(context.Context, string, int, int) ([]model.SearchResultItem, error) {
	return func(context.Context, string, int, int) ([]model.SearchResultItem, error) {
		var out []model.SearchResultItem
		for _, title := range titles {
			out = append(out, model.SearchResultItem{SiteName: site, Title: title})
		}
		return out, nil
	}
}

func newFanout(db *cache.DB, sources ...sites.Site) *Fanout {
	f := New(sites.NewRegistry(sources...), db)
	f.timeout = 200 * time.Millisecond
	f.pageSize = 10
	return f
}

func TestSearchQueryGuards(t *testing.T) {
	source := &fakeSource{name: "a", idType: ids.Goodreads, category: model.CategoryBook,
		search: itemsNamed("a", "hit")}
	f := newFanout(nil, source)
	ctx := context.Background()

	assert.Nil(t, f.Search(ctx, "", model.CategoryAll, 1))
	assert.Nil(t, f.Search(ctx, "dune", model.CategoryAll, 0))
	assert.Nil(t, f.Search(ctx, strings.Repeat("x", 101), model.CategoryAll, 1))
	assert.Equal(t, int32(0), source.calls.Load())
}

func TestSearchAggregatesInRegistryOrder(t *testing.T) {
	a := &fakeSource{name: "a", idType: ids.Goodreads, category: model.CategoryBook,
		search: itemsNamed("a", "A1", "A2")}
	b := &fakeSource{name: "b", idType: ids.OpenLibrary, category: model.CategoryBook,
		search: itemsNamed("b", "B1")}
	f := newFanout(nil, a, b)

	results := f.Search(context.Background(), "dune", model.CategoryBook, 1)
	require.Len(t, results, 3)
	assert.Equal(t, "A1", results[0].Title)
	assert.Equal(t, "A2", results[1].Title)
	assert.Equal(t, "B1", results[2].Title)
}

func TestSearchCategoryFilter(t *testing.T) {
	book := &fakeSource{name: "book", idType: ids.Goodreads, category: model.CategoryBook,
		search: itemsNamed("book", "B")}
	music := &fakeSource{name: "music", idType: ids.MusicBrainzRelease, category: model.CategoryMusic,
		search: itemsNamed("music", "M")}
	f := newFanout(nil, book, music)

	results := f.Search(context.Background(), "dune", model.CategoryMusic, 1)
	require.Len(t, results, 1)
	assert.Equal(t, "M", results[0].Title)
	assert.Equal(t, int32(0), book.calls.Load())
}

func TestSearchIsolatesFailingSource(t *testing.T) {
	healthy := &fakeSource{name: "healthy", idType: ids.Goodreads, category: model.CategoryBook,
		search: itemsNamed("healthy", "ok")}
	broken := &fakeSource{name: "broken", idType: ids.OpenLibrary, category: model.CategoryBook,
		search: func(context.Context, string, int, int) ([]model.SearchResultItem, error) {
			return nil, fmt.Errorf("boom")
		}}
	panicky := &fakeSource{name: "panicky", idType: ids.GoodreadsWork, category: model.CategoryBook,
		search: func(context.Context, string, int, int) ([]model.SearchResultItem, error) {
			panic("unexpected")
		}}
	f := newFanout(nil, healthy, broken, panicky)

	results := f.Search(context.Background(), "dune", model.CategoryBook, 1)
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Title)
}

func TestSearchTimeoutBoundsSlowSource(t *testing.T) {
	fast1 := &fakeSource{name: "fast1", idType: ids.Goodreads, category: model.CategoryBook,
		search: itemsNamed("fast1", "F1")}
	fast2 := &fakeSource{name: "fast2", idType: ids.OpenLibrary, category: model.CategoryBook,
		search: itemsNamed("fast2", "F2")}
	slow := &fakeSource{name: "slow", idType: ids.GoodreadsWork, category: model.CategoryBook,
		search: func(ctx context.Context, _ string, _, _ int) ([]model.SearchResultItem, error) {
			select {
			case <-time.After(5 * time.Second):
				return itemsNamed("slow", "S")(ctx, "", 0, 0)
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}}
	f := newFanout(nil, fast1, slow, fast2)

	start := time.Now()
	results := f.Search(context.Background(), "dune", model.CategoryBook, 1)
	elapsed := time.Since(start)

	require.Len(t, results, 2)
	assert.Equal(t, "F1", results[0].Title)
	assert.Equal(t, "F2", results[1].Title)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestSearchCachesAggregatedResults(t *testing.T) {
	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	source := &fakeSource{name: "a", idType: ids.Goodreads, category: model.CategoryBook,
		search: itemsNamed("a", "hit")}
	f := newFanout(db, source)
	ctx := context.Background()

	first := f.Search(ctx, "dune", model.CategoryBook, 1)
	second := f.Search(ctx, "dune", model.CategoryBook, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), source.calls.Load())

	// A different page is a different cache entry.
	f.Search(ctx, "dune", model.CategoryBook, 2)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestSearchDoesNotCacheEmptyAggregate(t *testing.T) {
	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	source := &fakeSource{name: "a", idType: ids.Goodreads, category: model.CategoryBook,
		search: func(context.Context, string, int, int) ([]model.SearchResultItem, error) {
			return nil, fmt.Errorf("outage")
		}}
	f := newFanout(db, source)
	ctx := context.Background()

	assert.Empty(t, f.Search(ctx, "dune", model.CategoryBook, 1))
	assert.Empty(t, f.Search(ctx, "dune", model.CategoryBook, 1))
	// Both calls hit the source: the empty aggregate was not cached.
	assert.Equal(t, int32(2), source.calls.Load())
}
