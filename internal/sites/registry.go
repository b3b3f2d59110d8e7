package sites

import (
	"fmt"
	"regexp"

	"github.com/plahtine/janus/internal/cache"
	"github.com/plahtine/janus/internal/fetch"
	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
)

// Registry maps identifier types and URLs to site plugins. It is built
// once at startup and immutable afterwards, so lookups need no locking.
type Registry struct {
	ordered  []Site
	byIDType map[ids.Type]Site
}

// NewRegistry builds a registry from the given sites. Registering two
// sites for the same identifier type is a programming error and panics.
func NewRegistry(sites ...Site) *Registry {
	r := &Registry{byIDType: make(map[ids.Type]Site, len(sites))}
	for _, s := range sites {
		desc := s.Descriptor()
		if _, dup := r.byIDType[desc.IDType]; dup {
			panic(fmt.Sprintf("duplicate site registration for id type %q", desc.IDType))
		}
		r.byIDType[desc.IDType] = s
		r.ordered = append(r.ordered, s)
	}
	return r
}

// ByIDType returns the site handling the identifier type, if any.
func (r *Registry) ByIDType(t ids.Type) (Site, bool) {
	s, ok := r.byIDType[t]
	return s, ok
}

// ByURL returns the first registered site whose patterns match the URL,
// along with the extracted identifier value.
func (r *Registry) ByURL(url string) (Site, string, bool) {
	for _, s := range r.ordered {
		if id, ok := URLToID(s.Descriptor(), url); ok {
			return s, id, true
		}
	}
	return nil, "", false
}

// Sites returns all registered sites in registration order.
func (r *Registry) Sites() []Site {
	out := make([]Site, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// SitesForSearch returns the searchable sites serving the category, in
// registration order.
func (r *Registry) SitesForSearch(category model.Category) []Searcher {
	var out []Searcher
	for _, s := range r.ordered {
		searcher, ok := s.(Searcher)
		if !ok {
			continue
		}
		if s.Descriptor().Category.Matches(category) {
			out = append(out, searcher)
		}
	}
	return out
}

var (
	guessOLBookRe = regexp.MustCompile(`^OL\d+M$`)
	guessOLWorkRe = regexp.MustCompile(`^OL\d+W$`)
	guessIMDBRe   = regexp.MustCompile(`^tt\d+$`)
	guessMBIDRe   = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)
)

// GuessIDType classifies a bare identifier by shape. Shapes unique to one
// scheme (OpenLibrary OL...M/OL...W, IMDb tt..., MusicBrainz UUIDs) are
// matched directly; everything else falls through to ids.Detect. A
// MusicBrainz UUID is assumed to be a release, the more common permalink.
func GuessIDType(raw string) (ids.Type, string, bool) {
	v := raw
	switch {
	case guessOLBookRe.MatchString(v):
		return ids.OpenLibrary, v, true
	case guessOLWorkRe.MatchString(v):
		return ids.OpenLibraryWork, v, true
	case guessIMDBRe.MatchString(v):
		return ids.IMDB, v, true
	case guessMBIDRe.MatchString(v):
		norm, err := ids.Normalize(ids.MusicBrainzRelease, v)
		if err != nil {
			return "", "", false
		}
		return ids.MusicBrainzRelease, norm, true
	}
	return ids.Detect(raw)
}

// Deps carries the collaborators plugins need. Renderer may be nil when
// no headless browser is available; plugins then skip render fallbacks.
type Deps struct {
	Downloader fetch.Downloader
	Renderer   fetch.Downloader
}

// DefaultDeps builds the production downloader stack: retry over cache
// over plain HTTP, plus a headless renderer.
func DefaultDeps(db *cache.DB) Deps {
	return Deps{
		Downloader: fetch.NewRetry(fetch.NewCached(fetch.NewBasic(), db)),
		Renderer:   fetch.NewRendered(),
	}
}

// Default builds the production registry.
func Default(deps Deps) *Registry {
	return NewRegistry(
		NewOpenLibrary(deps),
		NewOpenLibraryWork(deps),
		NewMusicBrainzRelease(deps),
		NewMusicBrainzReleaseGroup(deps),
		NewAppleMusic(deps),
		NewGoodreads(deps),
		NewGoodreadsWork(deps),
	)
}
