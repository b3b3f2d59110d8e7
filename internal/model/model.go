// Package model defines the canonical intermediate form produced by site
// plugins: normalized metadata, validated lookup identifiers, optional
// cover bytes and references to other external resources.
package model

import (
	"fmt"

	"github.com/plahtine/janus/internal/ids"
)

// EntityKind names the canonical catalog entity a resource maps to.
type EntityKind string

const (
	KindEdition  EntityKind = "edition"
	KindWork     EntityKind = "work"
	KindAlbum    EntityKind = "album"
	KindMovie    EntityKind = "movie"
	KindTVShow   EntityKind = "tvshow"
	KindTVSeason EntityKind = "tvseason"
	KindGame     EntityKind = "game"
	KindPodcast  EntityKind = "podcast"
	KindUnknown  EntityKind = "unknown"
)

// Category groups sites and search results by media type.
type Category string

const (
	CategoryBook    Category = "book"
	CategoryMovie   Category = "movie"
	CategoryTV      Category = "tv"
	CategoryMusic   Category = "music"
	CategoryGame    Category = "game"
	CategoryPodcast Category = "podcast"
	CategoryAll     Category = "all"
)

// Matches reports whether a site of category c should serve a search
// restricted to want. The "all" filter matches every category.
func (c Category) Matches(want Category) bool {
	return want == CategoryAll || want == "" || c == want
}

// LocalizedText is one localized variant of a title or description.
type LocalizedText struct {
	Lang string `json:"lang"`
	Text string `json:"text"`
}

// UniqLocalized removes duplicate (lang, text) pairs, keeping first-seen
// order. The locale waterfall unions titles across locales and relies on
// this for dedup.
func UniqLocalized(in []LocalizedText) []LocalizedText {
	seen := make(map[LocalizedText]struct{}, len(in))
	out := make([]LocalizedText, 0, len(in))
	for _, lt := range in {
		if lt.Text == "" {
			continue
		}
		if _, ok := seen[lt]; ok {
			continue
		}
		seen[lt] = struct{}{}
		out = append(out, lt)
	}
	return out
}

// Metadata holds normalized fields keyed by stable canonical names
// ("title", "author", "duration", "pages", ...). Field schemas vary by
// entity kind but names are stable across sources.
type Metadata map[string]any

// String returns the string value under key, or "" when absent or not a
// string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Int returns the integer value under key, tolerating the numeric types
// JSON decoding produces.
func (m Metadata) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// RelationKind tags a ResourceRef as blocking or best-effort.
type RelationKind string

const (
	// RelationRequired marks a reference the parent entity cannot be
	// fully formed without, e.g. an edition's work.
	RelationRequired RelationKind = "required"
	// RelationRelated marks an optional enrichment, e.g. a work's other
	// editions.
	RelationRelated RelationKind = "related"
)

// ResourceRef points at another external resource discovered while
// parsing a source's payload.
type ResourceRef struct {
	Relation RelationKind `json:"relation"`
	IDType   ids.Type     `json:"id_type"`
	IDValue  string       `json:"id_value"`
	URL      string       `json:"url,omitempty"`
}

func (r ResourceRef) String() string {
	return fmt.Sprintf("%s:%s (%s)", r.IDType, r.IDValue, r.Relation)
}

// Key is the identifier key used by the resolver's in-progress set.
func (r ResourceRef) Key() string {
	return string(r.IDType) + ":" + r.IDValue
}

// CanonicalContent is the normalized output of one successful parse.
// Plugins return it fresh per resolution attempt and callers must treat
// it as immutable afterwards.
type CanonicalContent struct {
	Kind       EntityKind          `json:"kind"`
	Metadata   Metadata            `json:"metadata"`
	LookupIDs  map[ids.Type]string `json:"lookup_ids"`
	CoverImage []byte              `json:"-"`
	CoverExt   string              `json:"-"`
	Refs       []ResourceRef       `json:"refs,omitempty"`
}

// NewCanonicalContent returns content of the given kind with empty maps
// ready to fill.
func NewCanonicalContent(kind EntityKind) *CanonicalContent {
	return &CanonicalContent{
		Kind:      kind,
		Metadata:  Metadata{},
		LookupIDs: map[ids.Type]string{},
	}
}

// AddLookupID normalizes and validates an identifier before admitting it
// as a dedup key. Invalid values are rejected with the underlying
// validation error so plugins cannot leak untrusted keys.
func (c *CanonicalContent) AddLookupID(t ids.Type, value string) error {
	v, err := ids.Normalize(t, value)
	if err != nil {
		return err
	}
	c.LookupIDs[t] = v
	return nil
}

// RequiredRefs returns the references that must resolve before the parent
// is complete.
func (c *CanonicalContent) RequiredRefs() []ResourceRef {
	return c.refsByRelation(RelationRequired)
}

// RelatedRefs returns the best-effort references.
func (c *CanonicalContent) RelatedRefs() []ResourceRef {
	return c.refsByRelation(RelationRelated)
}

func (c *CanonicalContent) refsByRelation(k RelationKind) []ResourceRef {
	var out []ResourceRef
	for _, r := range c.Refs {
		if r.Relation == k {
			out = append(out, r)
		}
	}
	return out
}

// SearchResultItem is a lightweight summary from one source's search.
type SearchResultItem struct {
	Category Category `json:"category"`
	SiteName string   `json:"site"`
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	Brief    string   `json:"brief,omitempty"`
	CoverURL string   `json:"cover_url,omitempty"`
}
