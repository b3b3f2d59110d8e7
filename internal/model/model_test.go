package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plahtine/janus/internal/ids"
)

func TestUniqLocalized(t *testing.T) {
	in := []LocalizedText{
		{Lang: "en", Text: "Nevermind"},
		{Lang: "en", Text: "Nevermind"},
		{Lang: "ja", Text: "ネヴァーマインド"},
		{Lang: "en", Text: ""},
		{Lang: "en-GB", Text: "Nevermind"},
	}
	got := UniqLocalized(in)
	require.Len(t, got, 3)
	assert.Equal(t, "en", got[0].Lang)
	assert.Equal(t, "ja", got[1].Lang)
	assert.Equal(t, "en-GB", got[2].Lang)
}

func TestAddLookupIDValidates(t *testing.T) {
	c := NewCanonicalContent(KindEdition)

	require.NoError(t, c.AddLookupID(ids.ISBN, "0-7475-3269-9"))
	assert.Equal(t, "9780747532699", c.LookupIDs[ids.ISBN])

	err := c.AddLookupID(ids.GTIN, "90724385522918")
	var verr *ids.ValidationError
	require.ErrorAs(t, err, &verr)
	_, present := c.LookupIDs[ids.GTIN]
	assert.False(t, present, "invalid id must never become a dedup key")
}

func TestRefsByRelation(t *testing.T) {
	c := NewCanonicalContent(KindEdition)
	c.Refs = []ResourceRef{
		{Relation: RelationRequired, IDType: ids.OpenLibraryWork, IDValue: "OL45883W"},
		{Relation: RelationRelated, IDType: ids.OpenLibrary, IDValue: "OL7353617M"},
	}

	req := c.RequiredRefs()
	require.Len(t, req, 1)
	assert.Equal(t, "OL45883W", req[0].IDValue)
	assert.Equal(t, "openlibrary_work:OL45883W", req[0].Key())

	rel := c.RelatedRefs()
	require.Len(t, rel, 1)
	assert.Equal(t, "OL7353617M", rel[0].IDValue)
}

func TestCategoryMatches(t *testing.T) {
	assert.True(t, CategoryMusic.Matches(CategoryAll))
	assert.True(t, CategoryMusic.Matches(CategoryMusic))
	assert.True(t, CategoryMusic.Matches(""))
	assert.False(t, CategoryMusic.Matches(CategoryBook))
}

func TestMetadataAccessors(t *testing.T) {
	m := Metadata{"title": "Kid A", "pages": float64(304), "duration": 2521000}
	assert.Equal(t, "Kid A", m.String("title"))
	assert.Equal(t, "", m.String("missing"))
	assert.Equal(t, 304, m.Int("pages"))
	assert.Equal(t, 2521000, m.Int("duration"))
	assert.Equal(t, 0, m.Int("title"))
}
