package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func editionContent(title string, lookups map[ids.Type]string) *model.CanonicalContent {
	c := model.NewCanonicalContent(model.KindEdition)
	c.Metadata["title"] = title
	for t, v := range lookups {
		c.LookupIDs[t] = v
	}
	return c
}

func TestCreateAndFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	content := editionContent("Hyperion", map[ids.Type]string{
		ids.ISBN:      "9780553283686",
		ids.Goodreads: "77566",
	})
	entity, err := store.CreateEntity(ctx, model.KindEdition, content)
	require.NoError(t, err)
	require.NotNil(t, entity)
	assert.Equal(t, model.KindEdition, entity.Kind)
	assert.Equal(t, "Hyperion", entity.Metadata.String("title"))
	assert.Len(t, entity.LookupIDs, 2)

	found, err := store.FindEntityByIdentifier(ctx, ids.ISBN, "9780553283686")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, entity.ID, found.ID)

	missing, err := store.FindEntityByIdentifier(ctx, ids.ISBN, "9780140328721")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateEntityResolvesIdentifierRace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	gtin := "0724385522918"
	first, err := store.CreateEntity(ctx, model.KindAlbum,
		editionContent("OK Computer", map[ids.Type]string{ids.GTIN: gtin}))
	require.NoError(t, err)

	// A second create claiming the same GTIN lands on the first entity
	// instead of creating a duplicate.
	second, err := store.CreateEntity(ctx, model.KindAlbum,
		editionContent("OK Computer (import)", map[ids.Type]string{
			ids.GTIN:               gtin,
			ids.MusicBrainzRelease: "18d4e9b4-9247-4b44-914c-8ddf1b4b03a2",
		}))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// The new identifier was attached to the surviving entity.
	byMBID, err := store.FindEntityByIdentifier(ctx, ids.MusicBrainzRelease, "18d4e9b4-9247-4b44-914c-8ddf1b4b03a2")
	require.NoError(t, err)
	require.NotNil(t, byMBID)
	assert.Equal(t, first.ID, byMBID.ID)
}

func TestAttachContentMergesWithoutLoss(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := editionContent("Hyperion", map[ids.Type]string{ids.Goodreads: "77566"})
	base.Metadata["pages"] = 482
	entity, err := store.CreateEntity(ctx, model.KindEdition, base)
	require.NoError(t, err)

	incoming := editionContent("Hyperion: A Different Title", map[ids.Type]string{ids.ISBN: "9780553283686"})
	incoming.Metadata["pub_house"] = "Spectra"
	merged, err := store.AttachContent(ctx, entity, incoming)
	require.NoError(t, err)

	// Populated fields survive, new fields and identifiers are admitted.
	assert.Equal(t, "Hyperion", merged.Metadata.String("title"))
	assert.Equal(t, 482, merged.Metadata.Int("pages"))
	assert.Equal(t, "Spectra", merged.Metadata.String("pub_house"))
	assert.Equal(t, "9780553283686", merged.LookupIDs[ids.ISBN])
	assert.Equal(t, "77566", merged.LookupIDs[ids.Goodreads])
}

func TestAttachContentUnionsLocalizedText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := editionContent("Kid A", map[ids.Type]string{ids.AppleMusic: "1097861387"})
	base.Metadata["localized_title"] = []model.LocalizedText{{Lang: "en", Text: "Kid A"}}
	entity, err := store.CreateEntity(ctx, model.KindAlbum, base)
	require.NoError(t, err)

	incoming := editionContent("", map[ids.Type]string{ids.GTIN: "0724385522918"})
	incoming.Metadata["localized_title"] = []model.LocalizedText{
		{Lang: "en", Text: "Kid A"},
		{Lang: "ja", Text: "キッドA"},
	}
	merged, err := store.AttachContent(ctx, entity, incoming)
	require.NoError(t, err)

	titles, ok := asLocalized(merged.Metadata["localized_title"])
	require.True(t, ok)
	assert.Equal(t, []model.LocalizedText{
		{Lang: "en", Text: "Kid A"},
		{Lang: "ja", Text: "キッドA"},
	}, titles)
}

func TestAttachContentKeepsExistingCover(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := editionContent("Covered", map[ids.Type]string{ids.Goodreads: "1"})
	base.Metadata["cover_path"] = "goodreads/2026/01/01/abc.jpg"
	entity, err := store.CreateEntity(ctx, model.KindEdition, base)
	require.NoError(t, err)
	assert.Equal(t, "goodreads/2026/01/01/abc.jpg", entity.CoverPath)

	incoming := editionContent("", map[ids.Type]string{ids.ISBN: "9780553283686"})
	incoming.Metadata["cover_path"] = "openlibrary/2026/02/02/def.jpg"
	merged, err := store.AttachContent(ctx, entity, incoming)
	require.NoError(t, err)
	assert.Equal(t, "goodreads/2026/01/01/abc.jpg", merged.CoverPath)
}

func TestMergeMetadata(t *testing.T) {
	existing := model.Metadata{"title": "Kept", "pages": 0, "author": []any{}}
	incoming := model.Metadata{"title": "Dropped", "pages": 100, "author": []string{"New Author"}, "extra": "added"}

	merged := mergeMetadata(existing, incoming)
	assert.Equal(t, "Kept", merged["title"])
	assert.Equal(t, "added", merged["extra"])
	assert.Equal(t, []string{"New Author"}, merged["author"])
	// Zero ints are values, not absence.
	assert.Equal(t, 0, merged["pages"])
}
