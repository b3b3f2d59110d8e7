package cache

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSetAndGet(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Set("fetch_cache", "https://example.test/a", `{"ok":true}`))

	data, hit, err := db.Get("fetch_cache", "https://example.test/a", time.Hour)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `{"ok":true}`, data)

	_, hit, err = db.Get("fetch_cache", "https://example.test/missing", time.Hour)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGetRejectsUnknownTable(t *testing.T) {
	db := newTestDB(t)

	_, _, err := db.Get("users; DROP TABLE", "k", time.Hour)
	assert.Error(t, err)

	err = db.Set("nope_cache", "k", "v")
	assert.Error(t, err)
}

func TestExpiredEntryIsMiss(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Set("fetch_cache", "k", "v"))

	// zero TTL means everything already expired
	_, hit, err := db.Get("fetch_cache", "k", 0)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSourceDeclaredExpiryWins(t *testing.T) {
	db := newTestDB(t)

	// token already past its declared expiry must not be served even
	// within the caller's TTL
	require.NoError(t, db.SetWithExpiry("token_cache", "tok", "v", time.Now().Add(-time.Minute)))
	_, hit, err := db.Get("token_cache", "tok", time.Hour)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, db.SetWithExpiry("token_cache", "tok2", "v", time.Now().Add(time.Hour)))
	_, hit, err = db.Get("token_cache", "tok2", time.Hour)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestInvalidate(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Set("search_cache", "a", "1"))
	require.NoError(t, db.Set("search_cache", "b", "2"))

	rows, err := db.Invalidate("search_cache")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)
	assert.False(t, db.Exists("search_cache", "a"))
}

type payload struct {
	Title string `json:"title"`
}

func TestGetOrFetch(t *testing.T) {
	db := newTestDB(t)

	calls := 0
	fetch := func() (payload, error) {
		calls++
		return payload{Title: "Kid A"}, nil
	}

	got, fromCache, err := GetOrFetch(db, "fetch_cache", "k", time.Hour, fetch)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, "Kid A", got.Title)
	assert.Equal(t, 1, calls)

	got, fromCache, err = GetOrFetch(db, "fetch_cache", "k", time.Hour, fetch)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, "Kid A", got.Title)
	assert.Equal(t, 1, calls, "second call must be served from cache")
}

func TestGetOrFetchPropagatesError(t *testing.T) {
	db := newTestDB(t)

	wantErr := errors.New("boom")
	_, _, err := GetOrFetch(db, "fetch_cache", "k", time.Hour, func() (payload, error) {
		return payload{}, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestGetOrFetchWithPolicySkipsCaching(t *testing.T) {
	db := newTestDB(t)

	calls := 0
	fetch := func() ([]string, error) {
		calls++
		return nil, nil
	}
	notEmpty := func(v []string) bool { return len(v) > 0 }

	_, _, err := GetOrFetchWithPolicy(db, "search_cache", "q", time.Hour, fetch, notEmpty)
	require.NoError(t, err)
	_, fromCache, err := GetOrFetchWithPolicy(db, "search_cache", "q", time.Hour, fetch, notEmpty)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, 2, calls, "empty results are not cached")
}

func TestGetOrFetchNilDBFetchesDirectly(t *testing.T) {
	got, fromCache, err := GetOrFetch[payload](nil, "fetch_cache", "k", time.Hour, func() (payload, error) {
		return payload{Title: "OK Computer"}, nil
	})
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, "OK Computer", got.Title)
}

func TestTTLConfig(t *testing.T) {
	viper.Set("cache.ttl", "2h")
	t.Cleanup(func() { viper.Set("cache.ttl", "") })
	assert.Equal(t, 2*time.Hour, TTL())

	viper.Set("cache.ttl", "720h")
	assert.Equal(t, MaxTTL, TTL(), "TTL is capped at 24h")

	viper.Set("cache.ttl", "bogus")
	assert.Equal(t, DefaultTTL, TTL())
}
