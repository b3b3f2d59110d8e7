package cache

// SQL schemas for cache tables. All tables share the same shape:
// cache_key is the primary key, expires_at (optional) is a source-declared
// hard expiry that overrides the caller's TTL.

// Cache table names.
const (
	FetchCacheTable  = "fetch_cache"
	SearchCacheTable = "search_cache"
	TokenCacheTable  = "token_cache"
)

// FetchCacheSchema holds raw downloader responses keyed by request signature.
const FetchCacheSchema = `
CREATE TABLE IF NOT EXISTS fetch_cache (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_fetch_cached_at ON fetch_cache(cached_at);
`

// SearchCacheSchema holds aggregated search fan-out results per query.
const SearchCacheSchema = `
CREATE TABLE IF NOT EXISTS search_cache (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_search_cached_at ON search_cache(cached_at);
`

// TokenCacheSchema holds short-lived auth tokens for sources that issue
// them; expires_at carries the token's own expiry.
const TokenCacheSchema = `
CREATE TABLE IF NOT EXISTS token_cache (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_token_cached_at ON token_cache(cached_at);
`

// AllSchemas contains every cache table schema for initialization.
var AllSchemas = []string{
	FetchCacheSchema,
	SearchCacheSchema,
	TokenCacheSchema,
}

// ValidTableNames is the whitelist of allowed cache table names, used to
// prevent SQL injection when interpolating table names.
var ValidTableNames = map[string]bool{
	FetchCacheTable:  true,
	SearchCacheTable: true,
	TokenCacheTable:  true,
}
