// Package cache provides a SQLite-backed key-value cache with per-entry
// TTLs. The fetch layer uses it to avoid re-downloading external
// resources; the search fan-out uses it to serve repeated queries.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/viper"
	_ "modernc.org/sqlite"
)

const (
	// MaxTTL caps how long any entry may be served, regardless of the
	// caller's TTL or a source-declared expiry.
	MaxTTL = 24 * time.Hour
	// DefaultTTL is used when no TTL is configured.
	DefaultTTL = 24 * time.Hour
)

// FetchFunc fetches a value from an external source on cache miss.
type FetchFunc[T any] func() (T, error)

// DB manages the SQLite connection backing the cache tables. It is safe
// for concurrent use; values are immutable JSON blobs with
// last-writer-wins semantics per key.
type DB struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Open opens (creating if needed) the cache database at path and ensures
// all cache tables exist.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to connect to cache database: %w", err), closeErr)
	}

	c := &DB{db: db, path: path}
	for _, schema := range AllSchemas {
		if _, err := db.Exec(schema); err != nil {
			closeErr := db.Close()
			return nil, errors.Join(fmt.Errorf("failed to create cache table: %w", err), closeErr)
		}
	}
	return c, nil
}

// OpenDefault opens the cache at the configured location (cache.dbfile).
func OpenDefault() (*DB, error) {
	path := viper.GetString("cache.dbfile")
	if path == "" {
		path = "./cache.db"
	}
	return Open(path)
}

// Close closes the database connection.
func (c *DB) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func validateTableName(table string) error {
	if !ValidTableNames[table] {
		return fmt.Errorf("invalid cache table name: %s", table)
	}
	return nil
}

// TTL returns the configured cache TTL (cache.ttl), capped at MaxTTL.
func TTL() time.Duration {
	ttlStr := viper.GetString("cache.ttl")
	if ttlStr == "" {
		return DefaultTTL
	}
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		slog.Warn("Invalid cache TTL, using default", "ttl", ttlStr, "error", err)
		return DefaultTTL
	}
	if ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}

// Get retrieves a cached value. An entry is served only while younger
// than ttl (capped at MaxTTL) and, when the entry carries its own expiry,
// only before that expiry.
func (c *DB) Get(table, key string, ttl time.Duration) (string, bool, error) {
	if err := validateTableName(table); err != nil {
		return "", false, err
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT data, cached_at, expires_at
		FROM %s
		WHERE cache_key = ?
	`, table)

	var data string
	var cachedAt time.Time
	var expiresAt sql.NullTime
	err := c.db.QueryRow(query, key).Scan(&data, &cachedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query cache: %w", err)
	}

	now := time.Now().UTC()
	if age := now.Sub(cachedAt); age > ttl {
		slog.Debug("Cache expired", "table", table, "key", key, "age", age)
		return "", false, nil
	}
	if expiresAt.Valid && now.After(expiresAt.Time) {
		slog.Debug("Cache entry past source expiry", "table", table, "key", key)
		return "", false, nil
	}

	return data, true, nil
}

// Set stores a value with no source-declared expiry.
func (c *DB) Set(table, key, data string) error {
	return c.set(table, key, data, nil)
}

// SetWithExpiry stores a value that must not be served after expiresAt,
// e.g. an auth token with a source-declared lifetime.
func (c *DB) SetWithExpiry(table, key, data string, expiresAt time.Time) error {
	t := expiresAt.UTC()
	return c.set(table, key, data, &t)
}

func (c *DB) set(table, key, data string, expiresAt *time.Time) error {
	if err := validateTableName(table); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (cache_key, data, cached_at, expires_at)
		VALUES (?, ?, CURRENT_TIMESTAMP, ?)
	`, table)

	var exp any
	if expiresAt != nil {
		exp = *expiresAt
	}
	if _, err := c.db.Exec(query, key, data, exp); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Invalidate deletes all entries from the given table and returns the
// number of rows removed.
func (c *DB) Invalidate(table string) (int64, error) {
	if err := validateTableName(table); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.db.Exec(fmt.Sprintf("DELETE FROM %s", table))
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache entries: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	slog.Debug("Cache table cleared", "table", table, "rows_deleted", rows)
	return rows, nil
}

// ClearExpired removes entries older than ttl from the given table.
func (c *DB) ClearExpired(table string, ttl time.Duration) error {
	if err := validateTableName(table); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().UTC().Add(-ttl)
	result, err := c.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE cached_at < ?", table), cutoff)
	if err != nil {
		return fmt.Errorf("failed to clear expired cache: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		slog.Info("Cleared expired cache entries", "table", table, "count", rows)
	}
	return nil
}

// Exists reports whether an entry is present for key, expired or not.
func (c *DB) Exists(table, key string) bool {
	if err := validateTableName(table); err != nil {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var one int
	err := c.db.QueryRow(fmt.Sprintf("SELECT 1 FROM %s WHERE cache_key = ? LIMIT 1", table), key).Scan(&one)
	return err == nil
}

// GetOrFetch retrieves a JSON-encoded value from cache, falling back to
// fetch on miss or expiry. The fetched value is cached best-effort; a
// cache write failure never fails the fetch. Returns the value and
// whether it was served from cache.
func GetOrFetch[T any](c *DB, table, key string, ttl time.Duration, fetch FetchFunc[T]) (T, bool, error) {
	return getOrFetch(c, table, key, ttl, fetch, nil)
}

// GetOrFetchWithPolicy behaves like GetOrFetch but only caches fetched
// values for which shouldCache returns true (e.g. skip empty search
// results so a transient miss is retried next time).
func GetOrFetchWithPolicy[T any](c *DB, table, key string, ttl time.Duration, fetch FetchFunc[T], shouldCache func(T) bool) (T, bool, error) {
	return getOrFetch(c, table, key, ttl, fetch, shouldCache)
}

func getOrFetch[T any](c *DB, table, key string, ttl time.Duration, fetch FetchFunc[T], shouldCache func(T) bool) (T, bool, error) {
	var zero T

	if c == nil {
		// No cache wired in: fetch directly.
		data, err := fetch()
		return data, false, err
	}

	cached, fromCache, err := c.Get(table, key, ttl)
	if err == nil && fromCache {
		var result T
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			slog.Debug("Cache hit", "table", table, "key", key)
			return result, true, nil
		}
		slog.Warn("Failed to unmarshal cached data, will refetch", "table", table, "key", key, "error", err)
	}

	slog.Debug("Cache miss, fetching data", "table", table, "key", key)
	data, err := fetch()
	if err != nil {
		return zero, false, err
	}

	if shouldCache != nil && !shouldCache(data) {
		slog.Debug("Skipping cache store per policy", "table", table, "key", key)
		return data, false, nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Warn("Failed to marshal data for caching", "table", table, "key", key, "error", err)
		return data, false, nil
	}
	if err := c.Set(table, key, string(jsonData)); err != nil {
		slog.Warn("Failed to cache data", "table", table, "key", key, "error", err)
	}
	return data, false, nil
}
