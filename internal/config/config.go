// Package config holds engine-wide configuration backed by viper.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultUserAgent identifies the engine to external sources.
const DefaultUserAgent = "janus/1.0 (+https://github.com/plahtine/janus)"

// SetDefaults registers every configuration default. Call once before
// reading config.
func SetDefaults() {
	viper.SetDefault("cache.dbfile", "./cache.db")
	viper.SetDefault("cache.ttl", "24h")

	viper.SetDefault("catalog.dbfile", "./catalog.db")
	viper.SetDefault("covers.dir", "./covers")

	viper.SetDefault("downloader.timeout", "15s")
	viper.SetDefault("downloader.retries", 3)
	viper.SetDefault("downloader.useragent", DefaultUserAgent)

	viper.SetDefault("languages.preferred", []string{"en"})
	viper.SetDefault("languages.default", "en")

	viper.SetDefault("search.timeout", "5s")
	viper.SetDefault("search.pagesize", 10)
}

// UserAgent returns the configured downloader User-Agent.
func UserAgent() string {
	if ua := viper.GetString("downloader.useragent"); ua != "" {
		return ua
	}
	return DefaultUserAgent
}

// DownloadTimeout returns the per-request fetch timeout.
func DownloadTimeout() time.Duration {
	if d := viper.GetDuration("downloader.timeout"); d > 0 {
		return d
	}
	return 15 * time.Second
}

// DownloadRetries returns how many attempts a retrying downloader makes.
func DownloadRetries() int {
	if n := viper.GetInt("downloader.retries"); n > 0 {
		return n
	}
	return 3
}

// PreferredLanguages returns the ordered language list for the locale
// waterfall.
func PreferredLanguages() []string {
	if langs := viper.GetStringSlice("languages.preferred"); len(langs) > 0 {
		return langs
	}
	return []string{"en"}
}

// DefaultLanguage returns the site default language; results fetched in
// it are authoritative in the locale waterfall.
func DefaultLanguage() string {
	if lang := viper.GetString("languages.default"); lang != "" {
		return lang
	}
	return "en"
}

// SearchTimeout returns the per-source timeout for the search fan-out.
func SearchTimeout() time.Duration {
	if d := viper.GetDuration("search.timeout"); d > 0 {
		return d
	}
	return 5 * time.Second
}

// SearchPageSize returns the default page size per source.
func SearchPageSize() int {
	if n := viper.GetInt("search.pagesize"); n > 0 {
		return n
	}
	return 10
}
